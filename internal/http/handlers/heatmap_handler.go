package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeatmapResponse maps country codes to entry counts.
type HeatmapResponse struct {
	Success bool             `json:"success" example:"true"`
	Counts  map[string]int64 `json:"counts"`
}

// GetHeatmap godoc
// @ID          getHeatmap
// @Summary     Count entries per country
// @Description Sums over all countries equal the unfiltered listing total for the same window and dimension.
// @Tags        Entries
// @Produce     json
// @Param       slug       path   string  true  "Place slug"
// @Param       window     query  string  false "all (default), today or month"
// @Param       dimension  query  string  false "subject (default) or origin"
// @Success     200  {object}  handlers.HeatmapResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /places/{slug}/heatmap [get]
func (h *Handlers) GetHeatmap(c *gin.Context) {
	counts, err := h.reader.Heatmap(c.Request.Context(), c.Param("slug"), c.Query("window"), c.Query("dimension"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, HeatmapResponse{Success: true, Counts: counts})
}
