// Entry HTTP handlers.
//
// Submitting an entry is the only write in the API. The access code travels
// in the body; an optional Idempotency-Key makes retries safe: a retry with
// the same key and code answers 200 with the original submission id and
// `Idempotency-Replayed: true` instead of spending quota again.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/http/middleware"
	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/utils"
)

// SubmitEntryRequest is the JSON body of POST /places/{slug}/entries.
type SubmitEntryRequest struct {
	AccessCode        string  `json:"access_code" example:"ABC123"`
	CountryCode       string  `json:"country_code" example:"FR"`
	CountryName       string  `json:"country_name" example:"France"`
	AuthorCountryCode string  `json:"author_country_code,omitempty" example:"DE"`
	AuthorCountryName string  `json:"author_country_name,omitempty" example:"Germany"`
	AuthorName        string  `json:"author_name" example:"Ana"`
	AuthorAge         *int    `json:"author_age,omitempty" example:"31"`
	Body              *string `json:"body,omitempty" example:"Sunrise over the Saône."`
	MediaURL          *string `json:"media_url,omitempty" example:"https://way.example/media/alice/01HZY8J5QK3V7W9X2M4N6P8R0T.jpg"`
}

func (r SubmitEntryRequest) payload() services.EntryPayload {
	return services.EntryPayload{
		CountryCode:       r.CountryCode,
		CountryName:       r.CountryName,
		AuthorCountryCode: r.AuthorCountryCode,
		AuthorCountryName: r.AuthorCountryName,
		AuthorName:        r.AuthorName,
		AuthorAge:         r.AuthorAge,
		Body:              r.Body,
		MediaURL:          r.MediaURL,
	}
}

// SubmitEntryResponse reports the created submission.
type SubmitEntryResponse struct {
	Success      bool   `json:"success" example:"true"`
	SubmissionID string `json:"submission_id" example:"3f1c2a7e-0a43-4a55-9a0a-0b9d1e5b7c11"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListEntriesResponse is one page of entries.
type ListEntriesResponse struct {
	Success    bool                `json:"success" example:"true"`
	Items      []domain.Submission `json:"items"`
	TotalCount int64               `json:"total_count"`
	Pagination Pagination          `json:"pagination"`
}

// EntryResponse wraps a single entry.
type EntryResponse struct {
	Success bool               `json:"success" example:"true"`
	Item    *domain.Submission `json:"item"`
}

// SubmitEntry godoc
// @ID          submitEntry
// @Summary     Submit an entry with an access code
// @Description Validates the access code and, if it is usable, stores the entry and spends one use, atomically.
// @Description Checks run in order: place, code exists, active, not expired, under limit, payload.
// @Tags        Entries
// @Accept      json
// @Produce     json
// @Param       slug             path    string  true  "Place slug"  example(alice)
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       body             body    handlers.SubmitEntryRequest  true  "Entry"
// @Success     201  {object}  handlers.SubmitEntryResponse
// @Success     200  {object}  handlers.SubmitEntryResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     429  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /places/{slug}/entries [post]
func (h *Handlers) SubmitEntry(c *gin.Context) {
	var req SubmitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "Request body must be a JSON object.")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.redeemer.Redeem(c.Request.Context(), c.Param("slug"), req.AccessCode, req.payload(),
		services.RedeemOptions{IdempotencyKey: key})
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		status = http.StatusOK
	}
	ok(c, status, SubmitEntryResponse{Success: true, SubmissionID: res.SubmissionID})
}

// listQuery reads the listing parameters. Paging is clamped by the service.
func listQuery(c *gin.Context) services.ListQuery {
	return services.ListQuery{
		Slug:      c.Param("slug"),
		Country:   c.Query("country"),
		Dimension: c.Query("dimension"),
		Window:    c.Query("window"),
		Page:      utils.AtoiDefault(c.Query("page"), 1),
		PageSize:  utils.AtoiDefault(c.Query("page_size"), services.DefaultPageSize),
		Sort:      c.Query("sort"),
	}
}

// ListEntries godoc
// @ID          listEntries
// @Summary     List entries
// @Description Returns a page of entries, optionally filtered by country on the chosen dimension.
// @Tags        Entries
// @Produce     json
// @Param       slug       path   string  true  "Place slug"
// @Param       country    query  string  false "ISO 3166-1 alpha-2 filter"  example(FR)
// @Param       dimension  query  string  false "subject (default) or origin"
// @Param       window     query  string  false "all (default), today or month"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(20) default(20)
// @Param       sort       query  string  false "newest (default) or oldest"
// @Success     200  {object}  handlers.ListEntriesResponse
// @Success     304  "Not modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /places/{slug}/entries [get]
func (h *Handlers) ListEntries(c *gin.Context) {
	ctx := c.Request.Context()
	q := listQuery(c)

	// ETag pre-check (best effort).
	if count, newest, err := h.reader.ETagSeed(ctx, q); err == nil {
		var ts int64
		if newest != nil {
			ts = newest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"entries:%s:%s:%s:%s:%d:%d:%s:%d:%d"`,
			services.NormalizeSlug(q.Slug), q.Country, q.Dimension, q.Window, q.Page, q.PageSize, q.Sort, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.reader.List(ctx, q)
	if err != nil {
		failService(c, err)
		return
	}

	page, size := utils.ClampPage(q.Page, q.PageSize, services.DefaultPageSize, services.MaxPageSize)
	totalPages := utils.TotalPages(total, size)
	if items == nil {
		items = []domain.Submission{}
	}
	ok(c, http.StatusOK, ListEntriesResponse{
		Success:    true,
		Items:      items,
		TotalCount: total,
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetEntry godoc
// @ID          getEntry
// @Summary     Get one entry
// @Tags        Entries
// @Produce     json
// @Param       slug  path  string  true  "Place slug"
// @Param       id    path  string  true  "Entry ID"  format(uuid)
// @Success     200  {object}  handlers.EntryResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /places/{slug}/entries/{id} [get]
func (h *Handlers) GetEntry(c *gin.Context) {
	sub, err := h.reader.Get(c.Request.Context(), c.Param("slug"), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, EntryResponse{Success: true, Item: sub})
}
