// Upload HTTP handlers.
//
// Uploading is two-phase. RequestUploadSlot checks the access code without
// spending it and returns a write-once location plus a short-lived token;
// the client then uploads (to UploadObject for the local backend, or
// directly to the third-party backend) and passes public_url in the entry.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

// UploadSlotRequest describes the file to be uploaded.
type UploadSlotRequest struct {
	AccessCode  string `json:"access_code" example:"ABC123"`
	FileName    string `json:"file_name" example:"harbour.jpg"`
	ContentType string `json:"content_type" example:"image/jpeg"`
	Size        int64  `json:"size" example:"482113"`
}

// UploadSlotResponse is a reserved upload slot.
type UploadSlotResponse struct {
	Success    bool              `json:"success" example:"true"`
	Location   string            `json:"location" example:"alice/01HZY8J5QK3V7W9X2M4N6P8R0T.jpg"`
	UploadURL  string            `json:"upload_url"`
	Method     string            `json:"method" example:"PUT"`
	AuthToken  string            `json:"auth_token"`
	TTLSeconds int               `json:"ttl_seconds" example:"60"`
	PublicURL  string            `json:"public_url"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// UploadObjectResponse confirms a stored object.
type UploadObjectResponse struct {
	Success   bool   `json:"success" example:"true"`
	PublicURL string `json:"public_url"`
	Size      int64  `json:"size"`
}

// RequestUploadSlot godoc
// @ID          requestUploadSlot
// @Summary     Reserve an upload slot
// @Description Checks the access code (existence, active, expiry, limit) without spending it.
// @Tags        Uploads
// @Accept      json
// @Produce     json
// @Param       slug  path  string  true  "Place slug"
// @Param       body  body  handlers.UploadSlotRequest  true  "File description"
// @Success     200  {object}  handlers.UploadSlotResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Failure     415  {object}  handlers.ErrorResponse
// @Failure     429  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /places/{slug}/uploads [post]
func (h *Handlers) RequestUploadSlot(c *gin.Context) {
	var req UploadSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "Request body must be a JSON object.")
		return
	}
	slot, err := h.slots.RequestSlot(c.Request.Context(), c.Param("slug"), req.AccessCode, services.FileMeta{
		Name:        req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, UploadSlotResponse{
		Success:    true,
		Location:   slot.Location,
		UploadURL:  slot.UploadURL,
		Method:     slot.Method,
		AuthToken:  slot.AuthToken,
		TTLSeconds: slot.TTLSeconds,
		PublicURL:  slot.PublicURL,
		Fields:     slot.Fields,
	})
}

// UploadObject godoc
// @ID          uploadObject
// @Summary     Upload a file into a reserved slot
// @Description Local storage backend only. The bearer token must come from RequestUploadSlot for exactly this key.
// @Tags        Uploads
// @Accept      image/jpeg,image/png,image/webp
// @Produce     json
// @Param       key            path    string  true  "Object key from the slot"
// @Param       Authorization  header  string  true  "Bearer <auth_token>"
// @Success     201  {object}  handlers.UploadObjectResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Failure     415  {object}  handlers.ErrorResponse
// @Router      /uploads/{key} [put]
func (h *Handlers) UploadObject(c *gin.Context) {
	if h.sink == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Uploads are not handled by this server.")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		fail(c, http.StatusUnauthorized, ErrCodeInvalidToken, "Missing upload token.")
		return
	}

	ct := strings.TrimSpace(strings.SplitN(c.GetHeader("Content-Type"), ";", 2)[0])
	claims, err := h.sink.Verify(strings.TrimSpace(token), key, ct)
	if err != nil {
		failUpload(c, err)
		return
	}
	if c.Request.ContentLength > claims.MaxBytes {
		failUpload(c, storage.ErrTooLarge)
		return
	}

	n, err := h.sink.Save(c.Request.Context(), key, c.Request.Body, claims.MaxBytes)
	if err != nil {
		failUpload(c, err)
		return
	}
	ok(c, http.StatusCreated, UploadObjectResponse{Success: true, PublicURL: h.sink.PublicURL(key), Size: n})
}

func failUpload(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidToken):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidToken, "Upload token is invalid or expired.")
	case errors.Is(err, storage.ErrKeyMismatch):
		fail(c, http.StatusForbidden, ErrCodeKeyMismatch, "Upload token does not cover this location.")
	case errors.Is(err, storage.ErrExists):
		fail(c, http.StatusConflict, ErrCodeAlreadyExists, "This location has already been used.")
	case errors.Is(err, storage.ErrBadKey), errors.Is(err, storage.ErrEmpty):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "Invalid upload.")
	default:
		failService(c, err)
	}
}
