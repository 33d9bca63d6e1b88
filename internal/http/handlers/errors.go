// Package handlers defines the machine-readable error codes returned in the
// error envelope, and the single translation from service errors to HTTP.
//
// Clients branch on `code`; `message` is friendly text safe to show to a
// person filling in the form.
//
// Example response:
//
//	{
//	  "success": false,
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "message": "This access code has reached its usage limit."
//	}
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

const (
	ErrCodeInvalidPayload       = "invalid_payload"
	ErrCodeRateLimited          = "rate_limited"
	ErrCodeTenantNotFound       = "tenant_not_found"
	ErrCodeInvalidCode          = "invalid_code"
	ErrCodeDisabled             = "code_disabled"
	ErrCodeExpired              = "code_expired"
	ErrCodeQuotaExceeded        = "quota_exceeded"
	ErrCodeUnsupportedMediaType = "unsupported_media_type"
	ErrCodePayloadTooLarge      = "payload_too_large"
	ErrCodeTransient            = "transient_error"
	ErrCodeInternal             = "internal_error"

	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Upload sink only.
	ErrCodeInvalidToken  = "invalid_token"
	ErrCodeKeyMismatch   = "key_mismatch"
	ErrCodeAlreadyExists = "already_uploaded"
)

// failService maps a service error onto the envelope. Field-level payload
// reasons are passed through; everything else gets a fixed message.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidPayload):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, payloadReason(err))
	case errors.Is(err, services.ErrInvalidQuery):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, reason(err, services.ErrInvalidQuery))
	case errors.Is(err, services.ErrTenantNotFound):
		fail(c, http.StatusNotFound, ErrCodeTenantNotFound, "This place is not available.")
	case errors.Is(err, services.ErrSubmissionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Entry not found.")
	case errors.Is(err, services.ErrInvalidCode):
		fail(c, http.StatusBadRequest, ErrCodeInvalidCode, "Invalid access code.")
	case errors.Is(err, services.ErrCodeDisabled):
		fail(c, http.StatusBadRequest, ErrCodeDisabled, "This access code is disabled.")
	case errors.Is(err, services.ErrCodeExpired):
		fail(c, http.StatusBadRequest, ErrCodeExpired, "This access code has expired.")
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusBadRequest, ErrCodeQuotaExceeded, "This access code has reached its usage limit.")
	case errors.Is(err, services.ErrUnsupportedMediaType), errors.Is(err, storage.ErrContentType):
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMediaType, "Only JPEG, PNG and WebP images are accepted.")
	case errors.Is(err, services.ErrPayloadTooLarge), errors.Is(err, storage.ErrTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "The file is too large.")
	case errors.Is(err, services.ErrTransient):
		c.Header("Retry-After", "1")
		fail(c, http.StatusInternalServerError, ErrCodeTransient, "Temporary problem, please try again.")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Something went wrong. Please try again.")
	}
}

// payloadReason extracts the field-level reason wrapped around
// ErrInvalidPayload.
func payloadReason(err error) string {
	return reason(err, services.ErrInvalidPayload)
}

func reason(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == err.Error() || msg == "" {
		return "Invalid request."
	}
	return msg
}
