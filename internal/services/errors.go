// Package services defines the business logic for redeeming access codes,
// issuing upload slots and reading aggregated submissions. This file
// centralizes the service-level error values so they can be returned by
// service methods and checked by callers with errors.Is.
//
// Translation into user-facing messages and HTTP status codes is performed
// at the handler layer.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Not-found errors.
var (
	// ErrTenantNotFound indicates that no tenant has the requested slug.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrSubmissionNotFound indicates that the submission does not exist in
	// the tenant.
	ErrSubmissionNotFound = errors.New("submission not found")
)

// Authorization / quota errors. Terminal for the code; never retried.
var (
	ErrInvalidCode   = errors.New("invalid access code")
	ErrCodeDisabled  = errors.New("access code is disabled")
	ErrCodeExpired   = errors.New("access code has expired")
	ErrQuotaExceeded = errors.New("access code usage limit reached")
)

// Validation errors. Field-level detail is wrapped with %w.
var (
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrInvalidQuery         = errors.New("invalid query")
)

// ErrTransient marks a failure that is safe to retry: a store timeout, a lock
// conflict or a serialization failure. It never hides a partial write.
var ErrTransient = errors.New("temporary failure, please retry")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// classifyStoreErr folds timeouts and lock conflicts into ErrTransient and
// leaves every other error untouched.
func classifyStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	low := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"deadlock",
		"could not serialize",
		"lock wait timeout",
		"sqlstate 40001",
		"sqlstate 40p01",
		"sqlstate 55p03",
		"connection refused",
		"bad connection",
	} {
		if strings.Contains(low, s) {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}

// outcome names err for metrics labels.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrCodeDisabled):
		return "code_disabled"
	case errors.Is(err, ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}
