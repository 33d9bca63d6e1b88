// Package storage issues pre-authorized upload locations for media and
// recognizes the public URLs those uploads end up at. The redemption path
// never talks to storage; only the upload-slot path does, and it never
// touches quota.
package storage

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrInvalidToken = errors.New("storage: invalid or expired upload token")
	ErrKeyMismatch  = errors.New("storage: token does not cover this object")
	ErrContentType  = errors.New("storage: content type does not match token")
	ErrTooLarge     = errors.New("storage: object exceeds allowed size")
	ErrExists       = errors.New("storage: object already uploaded")
	ErrBadKey       = errors.New("storage: malformed object key")
	ErrEmpty        = errors.New("storage: empty upload")
)

// Object describes the upload a slot is issued for.
type Object struct {
	Key         string
	ContentType string
	MaxBytes    int64
}

// Presigned is everything a client needs to perform one upload.
type Presigned struct {
	Method    string
	UploadURL string
	Token     string
	Fields    map[string]string
	PublicURL string
	ExpiresAt time.Time
}

// Store is a media backend.
type Store interface {
	// PresignUpload authorizes exactly one upload of obj.
	PresignUpload(ctx context.Context, obj Object) (*Presigned, error)
	// PublicURL is where key is served once uploaded.
	PublicURL(key string) string
	// Owns reports whether rawURL points into this backend.
	Owns(rawURL string) bool
}

// keyPattern is "<tenant-slug>/<ulid>.<ext>".
var keyPattern = regexp.MustCompile(`^[a-z0-9-]{1,30}/[0-9A-HJKMNP-TV-Z]{26}\.(jpg|png|webp)$`)

// ValidKey reports whether key has the shape issued by the upload broker.
func ValidKey(key string) bool { return keyPattern.MatchString(key) }
