package services

import (
	"context"
	"crypto/rand"
	"errors"
	"mime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/observability"
	"github.com/ibelehai/way-whereareyou/internal/repo"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

// DefaultMaxUploadBytes is the upload ceiling when none is configured.
const DefaultMaxUploadBytes int64 = 5 << 20

// allowedMedia maps accepted content types to the object key extension.
var allowedMedia = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// FileMeta describes the file a client intends to upload.
type FileMeta struct {
	Name        string
	ContentType string
	Size        int64
}

// UploadSlot is a write-once location plus the credentials to fill it.
type UploadSlot struct {
	Location   string
	UploadURL  string
	Method     string
	AuthToken  string
	Fields     map[string]string
	PublicURL  string
	TTLSeconds int
	ExpiresAt  time.Time
}

// UploadBroker hands out upload slots to holders of a usable access code.
// It reads access codes but never writes them: issuing a slot spends no
// quota, and the redemption that follows re-checks everything.
type UploadBroker struct {
	DB      *gorm.DB
	Tenants *TenantCache
	Store   storage.Store

	MaxBytes int64
	Timeout  time.Duration
	Now      func() time.Time
}

func (b *UploadBroker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *UploadBroker) maxBytes() int64 {
	if b.MaxBytes > 0 {
		return b.MaxBytes
	}
	return DefaultMaxUploadBytes
}

func (b *UploadBroker) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return 5 * time.Second
}

func (b *UploadBroker) tenantID(ctx context.Context, slug string) (string, error) {
	if b.Tenants != nil {
		return b.Tenants.Resolve(ctx, slug)
	}
	t, err := repo.GetTenantBySlug(ctx, b.DB, slug)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrTenantNotFound
	}
	if err != nil {
		return "", classifyStoreErr(err)
	}
	return t.ID, nil
}

// mediaExt validates a content type and returns its key extension.
func mediaExt(contentType string) (string, string, bool) {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return "", "", false
	}
	ext, ok := allowedMedia[mt]
	return mt, ext, ok
}

// RequestSlot validates meta and code, then presigns one upload.
func (b *UploadBroker) RequestSlot(ctx context.Context, slug, code string, meta FileMeta) (*UploadSlot, error) {
	slug = NormalizeSlug(slug)
	code = NormalizeCode(code)

	ctx, span := observability.Tracer("uploads").Start(ctx, "RequestSlot")
	defer span.End()
	span.SetAttributes(
		observability.TenantAttr(slug),
		attribute.String("media.content_type", meta.ContentType),
		attribute.Int64("media.size", meta.Size),
	)

	slot, err := b.requestSlot(ctx, slug, code, meta)
	observability.UploadSlots.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().
		Str("tenant", slug).
		Str("file", meta.Name).
		Str("key", slot.Location).
		Msg("upload slot issued")
	return slot, nil
}

func (b *UploadBroker) requestSlot(ctx context.Context, slug, code string, meta FileMeta) (*UploadSlot, error) {
	ct, ext, ok := mediaExt(meta.ContentType)
	if !ok {
		return nil, ErrUnsupportedMediaType
	}
	if meta.Size <= 0 {
		return nil, invalidf("size must be positive")
	}
	if meta.Size > b.maxBytes() {
		return nil, ErrPayloadTooLarge
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()

	tenantID, err := b.tenantID(ctx, slug)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidCode
	}
	ac, err := repo.GetAccessCode(ctx, b.DB, tenantID, code)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	if err := checkRedeemable(ac, b.now()); err != nil {
		return nil, err
	}

	key := objectKey(slug, ext, b.now())
	p, err := b.Store.PresignUpload(ctx, storage.Object{Key: key, ContentType: ct, MaxBytes: b.maxBytes()})
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	ttl := int(p.ExpiresAt.Sub(b.now()).Round(time.Second) / time.Second)
	if ttl < 0 {
		ttl = 0
	}
	return &UploadSlot{
		Location:   key,
		UploadURL:  p.UploadURL,
		Method:     p.Method,
		AuthToken:  p.Token,
		Fields:     p.Fields,
		PublicURL:  p.PublicURL,
		TTLSeconds: ttl,
		ExpiresAt:  p.ExpiresAt,
	}, nil
}

// objectKey is "<slug>/<ULID>.<ext>".
func objectKey(slug, ext string, now time.Time) string {
	if slug == "" {
		slug = domain.DefaultTenantSlug
	}
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	return slug + "/" + id.String() + "." + ext
}
