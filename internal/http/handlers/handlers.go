// Package handlers exposes the redemption core over HTTP:
//
//   - POST /places/{slug}/entries      submit an entry with an access code
//   - POST /places/{slug}/uploads      reserve an upload slot (spends no quota)
//   - GET  /places/{slug}/heatmap      per-country counts
//   - GET  /places/{slug}/entries      paginated listing (ETag support)
//   - GET  /places/{slug}/entries/{id} one entry
//   - PUT  /uploads/{key}              local upload sink
//
// Handlers are transport-thin: they bind input, call a service and translate
// the result.
package handlers

import (
	"context"
	"io"
	"time"

	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

// Redeemer commits entries.
type Redeemer interface {
	Redeem(ctx context.Context, slug, code string, p services.EntryPayload, opts services.RedeemOptions) (*services.RedeemResult, error)
}

// SlotIssuer reserves upload slots.
type SlotIssuer interface {
	RequestSlot(ctx context.Context, slug, code string, meta services.FileMeta) (*services.UploadSlot, error)
}

// Reader serves the read side.
type Reader interface {
	Heatmap(ctx context.Context, slug, window, dimension string) (map[string]int64, error)
	List(ctx context.Context, q services.ListQuery) ([]domain.Submission, int64, error)
	Get(ctx context.Context, slug, id string) (*domain.Submission, error)
	ETagSeed(ctx context.Context, q services.ListQuery) (int64, *time.Time, error)
}

// Sink accepts uploads authorized by a slot token.
type Sink interface {
	Verify(token, key, contentType string) (*storage.UploadClaims, error)
	Save(ctx context.Context, key string, r io.Reader, maxBytes int64) (int64, error)
	PublicURL(key string) string
}

// Handlers groups the endpoints. Sink may be nil when uploads go straight
// to a third-party backend.
type Handlers struct {
	redeemer Redeemer
	slots    SlotIssuer
	reader   Reader
	sink     Sink
}

// New constructs Handlers.
func New(redeemer Redeemer, slots SlotIssuer, reader Reader, sink Sink) *Handlers {
	return &Handlers{redeemer: redeemer, slots: slots, reader: reader, sink: sink}
}
