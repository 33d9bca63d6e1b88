package services

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/repo"
)

// TenantCache resolves tenant slugs to ids for read paths. Misses are not
// cached, so a tenant created after a 404 becomes visible immediately.
// The redemption path never uses it: there the slug is resolved inside the
// transaction.
type TenantCache struct {
	DB    *gorm.DB
	cache *freecache.Cache
	ttl   int
}

// NewTenantCache keeps up to sizeBytes of slug->id entries for ttl.
// A zero ttl disables caching.
func NewTenantCache(db *gorm.DB, sizeBytes int, ttl time.Duration) *TenantCache {
	tc := &TenantCache{DB: db}
	if ttl > 0 {
		tc.cache = freecache.NewCache(sizeBytes)
		tc.ttl = int(ttl / time.Second)
		if tc.ttl < 1 {
			tc.ttl = 1
		}
	}
	return tc
}

// Resolve returns the tenant id for an already normalized slug.
func (tc *TenantCache) Resolve(ctx context.Context, slug string) (string, error) {
	if tc.cache != nil {
		if id, err := tc.cache.Get([]byte(slug)); err == nil {
			return string(id), nil
		}
	}
	t, err := repo.GetTenantBySlug(ctx, tc.DB, slug)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrTenantNotFound
	}
	if err != nil {
		return "", classifyStoreErr(err)
	}
	if tc.cache != nil {
		_ = tc.cache.Set([]byte(slug), []byte(t.ID), tc.ttl)
	}
	return t.ID, nil
}
