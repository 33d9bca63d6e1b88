// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for tenants and
// their access codes.
//
// All functions are context-aware and accept a *gorm.DB handle, so they work
// unchanged inside a transaction (pass the tx) or on the root handle.
//
// Error semantics:
//   - Missing rows return ErrNotFound (an alias of gorm.ErrRecordNotFound).
//   - Unique violations on create return ErrDuplicate.
//   - Any other DB error is propagated as-is.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ibelehai/way-whereareyou/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a unique constraint rejected an insert.
var ErrDuplicate = errors.New("duplicate")

// IsDuplicate reports whether err is a unique-constraint violation. The pure
// Go SQLite driver often reports these as plain text.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "duplicate entry")
}

// GetTenantBySlug fetches a tenant by its public slug.
func GetTenantBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).Where("slug = ?", slug).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a tenant with a fresh UUID.
func CreateTenant(ctx context.Context, db *gorm.DB, slug, name string, country *string) (*domain.Tenant, error) {
	now := time.Now().UTC()
	t := &domain.Tenant{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      name,
		Country:   country,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return t, nil
}

// NewAccessCode describes a code to insert.
type NewAccessCode struct {
	TenantID   string
	Code       string
	UsageLimit *int
	IsActive   bool
	ExpiresAt  *time.Time
	LinkURL    *string
}

// CreateAccessCode inserts a code. Code uniqueness is per tenant.
func CreateAccessCode(ctx context.Context, db *gorm.DB, in NewAccessCode) (*domain.AccessCode, error) {
	now := time.Now().UTC()
	c := &domain.AccessCode{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		Code:       in.Code,
		UsageLimit: in.UsageLimit,
		IsActive:   in.IsActive,
		ExpiresAt:  in.ExpiresAt,
		LinkURL:    in.LinkURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Omit("Tenant").Create(c).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetAccessCode fetches a code by tenant and code value without locking.
func GetAccessCode(ctx context.Context, db *gorm.DB, tenantID, code string) (*domain.AccessCode, error) {
	var c domain.AccessCode
	err := db.WithContext(ctx).
		Where("profile_id = ? AND code = ?", tenantID, code).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetAccessCodeForUpdate is GetAccessCode with a row lock held until the
// surrounding transaction ends. SQLite has no row locks; there the write
// lock taken by IncrementUsage serializes redemptions instead.
func GetAccessCodeForUpdate(ctx context.Context, tx *gorm.DB, tenantID, code string) (*domain.AccessCode, error) {
	q := tx.WithContext(ctx)
	if !IsSQLite(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var c domain.AccessCode
	if err := q.Where("profile_id = ? AND code = ?", tenantID, code).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementUsage adds one to usage_count only while the code is still
// redeemable at now. It returns false when the guard rejected the update,
// which means another redemption won the last slot or the code changed.
func IncrementUsage(ctx context.Context, tx *gorm.DB, codeID string, now time.Time) (bool, error) {
	now = now.UTC()
	res := tx.WithContext(ctx).
		Model(&domain.AccessCode{}).
		Where("id = ? AND is_active = ?", codeID, true).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Where("(usage_limit IS NULL OR usage_count < usage_limit)").
		UpdateColumns(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
