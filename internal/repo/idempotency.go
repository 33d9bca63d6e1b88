// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model that lets a client retry a redemption without spending quota twice.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
)

// IdemScope identifies one idempotency namespace.
type IdemScope struct {
	TenantID   string
	AccessCode string
	Key        string
}

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, scope IdemScope, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope.Key) == "" || scope.TenantID == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("profile_id = ? AND access_code = ? AND "+quoteKey(db)+" = ? AND expires_at > ?",
			scope.TenantID, scope.AccessCode, scope.Key, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, scope IdemScope, submissionID string, status int, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	now = now.UTC()
	rec := &domain.Idempotency{
		ID:           uuid.NewString(),
		TenantID:     scope.TenantID,
		AccessCode:   scope.AccessCode,
		Key:          scope.Key,
		SubmissionID: submissionID,
		Status:       status,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeIdempotency deletes records that expired before now. An expired key
// can then be reused, which is what the unique index would otherwise block.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// ReleaseExpiredIdempotency drops an expired record for scope so the key can
// be recorded again.
func ReleaseExpiredIdempotency(ctx context.Context, db *gorm.DB, scope IdemScope, now time.Time) error {
	return db.WithContext(ctx).
		Where("profile_id = ? AND access_code = ? AND "+quoteKey(db)+" = ? AND expires_at <= ?",
			scope.TenantID, scope.AccessCode, scope.Key, now.UTC()).
		Delete(&domain.Idempotency{}).Error
}

// quoteKey quotes the "key" column, a reserved word in MySQL.
func quoteKey(db *gorm.DB) string {
	if db.Dialector != nil && db.Dialector.Name() == "mysql" {
		return "`key`"
	}
	return `"key"`
}
