// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for submissions:
// the insert performed by a redemption and the tenant-scoped read queries
// behind listings and per-country counts.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
)

// SubmissionFilter narrows read queries. TenantID is mandatory.
type SubmissionFilter struct {
	TenantID string
	// Column is the country column the Country filter and grouping apply to.
	Column domain.Dimension
	// Country filters by an upper-case alpha-2 code when non-empty.
	Country string
	// Since keeps rows created at or after the instant when non-nil.
	Since *time.Time
}

func (f SubmissionFilter) apply(db *gorm.DB) *gorm.DB {
	q := db.Model(&domain.Submission{}).Where("profile_id = ?", f.TenantID)
	if f.Country != "" {
		q = q.Where(f.Column.Column()+" = ?", f.Country)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	return q
}

// CreateSubmission inserts s, assigning CreatedAt when unset.
func CreateSubmission(ctx context.Context, db *gorm.DB, s *domain.Submission) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("Tenant").Create(s).Error
}

// GetSubmission fetches one submission inside a tenant.
func GetSubmission(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Submission, error) {
	var s domain.Submission
	err := db.WithContext(ctx).
		Where("id = ? AND profile_id = ?", id, tenantID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSubmissions returns the number of rows matching f.
func CountSubmissions(ctx context.Context, db *gorm.DB, f SubmissionFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx)).Count(&total).Error
	return total, err
}

// ListSubmissionsPage returns one page of rows matching f, newest first
// unless oldestFirst is set. Ties on created_at are broken by id so pages
// never overlap.
func ListSubmissionsPage(ctx context.Context, db *gorm.DB, f SubmissionFilter, oldestFirst bool, offset, limit int) ([]domain.Submission, error) {
	order := "created_at DESC, id DESC"
	if oldestFirst {
		order = "created_at ASC, id ASC"
	}
	var out []domain.Submission
	err := f.apply(db.WithContext(ctx)).
		Order(order).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountryCount is one heatmap bucket.
type CountryCount struct {
	Code  string
	Count int64
}

// CountByCountry groups rows matching f by f.Column. Rows with an empty
// country code are skipped. f.Country is ignored.
func CountByCountry(ctx context.Context, db *gorm.DB, f SubmissionFilter) ([]CountryCount, error) {
	col := f.Column.Column()
	f.Country = ""
	var rows []CountryCount
	err := f.apply(db.WithContext(ctx)).
		Select(col + " AS code, COUNT(*) AS count").
		Where(col + " <> ''").
		Group(col).
		Order(col).
		Scan(&rows).Error
	return rows, err
}

// ReferencedMedia returns the subset of urls stored on any submission.
func ReferencedMedia(ctx context.Context, db *gorm.DB, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	var found []string
	err := db.WithContext(ctx).
		Model(&domain.Submission{}).
		Where("media_url IN ?", urls).
		Pluck("media_url", &found).Error
	if err != nil {
		return nil, err
	}
	for _, u := range found {
		out[u] = true
	}
	return out, nil
}
