// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SubmissionsStats returns the number of rows matching f and the newest
// created_at among them. When nothing matches, count is 0 and newest is nil.
func SubmissionsStats(ctx context.Context, db *gorm.DB, f SubmissionFilter) (count int64, newest *time.Time, err error) {
	q := f.apply(db.WithContext(ctx))

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order+Limit instead of MAX(): SQLite returns MAX() over a datetime as TEXT.
	var row struct {
		CreatedAt time.Time
	}
	if err = f.apply(db.WithContext(ctx)).Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
