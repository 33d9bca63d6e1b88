package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func seedTenant(t *testing.T, db *gorm.DB, slug string) *domain.Tenant {
	t.Helper()
	tn, err := repo.CreateTenant(context.Background(), db, slug, "Name "+slug, nil)
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return tn
}

func seedCode(t *testing.T, db *gorm.DB, tenantID, code string, limit *int, active bool, expires *time.Time) *domain.AccessCode {
	t.Helper()
	c, err := repo.CreateAccessCode(context.Background(), db, repo.NewAccessCode{
		TenantID:   tenantID,
		Code:       code,
		UsageLimit: limit,
		IsActive:   active,
		ExpiresAt:  expires,
	})
	if err != nil {
		t.Fatalf("CreateAccessCode: %v", err)
	}
	return c
}

func usageCount(t *testing.T, db *gorm.DB, tenantID, code string) int {
	t.Helper()
	c, err := repo.GetAccessCode(context.Background(), db, tenantID, code)
	if err != nil {
		t.Fatalf("GetAccessCode: %v", err)
	}
	return c.UsageCount
}

func validPayload() EntryPayload {
	return EntryPayload{
		CountryCode: "fr",
		CountryName: "France",
		AuthorName:  "Ana",
		AuthorAge:   intPtr(30),
		Body:        strPtr("Hello from Lyon"),
	}
}

// readDeadlines reports, for every read gorm issues on db after the call,
// whether its context carried a deadline.
func readDeadlines(t *testing.T, db *gorm.DB) func() (reads, bounded int) {
	t.Helper()
	var mu sync.Mutex
	var n, withDeadline int
	record := func(tx *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if _, ok := tx.Statement.Context.Deadline(); ok {
			withDeadline++
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("test:deadline_query", record); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("test:deadline_row", record); err != nil {
		t.Fatalf("register: %v", err)
	}
	return func() (int, int) {
		mu.Lock()
		defer mu.Unlock()
		return n, withDeadline
	}
}
