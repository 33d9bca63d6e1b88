package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
)

func intPtr(i int) *int { return &i }

func seedTenant(t *testing.T, db *gorm.DB, slug string) *domain.Tenant {
	t.Helper()
	tn, err := CreateTenant(context.Background(), db, slug, "Name "+slug, nil)
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return tn
}

func seedCode(t *testing.T, db *gorm.DB, in NewAccessCode) *domain.AccessCode {
	t.Helper()
	c, err := CreateAccessCode(context.Background(), db, in)
	if err != nil {
		t.Fatalf("CreateAccessCode: %v", err)
	}
	return c
}

func TestTenant_CreateGetAndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tn := seedTenant(t, db, "alice")
	got, err := GetTenantBySlug(ctx, db, "alice")
	if err != nil || got.ID != tn.ID {
		t.Fatalf("GetTenantBySlug: got=%+v err=%v", got, err)
	}
	if _, err := GetTenantBySlug(ctx, db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := CreateTenant(ctx, db, "alice", "again", nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAccessCode_CreateKeepsInactiveFlag(t *testing.T) {
	db := newTestDB(t)
	tn := seedTenant(t, db, "alice")

	created := seedCode(t, db, NewAccessCode{TenantID: tn.ID, Code: "OFF123", IsActive: false})
	if created.IsActive {
		t.Fatalf("CreateAccessCode returned an active code for IsActive=false")
	}
	got, err := GetAccessCode(context.Background(), db, tn.ID, "OFF123")
	if err != nil {
		t.Fatalf("GetAccessCode: %v", err)
	}
	if got.IsActive {
		t.Fatalf("inactive code was stored as active")
	}

	if _, err := CreateAccessCode(context.Background(), db, NewAccessCode{TenantID: tn.ID, Code: "OFF123"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAccessCode_ScopedByTenant(t *testing.T) {
	db := newTestDB(t)
	a := seedTenant(t, db, "alice")
	b := seedTenant(t, db, "bob")
	seedCode(t, db, NewAccessCode{TenantID: a.ID, Code: "SHARED", IsActive: true})

	if _, err := GetAccessCode(context.Background(), db, b.ID, "SHARED"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("code leaked across tenants: %v", err)
	}
	// The same code value may exist independently under another tenant.
	seedCode(t, db, NewAccessCode{TenantID: b.ID, Code: "SHARED", IsActive: true})
}

func TestIncrementUsage_Guards(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tn := seedTenant(t, db, "alice")
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	limited := seedCode(t, db, NewAccessCode{TenantID: tn.ID, Code: "ONE", UsageLimit: intPtr(1), IsActive: true, ExpiresAt: &future})
	unlimited := seedCode(t, db, NewAccessCode{TenantID: tn.ID, Code: "MANY", IsActive: true})
	expired := seedCode(t, db, NewAccessCode{TenantID: tn.ID, Code: "OLD", IsActive: true, ExpiresAt: &past})
	disabled := seedCode(t, db, NewAccessCode{TenantID: tn.ID, Code: "OFF", IsActive: false})

	ok, err := IncrementUsage(ctx, db, limited.ID, now)
	if err != nil || !ok {
		t.Fatalf("first increment: ok=%v err=%v", ok, err)
	}
	ok, err = IncrementUsage(ctx, db, limited.ID, now)
	if err != nil || ok {
		t.Fatalf("second increment must be rejected by the limit guard: ok=%v err=%v", ok, err)
	}

	for i := 0; i < 3; i++ {
		if ok, err := IncrementUsage(ctx, db, unlimited.ID, now); err != nil || !ok {
			t.Fatalf("unlimited increment %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := IncrementUsage(ctx, db, expired.ID, now); ok {
		t.Fatalf("expired code must not increment")
	}
	if ok, _ := IncrementUsage(ctx, db, disabled.ID, now); ok {
		t.Fatalf("disabled code must not increment")
	}

	got, _ := GetAccessCode(ctx, db, tn.ID, "ONE")
	if got.UsageCount != 1 {
		t.Fatalf("limited usage_count = %d; want 1", got.UsageCount)
	}
	got, _ = GetAccessCode(ctx, db, tn.ID, "MANY")
	if got.UsageCount != 3 {
		t.Fatalf("unlimited usage_count = %d; want 3", got.UsageCount)
	}
}

func TestGetAccessCodeForUpdate_InsideTransaction(t *testing.T) {
	db := newTestDB(t)
	tn := seedTenant(t, db, "alice")
	seedCode(t, db, NewAccessCode{TenantID: tn.ID, Code: "ABC123", IsActive: true})

	err := db.Transaction(func(tx *gorm.DB) error {
		c, err := GetAccessCodeForUpdate(context.Background(), tx, tn.ID, "ABC123")
		if err != nil {
			return err
		}
		if c.Code != "ABC123" {
			t.Fatalf("unexpected code %+v", c)
		}
		_, err = GetAccessCodeForUpdate(context.Background(), tx, tn.ID, "NOPE")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestIsDuplicate(t *testing.T) {
	cases := map[string]bool{
		"UNIQUE constraint failed: profiles.slug":               true,
		"constraint failed: UNIQUE constraint failed (2067)":    true,
		`duplicate key value violates unique constraint "x"`:    true,
		"Error 1062: Duplicate entry 'a' for key 'ux'":          true,
		"FOREIGN KEY constraint failed":                         false,
	}
	for msg, want := range cases {
		if got := IsDuplicate(errors.New(msg)); got != want {
			t.Fatalf("IsDuplicate(%q) = %v; want %v", msg, got, want)
		}
	}
	if IsDuplicate(nil) {
		t.Fatalf("nil is not a duplicate")
	}
	if !IsDuplicate(gorm.ErrDuplicatedKey) {
		t.Fatalf("gorm.ErrDuplicatedKey should count as duplicate")
	}
}
