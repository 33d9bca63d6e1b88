package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCloudinary_PresignSignsPublicIDAndTimestamp(t *testing.T) {
	c := NewCloudinary("demo", "key123", "secret", "/way/", time.Minute)
	now := time.Unix(1735732800, 0)
	c.Now = func() time.Time { return now }

	p, err := c.PresignUpload(context.Background(), Object{Key: testKey, ContentType: "image/jpeg", MaxBytes: 5 << 20})
	if err != nil {
		t.Fatalf("PresignUpload: %v", err)
	}
	if p.Method != "POST" || p.UploadURL != "https://api.cloudinary.com/v1_1/demo/image/upload" {
		t.Fatalf("unexpected endpoint: %+v", p)
	}
	wantID := "way/alice/01HZY8J5QK3V7W9X2M4N6P8R0T"
	if p.Fields["public_id"] != wantID || p.Fields["timestamp"] != "1735732800" || p.Fields["api_key"] != "key123" {
		t.Fatalf("unexpected fields: %+v", p.Fields)
	}

	// Cloudinary signs "k1=v1&k2=v2<secret>" with SHA-1, keys sorted.
	sum := sha1.Sum([]byte("public_id=" + wantID + "&timestamp=1735732800secret"))
	if want := hex.EncodeToString(sum[:]); p.Token != want || p.Fields["signature"] != want {
		t.Fatalf("signature = %q; want %q", p.Token, want)
	}

	if p.PublicURL != "https://res.cloudinary.com/demo/image/upload/"+wantID {
		t.Fatalf("PublicURL = %q", p.PublicURL)
	}
	if !c.Owns(p.PublicURL) || c.Owns("https://res.cloudinary.com/other/image/upload/x") {
		t.Fatalf("Owns misbehaves")
	}
	if !p.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("ExpiresAt = %v", p.ExpiresAt)
	}
}

func TestCloudinary_RejectsBadKey(t *testing.T) {
	c := NewCloudinary("demo", "k", "s", "", time.Minute)
	if _, err := c.PresignUpload(context.Background(), Object{Key: "x/../y"}); !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey, got %v", err)
	}
	if got := c.PublicURL(testKey); !strings.HasSuffix(got, "/image/upload/alice/01HZY8J5QK3V7W9X2M4N6P8R0T") {
		t.Fatalf("PublicURL without folder = %q", got)
	}
}
