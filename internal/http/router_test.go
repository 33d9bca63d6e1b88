package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "github.com/ibelehai/way-whereareyou/docs"
	"github.com/ibelehai/way-whereareyou/internal/config"
	"github.com/ibelehai/way-whereareyou/internal/http/middleware"
	"github.com/ibelehai/way-whereareyou/internal/ratelimit"
	"github.com/ibelehai/way-whereareyou/internal/repo"
	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

const testBaseURL = "http://way.test"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:       "/api/v1",
		RateRPS:           1000,
		RateBurst:         1000,
		SubmitWindow:      config.WindowConfig{Window: time.Minute, Max: 20},
		UploadWindow:      config.WindowConfig{Window: time.Minute, Max: 20},
		TrustProxyHeaders: true,
		OTEL:              config.OTELConfig{ServiceName: "way-test"},
	}
}

type stack struct {
	r     *gin.Engine
	db    *gorm.DB
	local *storage.Local
}

func newStack(t *testing.T, cfg config.Config, submit ratelimit.Limiter) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	mediaDir := t.TempDir()
	local, err := storage.NewLocal(mediaDir, testBaseURL, []byte("test-secret"), time.Minute)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	tenants := services.NewTenantCache(db, 1<<20, time.Minute)

	r := gin.New()
	RegisterRoutes(r, Deps{
		Config:      cfg,
		Redemption:  &services.RedemptionService{DB: db, Media: local},
		Uploads:     &services.UploadBroker{DB: db, Tenants: tenants, Store: local},
		Aggregation: &services.AggregationService{DB: db, Tenants: tenants},
		Sink:        local,
		MediaDir:    mediaDir,
		SubmitLimit: submit,
	})
	return &stack{r: r, db: db, local: local}
}

func (s *stack) seed(t *testing.T, slug, code string, limit int) {
	t.Helper()
	tn, err := repo.CreateTenant(context.Background(), s.db, slug, "Place "+slug, nil)
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if _, err := repo.CreateAccessCode(context.Background(), s.db, repo.NewAccessCode{
		TenantID: tn.ID, Code: code, UsageLimit: &limit, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateAccessCode: %v", err)
	}
}

func (s *stack) do(method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func entry(code string) map[string]any {
	return map[string]any{
		"access_code":  code,
		"country_code": "FR",
		"country_name": "France",
		"author_name":  "Ana",
	}
}

func TestRegisterRoutes_HealthMetricsCORSFallbacks(t *testing.T) {
	s := newStack(t, testConfig(), nil)

	w := s.do(http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("security/request-id headers missing: %v", w.Header())
	}

	w = s.do(http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = s.do(http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound || decode(t, w)["code"] != "not_found" {
		t.Fatalf("GET /nope: %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/swagger/index.html", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	s := newStack(t, cfg, nil)

	w := s.do(http.MethodGet, "/swagger/doc.json", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/places/{slug}/entries") {
		t.Fatalf("doc.json: %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	const origin = "https://app.way.example"
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{origin}}
	s := newStack(t, cfg, nil)

	w := s.do(http.MethodGet, "/health", nil, map[string]string{"Origin": origin})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	preflights := []struct {
		path, method string
	}{
		{"/api/v1/places/alice/entries", "POST"},
		{"/api/v1/places/alice/uploads", "POST"},
		{"/api/v1/places/alice/heatmap", "GET"},
		{"/uploads/alice/01J0000000000000000000000.jpg", "PUT"},
	}
	for _, p := range preflights {
		w = s.do(http.MethodOptions, p.path, nil, map[string]string{
			"Origin":                         origin,
			"Access-Control-Request-Method":  p.method,
			"Access-Control-Request-Headers": "Idempotency-Key, Content-Type",
		})
		if w.Code != http.StatusNoContent {
			t.Fatalf("preflight %s status=%d", p.path, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Fatalf("preflight %s ACAO=%q", p.path, got)
		}
		if allow := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")); !strings.Contains(allow, "idempotency-key") {
			t.Fatalf("Idempotency-Key not allowed on %s: %q", p.path, allow)
		}
		if m := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(m, p.method) {
			t.Fatalf("%s not allowed on %s: %q", p.method, p.path, m)
		}
	}
}

func TestRegisterRoutes_OptionsWithoutCrossOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://app.way.example"}}
	s := newStack(t, cfg, nil)

	// httptest requests carry Host example.com, so this Origin is same-origin.
	for _, hdr := range []map[string]string{nil, {"Origin": "http://example.com"}} {
		w := s.do(http.MethodOptions, "/api/v1/places/alice/entries", nil, hdr)
		if w.Code != http.StatusNoContent {
			t.Fatalf("OPTIONS with %v: status=%d %s", hdr, w.Code, w.Body.String())
		}
	}
	if w := s.do(http.MethodOptions, "/health", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("OPTIONS on a route without preflight support: %d", w.Code)
	}
}

func TestRegisterRoutes_SubmitReplayAndQuota(t *testing.T) {
	s := newStack(t, testConfig(), nil)
	s.seed(t, "alice", "ABC123", 1)

	key := map[string]string{middleware.HeaderIdempotencyKey: "retry-1"}
	w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("abc123"), key)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["submission_id"]

	w = s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), key)
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay: %d %v", w.Code, w.Header())
	}
	if decode(t, w)["submission_id"] != id {
		t.Fatal("replay must return the original submission")
	}

	w = s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), nil)
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "quota_exceeded" {
		t.Fatalf("second redemption: %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/v1/places/nobody/entries", entry("ABC123"), nil)
	if w.Code != http.StatusNotFound || decode(t, w)["code"] != "tenant_not_found" {
		t.Fatalf("unknown tenant: %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/v1/places/alice/heatmap", nil, nil)
	counts, _ := decode(t, w)["counts"].(map[string]any)
	if w.Code != http.StatusOK || counts["FR"] != float64(1) {
		t.Fatalf("heatmap: %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/v1/places/alice/entries", nil, nil)
	if w.Code != http.StatusOK || decode(t, w)["total_count"] != float64(1) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("list must carry an ETag")
	}
	if w := s.do(http.MethodGet, "/api/v1/places/alice/entries", nil, map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("conditional list: %d", w.Code)
	}

	w = s.do(http.MethodGet, "/api/v1/places/alice/entries/"+id.(string), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get entry: %d", w.Code)
	}
}

func TestRegisterRoutes_SubmitWindowDeniesBeforeStore(t *testing.T) {
	cfg := testConfig()
	s := newStack(t, cfg, ratelimit.NewWindow(time.Minute, 2))
	s.seed(t, "alice", "ABC123", 10)

	hdr := map[string]string{"X-Forwarded-For": "203.0.113.9"}
	for i := 0; i < 2; i++ {
		if w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("WRONG1"), hdr); w.Code != http.StatusBadRequest {
			t.Fatalf("attempt %d: %d", i+1, w.Code)
		}
	}
	w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), hdr)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "60" {
		t.Fatalf("third attempt: %d %v", w.Code, w.Header())
	}

	var n int64
	s.db.Table("submissions").Count(&n)
	if n != 0 {
		t.Fatalf("denied attempt reached the store: %d submissions", n)
	}
	if w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), map[string]string{"X-Forwarded-For": "198.51.100.2"}); w.Code != http.StatusCreated {
		t.Fatalf("other client: %d", w.Code)
	}
}

// countStatements counts every statement gorm issues on db from now on.
func countStatements(t *testing.T, db *gorm.DB) *atomic.Int64 {
	t.Helper()
	var n atomic.Int64
	inc := func(*gorm.DB) { n.Add(1) }
	cb := db.Callback()
	for _, err := range []error{
		cb.Query().Before("gorm:query").Register("test:count_query", inc),
		cb.Row().Before("gorm:row").Register("test:count_row", inc),
		cb.Raw().Before("gorm:raw").Register("test:count_raw", inc),
		cb.Create().Before("gorm:create").Register("test:count_create", inc),
		cb.Update().Before("gorm:update").Register("test:count_update", inc),
		cb.Delete().Before("gorm:delete").Register("test:count_delete", inc),
	} {
		if err != nil {
			t.Fatalf("register callback: %v", err)
		}
	}
	return &n
}

func TestRegisterRoutes_DeniedSubmitNeverQueriesStore(t *testing.T) {
	s := newStack(t, testConfig(), ratelimit.NewWindow(time.Minute, 1))
	s.seed(t, "alice", "ABC123", 10)
	hdr := map[string]string{"X-Forwarded-For": "203.0.113.7", middleware.HeaderIdempotencyKey: "first"}
	if w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), hdr); w.Code != http.StatusCreated {
		t.Fatalf("first submit: %d %s", w.Code, w.Body.String())
	}

	queries := countStatements(t, s.db)
	for i := 0; i < 5; i++ {
		hdr[middleware.HeaderIdempotencyKey] = fmt.Sprintf("fresh-%d", i)
		if w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), hdr); w.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt %d: %d", i, w.Code)
		}
	}
	if n := queries.Load(); n != 0 {
		t.Fatalf("denied submits issued %d store statements", n)
	}

	// A retry of the admitted request is still a new attempt for the window.
	hdr[middleware.HeaderIdempotencyKey] = "first"
	if w := s.do(http.MethodPost, "/api/v1/places/alice/entries", entry("ABC123"), hdr); w.Code != http.StatusTooManyRequests {
		t.Fatalf("retry past the window: %d", w.Code)
	}
	if n := queries.Load(); n != 0 {
		t.Fatalf("denied retry issued %d store statements", n)
	}
}

func TestRegisterRoutes_UploadFlowThenEntryWithMedia(t *testing.T) {
	s := newStack(t, testConfig(), nil)
	s.seed(t, "alice", "ABC123", 1)

	img := []byte("\x89PNG\r\n\x1a\nfake")
	w := s.do(http.MethodPost, "/api/v1/places/alice/uploads", map[string]any{
		"access_code": "ABC123", "file_name": "pic.png", "content_type": "image/png", "size": len(img),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("slot: %d %s", w.Code, w.Body.String())
	}
	slot := decode(t, w)
	uploadURL, _ := slot["upload_url"].(string)
	publicURL, _ := slot["public_url"].(string)
	if !strings.HasPrefix(uploadURL, testBaseURL+storage.UploadPath+"alice/") {
		t.Fatalf("upload_url=%q", uploadURL)
	}
	path := strings.TrimPrefix(uploadURL, testBaseURL)
	auth := map[string]string{"Authorization": "Bearer " + slot["auth_token"].(string), "Content-Type": "image/png"}

	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(img))
	for k, v := range auth {
		req.Header.Set(k, v)
	}
	pw := httptest.NewRecorder()
	s.r.ServeHTTP(pw, req)
	if pw.Code != http.StatusCreated {
		t.Fatalf("put: %d %s", pw.Code, pw.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, path, bytes.NewReader(img))
	for k, v := range auth {
		req.Header.Set(k, v)
	}
	pw = httptest.NewRecorder()
	s.r.ServeHTTP(pw, req)
	if pw.Code != http.StatusConflict {
		t.Fatalf("second put must be refused: %d", pw.Code)
	}

	mw := s.do(http.MethodGet, strings.TrimPrefix(publicURL, testBaseURL), nil, nil)
	if mw.Code != http.StatusOK || !bytes.Equal(mw.Body.Bytes(), img) {
		t.Fatalf("media: %d", mw.Code)
	}

	body := entry("ABC123")
	body["media_url"] = publicURL
	if w := s.do(http.MethodPost, "/api/v1/places/alice/entries", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("entry with media: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_BodyLimitOnAPI(t *testing.T) {
	s := newStack(t, testConfig(), nil)
	s.seed(t, "alice", "ABC123", 1)

	big := []byte(`{"access_code":"ABC123","body":"` + strings.Repeat("x", maxJSONBody) + `"}`)
	w := s.do(http.MethodPost, "/api/v1/places/alice/entries", big, nil)
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "invalid_payload" {
		t.Fatalf("oversized body: %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/three", func(c *gin.Context) { c.String(http.StatusOK, "three") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/three": "three"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("%s: %d %q", path, w.Code, w.Body.String())
		}
	}
}
