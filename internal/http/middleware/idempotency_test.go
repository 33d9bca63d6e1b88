package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyValidator_NoHeaderAndInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/places/:slug/entries", IdempotencyValidator(IdempotencyOptions{MaxLen: 8}), func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			c.Status(http.StatusAccepted)
			return
		}
		c.Status(http.StatusOK)
	})

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/places/alice/entries", nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("no header: %d", code)
	}
	if code := send("ok-key"); code != http.StatusAccepted {
		t.Fatalf("valid key: %d", code)
	}
	if code := send("way-too-long-key"); code != http.StatusBadRequest {
		t.Fatalf("long key: %d", code)
	}
	if code := send("bad key"); code != http.StatusBadRequest {
		t.Fatalf("bad chars: %d", code)
	}
}

func TestIdempotencyValidator_LeavesBodyForHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var body, key string
	r.POST("/places/:slug/entries", IdempotencyValidator(IdempotencyOptions{}), func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		body = string(b)
		key, _ = GetIdempotencyKey(c)
		c.Status(http.StatusCreated)
	})

	payload := `{"access_code":"ABC123","author_name":"Ana"}`
	req := httptest.NewRequest(http.MethodPost, "/places/alice/entries", strings.NewReader(payload))
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated || key != "k-1" || body != payload {
		t.Fatalf("status=%d key=%q body=%q", w.Code, key, body)
	}
}
