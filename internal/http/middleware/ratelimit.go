// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the two admission layers in front of the write routes:
//
//   - FloodGuard: a coarse per-client token bucket (golang.org/x/time/rate)
//     installed on every API route.
//   - WindowLimit: the sliding attempt window for one route family
//     (entry submission, upload-slot issuance). A denial answers 429 before
//     any handler, and therefore any store access, runs. Retries carrying an
//     Idempotency-Key are counted like any other attempt.
//
// Both are advisory abuse control, not authorization.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ibelehai/way-whereareyou/internal/observability"
	"github.com/ibelehai/way-whereareyou/internal/ratelimit"
)

// KeyFunc selects the client identity a request is counted against.
type KeyFunc func(*gin.Context) string

// ClientKey keys requests by network origin. With trustProxy the first
// X-Forwarded-For hop wins, then CF-Connecting-IP; otherwise (and as the
// fallback) Gin's ClientIP is used. Forwarding headers are client-controlled
// unless a proxy overwrites them, so only trust them behind one.
func ClientKey(trustProxy bool) KeyFunc {
	return func(c *gin.Context) string {
		if trustProxy {
			if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
					return "ip:" + ip
				}
			}
			if ip := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); net.ParseIP(ip) != nil {
				return "ip:" + ip
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// abortRateLimited writes the shared 429 envelope.
func abortRateLimited(c *gin.Context, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success":    false,
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "rate_limited",
		"message":    "Too many attempts. Please try again shortly.",
	})
}

// WindowLimit admits a request only if lim admits its client key. scope
// labels the denial metric ("submit", "upload").
func WindowLimit(lim ratelimit.Limiter, scope string, keyFn KeyFunc) gin.HandlerFunc {
	retry := time.Minute
	if p, ok := lim.(interface{ Period() time.Duration }); ok {
		retry = p.Period()
	}
	return func(c *gin.Context) {
		if lim.Admit(c.Request.Context(), scope+"|"+keyFn(c)) {
			c.Next()
			return
		}
		observability.RateLimited.WithLabelValues(scope).Inc()
		LoggerFrom(c).Warn().Str("scope", scope).Msg("attempt window exceeded")
		abortRateLimited(c, retry)
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// FloodGuard is a per-key token bucket. Idle buckets are evicted
// opportunistically every few thousand lookups.
type FloodGuard struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewFloodGuard builds a guard refilling rps tokens per second up to burst.
func NewFloodGuard(rps float64, burst int, keyFn KeyFunc) *FloodGuard {
	if burst <= 0 {
		burst = 1
	}
	return &FloodGuard{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

func (g *FloodGuard) bucket(key string) *rate.Limiter {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Sweep before the lookup so a stale bucket for key is replaced, not refreshed.
	g.cleanupN++
	if g.cleanupN >= 5000 {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) >= g.ttl {
				delete(g.visitors, k)
			}
		}
		g.cleanupN = 0
	}

	if v, ok := g.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(g.rps, g.burst)
	g.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler enforces the bucket.
func (g *FloodGuard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.bucket(g.keyFn(c)).Allow() {
			c.Next()
			return
		}
		observability.RateLimited.WithLabelValues("global").Inc()
		abortRateLimited(c, time.Second)
	}
}
