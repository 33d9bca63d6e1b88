// Package httpapi wires the HTTP transport (Gin) to the redemption, upload
// and aggregation services. It owns middleware ordering, the per-route
// attempt windows and the public route table.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID, RedactingLogger, Recovery
//  3. Metrics (and GET /metrics)
//  4. gzip, CORS, security headers
//
// Route-level: FloodGuard, then the attempt window, then handler-specific
// validation. Nothing ahead of a rate decision reads the store.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ibelehai/way-whereareyou/internal/config"
	"github.com/ibelehai/way-whereareyou/internal/http/handlers"
	"github.com/ibelehai/way-whereareyou/internal/http/middleware"
	"github.com/ibelehai/way-whereareyou/internal/ratelimit"
	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

// maxJSONBody caps request bodies on the JSON API.
const maxJSONBody = 1 << 20

// Deps is everything RegisterRoutes needs.
type Deps struct {
	Config      config.Config
	Redemption  *services.RedemptionService
	Uploads     *services.UploadBroker
	Aggregation *services.AggregationService

	// Sink receives PUT /uploads/*key. Nil when clients upload straight to
	// a third-party backend.
	Sink handlers.Sink
	// MediaDir is served under storage.MediaPrefix when non-empty.
	MediaDir string

	// SubmitLimit and UploadLimit are the per-client attempt windows.
	// Nil builds in-memory windows from Config.
	SubmitLimit ratelimit.Limiter
	UploadLimit ratelimit.Limiter
}

func (d *Deps) limiters() (submit, upload ratelimit.Limiter) {
	submit, upload = d.SubmitLimit, d.UploadLimit
	if submit == nil {
		submit = ratelimit.NewWindow(d.Config.SubmitWindow.Window, d.Config.SubmitWindow.Max)
	}
	if upload == nil {
		upload = ratelimit.NewWindow(d.Config.UploadWindow.Window, d.Config.UploadWindow.Max)
	}
	return submit, upload
}

// RegisterRoutes attaches middleware and every endpoint to r.
func RegisterRoutes(r *gin.Engine, d Deps) {
	cfg := d.Config
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.Use(middleware.Recovery())

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/uploads/", storage.MediaPrefix})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	keyFn := middleware.ClientKey(cfg.TrustProxyHeaders)
	flood := middleware.NewFloodGuard(cfg.RateRPS, cfg.RateBurst, keyFn)

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(d.Redemption, d.Uploads, d.Aggregation, d.Sink)
	submitLimit, uploadLimit := d.limiters()

	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200})

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(limitBody(maxJSONBody))
	{
		places := api.Group("/places/:slug")
		places.POST("/entries", flood.Handler(), middleware.WindowLimit(submitLimit, "submit", keyFn), idem, h.SubmitEntry)
		places.POST("/uploads", flood.Handler(), middleware.WindowLimit(uploadLimit, "upload", keyFn), h.RequestUploadSlot)
		places.GET("/entries", flood.Handler(), h.ListEntries)
		places.GET("/entries/:id", flood.Handler(), h.GetEntry)
		places.GET("/heatmap", flood.Handler(), h.GetHeatmap)

		for _, p := range []string{"/entries", "/entries/:id", "/uploads", "/heatmap"} {
			places.OPTIONS(p, preflight)
		}
	}

	// The sink enforces the per-slot byte limit itself.
	if d.Sink != nil {
		r.PUT(storage.UploadPath+"*key", flood.Handler(), h.UploadObject)
		r.OPTIONS(storage.UploadPath+"*key", preflight)
	}
	if d.MediaDir != "" {
		r.Static(storage.MediaPrefix, d.MediaDir)
	}
}

// preflight answers OPTIONS on known routes. Cross-origin preflights are
// completed by the CORS middleware before this runs; same-origin ones and
// requests without an Origin end here instead of in the 405 fallback.
func preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "Retry-After", "ETag",
			middleware.HeaderIdempotencyReplayed,
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// ACAO on every response, including ones without an Origin header.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body at maxBytes; reads past it fail and the
// JSON binders answer 400.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
