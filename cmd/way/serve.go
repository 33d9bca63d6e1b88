package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	_ "github.com/ibelehai/way-whereareyou/docs"
	"github.com/ibelehai/way-whereareyou/internal/config"
	httpapi "github.com/ibelehai/way-whereareyou/internal/http"
	"github.com/ibelehai/way-whereareyou/internal/jobs"
	"github.com/ibelehai/way-whereareyou/internal/observability"
	"github.com/ibelehai/way-whereareyou/internal/ratelimit"
	"github.com/ibelehai/way-whereareyou/internal/repo"
	"github.com/ibelehai/way-whereareyou/internal/services"
	"github.com/ibelehai/way-whereareyou/internal/storage"
	"github.com/ibelehai/way-whereareyou/internal/sysutil"
)

// tenantCacheBytes sizes the slug->id cache; entries are tiny.
const tenantCacheBytes = 1 << 20

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// mediaBackend bundles what the chosen storage offers to the rest of the app.
type mediaBackend struct {
	store storage.Store
	local *storage.Local // nil unless STORAGE_BACKEND=local
}

func openStorage(cfg config.StorageConfig) (*mediaBackend, error) {
	switch cfg.Backend {
	case "cloudinary":
		c := cfg.Cloudinary
		return &mediaBackend{store: storage.NewCloudinary(c.CloudName, c.APIKey, c.APISecret, c.Folder, cfg.UploadTTL)}, nil
	default:
		secret := []byte(cfg.TokenSecret)
		if len(secret) == 0 {
			secret = make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return nil, err
			}
			log.Warn().Msg("UPLOAD_TOKEN_SECRET not set; upload tokens will not survive a restart")
		}
		l, err := storage.NewLocal(cfg.Dir, cfg.PublicBaseURL, secret, cfg.UploadTTL)
		if err != nil {
			return nil, err
		}
		return &mediaBackend{store: l, local: l}, nil
	}
}

// limiters returns the submit and upload windows, plus the in-memory ones
// that need periodic sweeping.
func limiters(ctx context.Context, cfg config.Config) (submit, upload ratelimit.Limiter, sweep []jobs.Sweeper, closeFn func() error, err error) {
	if cfg.RateRedis.Addr == "" {
		s := ratelimit.NewWindow(cfg.SubmitWindow.Window, cfg.SubmitWindow.Max)
		u := ratelimit.NewWindow(cfg.UploadWindow.Window, cfg.UploadWindow.Max)
		return s, u, []jobs.Sweeper{s, u}, func() error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RateRedis.Addr,
		Password: cfg.RateRedis.Password,
		DB:       cfg.RateRedis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RateRedis.Addr, err)
	}
	submit = ratelimit.NewRedisWindow(rdb, "way:rl:submit", cfg.SubmitWindow.Window, cfg.SubmitWindow.Max)
	upload = ratelimit.NewRedisWindow(rdb, "way:rl:upload", cfg.UploadWindow.Window, cfg.UploadWindow.Max)
	return submit, upload, nil, rdb.Close, nil
}

func buildDeps(db *gorm.DB, cfg config.Config, media *mediaBackend) httpapi.Deps {
	tenants := services.NewTenantCache(db, tenantCacheBytes, cfg.TenantCacheTTL)
	d := httpapi.Deps{
		Config: cfg,
		Redemption: &services.RedemptionService{
			DB:             db,
			Media:          media.store,
			Timeout:        cfg.DB.Timeout,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
		Uploads: &services.UploadBroker{
			DB:       db,
			Tenants:  tenants,
			Store:    media.store,
			MaxBytes: cfg.Storage.MaxBytes,
			Timeout:  cfg.DB.Timeout,
		},
		Aggregation: &services.AggregationService{
			DB:       db,
			Tenants:  tenants,
			Location: cfg.Location(),
			Timeout:  cfg.DB.Timeout,
		},
	}
	if media.local != nil {
		d.Sink = media.local
		d.MediaDir = media.local.Dir()
	}
	return d
}

func serve(ctx context.Context, cfg config.Config) error {
	sysutil.SetupLogging(nil, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)
	version := sysutil.Version()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB, repo.Options{Tracing: cfg.OTEL.Enabled, Silent: cfg.LogLevel != "debug"})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DB.Driver, err)
	}
	defer func() { _ = repo.Close(db) }()
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	media, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	deps := buildDeps(db, cfg, media)
	var sweep []jobs.Sweeper
	var closeLimiters func() error
	deps.SubmitLimit, deps.UploadLimit, sweep, closeLimiters, err = limiters(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLimiters() }()

	var orphanMedia jobs.MediaStore
	if media.local != nil {
		orphanMedia = media.local
	}
	sched := jobs.New(db, cfg.Jobs, orphanMedia, sweep...)
	if err := sched.Start(); err != nil {
		return err
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db", cfg.DB.Driver).
			Str("storage", cfg.Storage.Backend).
			Bool("redis_limits", cfg.RateRedis.Addr != "").
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	sched.Stop(sctx)
	return nil
}
