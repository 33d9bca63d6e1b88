// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database selection, per-route attempt windows, upload storage and
// observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "way-api")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the relational store.
type DBConfig struct {
	Driver  string        // sqlite|postgres|mysql
	Path    string        // SQLite file path
	DSN     string        // postgres/mysql DSN
	Timeout time.Duration // upper bound for one store transaction
}

// WindowConfig is one sliding attempt window (W, C).
type WindowConfig struct {
	Window time.Duration
	Max    int
}

// RedisConfig points the attempt windows at a shared Redis. Empty Addr keeps
// them in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CloudinaryConfig holds direct-upload credentials.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// StorageConfig configures where uploaded media lands.
type StorageConfig struct {
	Backend       string        // local|cloudinary
	Dir           string        // local root directory
	PublicBaseURL string        // absolute origin used to build upload and media URLs
	TokenSecret   string        // HMAC secret for local upload tokens
	UploadTTL     time.Duration // validity of an upload slot
	MaxBytes      int64         // per-object ceiling
	Cloudinary    CloudinaryConfig
}

// JobsConfig controls background maintenance.
type JobsConfig struct {
	SweepInterval       time.Duration
	OrphanSweepEnabled  bool
	OrphanSweepInterval time.Duration
	OrphanGrace         time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Store
	DB             DBConfig
	ReportTimezone string        // IANA zone used for today/month windows
	TenantCacheTTL time.Duration // slug -> id cache on read paths

	// Rate limiting
	RateRPS           float64 // global token bucket, tokens per second (>= 0)
	RateBurst         int     // global bucket size (>= 1)
	SubmitWindow      WindowConfig
	UploadWindow      WindowConfig
	RateRedis         RedisConfig
	TrustProxyHeaders bool

	// Uploads
	Storage StorageConfig

	// Background jobs
	Jobs JobsConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	port := getenv("PORT", "8080")
	cfg := Config{
		// Server
		Port:              port,
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Store
		DB: DBConfig{
			Driver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:    getenv("DB_PATH", "way.db"),
			DSN:     getenv("DB_DSN", ""),
			Timeout: getdur("STORE_TIMEOUT", 5*time.Second),
		},
		ReportTimezone: getenv("REPORT_TIMEZONE", "UTC"),
		TenantCacheTTL: getdur("TENANT_CACHE_TTL", 5*time.Minute),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),
		SubmitWindow: WindowConfig{
			Window: getdur("SUBMIT_RATE_WINDOW", 60*time.Second),
			Max:    getint("SUBMIT_RATE_MAX", 20),
		},
		UploadWindow: WindowConfig{
			Window: getdur("UPLOAD_RATE_WINDOW", 60*time.Second),
			Max:    getint("UPLOAD_RATE_MAX", 20),
		},
		RateRedis: RedisConfig{
			Addr:     getenv("RATE_REDIS_ADDR", ""),
			Password: getenv("RATE_REDIS_PASSWORD", ""),
			DB:       getint("RATE_REDIS_DB", 0),
		},
		TrustProxyHeaders: getbool("TRUST_PROXY_HEADERS", true),

		// Uploads
		Storage: StorageConfig{
			Backend:       strings.ToLower(getenv("STORAGE_BACKEND", "local")),
			Dir:           getenv("STORAGE_DIR", "uploads"),
			PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
			TokenSecret:   getenv("UPLOAD_TOKEN_SECRET", ""),
			UploadTTL:     getdur("UPLOAD_TTL", 60*time.Second),
			MaxBytes:      int64(getint("UPLOAD_MAX_BYTES", 5<<20)),
			Cloudinary: CloudinaryConfig{
				CloudName: getenv("CLOUDINARY_CLOUD_NAME", ""),
				APIKey:    getenv("CLOUDINARY_API_KEY", ""),
				APISecret: getenv("CLOUDINARY_API_SECRET", ""),
				Folder:    getenv("CLOUDINARY_FOLDER", "way"),
			},
		},

		// Background jobs
		Jobs: JobsConfig{
			SweepInterval:       getdur("SWEEP_INTERVAL", time.Minute),
			OrphanSweepEnabled:  getbool("ORPHAN_SWEEP_ENABLED", false),
			OrphanSweepInterval: getdur("ORPHAN_SWEEP_INTERVAL", time.Hour),
			OrphanGrace:         getdur("ORPHAN_GRACE", 24*time.Hour),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "way-api"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return fmt.Errorf("DB_DSN is required for DB_DRIVER=%s", cfg.DB.Driver)
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if cfg.DB.Timeout <= 0 {
		return errors.New("STORE_TIMEOUT must be > 0")
	}
	if _, err := time.LoadLocation(cfg.ReportTimezone); err != nil {
		return fmt.Errorf("REPORT_TIMEZONE is not a known location: %w", err)
	}
	if cfg.TenantCacheTTL < 0 {
		return errors.New("TENANT_CACHE_TTL must be >= 0")
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.SubmitWindow.Window <= 0 || cfg.SubmitWindow.Max < 1 {
		return errors.New("SUBMIT_RATE_WINDOW must be > 0 and SUBMIT_RATE_MAX >= 1")
	}
	if cfg.UploadWindow.Window <= 0 || cfg.UploadWindow.Max < 1 {
		return errors.New("UPLOAD_RATE_WINDOW must be > 0 and UPLOAD_RATE_MAX >= 1")
	}

	switch cfg.Storage.Backend {
	case "local":
		if strings.TrimSpace(cfg.Storage.Dir) == "" {
			return errors.New("STORAGE_DIR must not be empty")
		}
	case "cloudinary":
		c := cfg.Storage.Cloudinary
		if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
			return errors.New("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET are required for STORAGE_BACKEND=cloudinary")
		}
	default:
		return errors.New("STORAGE_BACKEND must be one of: local, cloudinary")
	}
	if !strings.HasPrefix(cfg.Storage.PublicBaseURL, "http://") && !strings.HasPrefix(cfg.Storage.PublicBaseURL, "https://") {
		return errors.New("PUBLIC_BASE_URL must be an absolute http(s) URL")
	}
	if cfg.Storage.UploadTTL <= 0 {
		return errors.New("UPLOAD_TTL must be > 0")
	}
	if cfg.Storage.MaxBytes <= 0 {
		return errors.New("UPLOAD_MAX_BYTES must be > 0")
	}

	if cfg.Jobs.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be > 0")
	}
	if cfg.Jobs.OrphanSweepEnabled && (cfg.Jobs.OrphanSweepInterval <= 0 || cfg.Jobs.OrphanGrace <= 0) {
		return errors.New("ORPHAN_SWEEP_INTERVAL and ORPHAN_GRACE must be > 0")
	}

	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// Location returns the reporting time zone; Load has already validated it.
func (cfg Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
