package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/errhub/internal/fingerprint"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// Config holds all configuration for the errhub server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ingest    IngestConfig
	RateLimit RateLimitConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	LogLevel          slog.Level
	MigrationsDir     string
	BootstrapAdminKey string
}

type DatabaseConfig struct {
	Backend         string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// IngestConfig carries the toggles and limits the ingestion path is built with.
type IngestConfig struct {
	AutoAssign           bool
	MaxDetailLength      int
	MaxFieldLength       int
	DefaultEnvironment   string
	DefaultImpact        string
	FingerprintMode      string
	FingerprintMaxLength int
	ReopenPolicy         string
	RetryAttempts        int
	RetryInitialInterval time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// NotifyConfig controls the critical-impact signal published for downstream consumers.
type NotifyConfig struct {
	Critical bool
	Stream   string
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	ReopenResolved = "resolved"
	ReopenTerminal = "terminal"
	ReopenNever    = "never"
)

var validReopenPolicies = map[string]bool{
	ReopenResolved: true,
	ReopenTerminal: true,
	ReopenNever:    true,
}

var validFingerprintModes = map[string]bool{
	"truncate": true,
	"sha256":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("ERRHUB_PORT", 8080),
			Env:               envString("ERRHUB_ENV", "development"),
			LogLevel:          envLogLevel("ERRHUB_LOG_LEVEL", slog.LevelInfo),
			MigrationsDir:     envString("ERRHUB_MIGRATIONS_DIR", "migrations"),
			BootstrapAdminKey: os.Getenv("ERRHUB_BOOTSTRAP_ADMIN_KEY"),
		},
		Database: DatabaseConfig{
			Backend:         envString("ERRHUB_STORE_BACKEND", BackendPostgres),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Ingest: IngestConfig{
			AutoAssign:           envBool("ERRHUB_AUTO_ASSIGN", false),
			MaxDetailLength:      envInt("ERRHUB_MAX_DETAIL_LENGTH", 32768),
			MaxFieldLength:       envInt("ERRHUB_MAX_FIELD_LENGTH", 255),
			DefaultEnvironment:   envString("ERRHUB_DEFAULT_ENVIRONMENT", "Production"),
			DefaultImpact:        envString("ERRHUB_DEFAULT_IMPACT", "Medium"),
			FingerprintMode:      envString("ERRHUB_FINGERPRINT_MODE", "truncate"),
			FingerprintMaxLength: envInt("ERRHUB_FINGERPRINT_MAX_LENGTH", 255),
			ReopenPolicy:         envString("ERRHUB_REOPEN_POLICY", ReopenResolved),
			RetryAttempts:        envInt("ERRHUB_STORE_RETRY_ATTEMPTS", 3),
			RetryInitialInterval: envDuration("ERRHUB_STORE_RETRY_INTERVAL", 50*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("ERRHUB_RATE_LIMIT_PER_MINUTE", 600),
		},
		Notify: NotifyConfig{
			Critical: envBool("ERRHUB_NOTIFY_CRITICAL", false),
			Stream:   envString("ERRHUB_NOTIFY_STREAM", "errhub:critical"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("ERRHUB_STORE_BACKEND must be one of postgres, memory; got %q", c.Database.Backend)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Ingest.MaxDetailLength <= 0 {
		return fmt.Errorf("ERRHUB_MAX_DETAIL_LENGTH must be positive, got %d", c.Ingest.MaxDetailLength)
	}
	if c.Ingest.MaxFieldLength <= 0 {
		return fmt.Errorf("ERRHUB_MAX_FIELD_LENGTH must be positive, got %d", c.Ingest.MaxFieldLength)
	}
	if n := c.Ingest.FingerprintMaxLength; n <= 0 || n > fingerprint.MaxLength {
		return fmt.Errorf("ERRHUB_FINGERPRINT_MAX_LENGTH must be between 1 and %d, got %d", fingerprint.MaxLength, n)
	}
	if !validFingerprintModes[c.Ingest.FingerprintMode] {
		return fmt.Errorf("ERRHUB_FINGERPRINT_MODE must be one of truncate, sha256; got %q", c.Ingest.FingerprintMode)
	}
	if !validReopenPolicies[c.Ingest.ReopenPolicy] {
		return fmt.Errorf("ERRHUB_REOPEN_POLICY must be one of resolved, terminal, never; got %q", c.Ingest.ReopenPolicy)
	}
	impact, ok := models.ParseImpact(c.Ingest.DefaultImpact)
	if !ok {
		return fmt.Errorf("ERRHUB_DEFAULT_IMPACT must be one of Critical, High, Medium, Low; got %q", c.Ingest.DefaultImpact)
	}
	c.Ingest.DefaultImpact = string(impact)
	if c.Ingest.RetryAttempts < 1 || c.Ingest.RetryAttempts > 5 {
		return fmt.Errorf("ERRHUB_STORE_RETRY_ATTEMPTS must be between 1 and 5, got %d", c.Ingest.RetryAttempts)
	}

	if c.Notify.Critical && c.Notify.Stream == "" {
		return fmt.Errorf("ERRHUB_NOTIFY_STREAM is required when ERRHUB_NOTIFY_CRITICAL is true")
	}

	if k := c.Server.BootstrapAdminKey; k != "" && len(k) < 16 {
		return fmt.Errorf("ERRHUB_BOOTSTRAP_ADMIN_KEY must be at least 16 characters")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
