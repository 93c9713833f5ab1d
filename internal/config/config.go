// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// The process exits if any field tagged "required" is missing or [Config.Validate]
// rejects a value, before any listener is opened.
package config

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minJWTSecretLen is the minimum HS256 key length in bytes.
const minJWTSecretLen = 32

// Config holds all application configuration sourced from environment variables.
// Secrets are redacted by LogValue.
type Config struct {
	// ── Database (DB binding) ────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`
	// DatabaseURLMigrate overrides DatabaseURL for `migrate` (owner role).
	DatabaseURLMigrate string `env:"DATABASE_URL_MIGRATE"`

	// ── Sessions (SESSIONS binding) ──────────────────────────────────────────────
	RedisURL      string `env:"REDIS_URL,required,notEmpty"`
	SessionPrefix string `env:"SESSION_PREFIX" envDefault:"ozzy:"`

	// ── AI (AI binding) ──────────────────────────────────────────────────────────
	AIBaseURL        string        `env:"AI_BASE_URL,required,notEmpty"`
	AIAPIToken       string        `env:"AI_API_TOKEN,required,notEmpty"`
	AITextModel      string        `env:"AI_TEXT_MODEL"      envDefault:"@cf/meta/llama-3.1-8b-instruct"`
	AIEmbeddingModel string        `env:"AI_EMBEDDING_MODEL" envDefault:"@cf/baai/bge-base-en-v1.5"`
	AITimeout        time.Duration `env:"AI_TIMEOUT"         envDefault:"30s"`
	AIEmbedCacheSize int64         `env:"AI_EMBED_CACHE_SIZE" envDefault:"10000"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// ── Auth ─────────────────────────────────────────────────────────────────────
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	// Must be false for http://localhost; must be true in production with TLS.
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"false"`
	// Max simultaneous argon2 operations; each allocates ~19.5 MB.
	Argon2MaxConcurrent int           `env:"ARGON2_MAX_CONCURRENT" envDefault:"5"`
	RateLimitEvictTTL   time.Duration `env:"RATE_LIMIT_EVICT_TTL"  envDefault:"15m"`
	// BootstrapSecret enables POST /api/v1/bootstrap while no users exist.
	BootstrapSecret string `env:"BOOTSTRAP_SECRET"`

	// ── Push notifications ───────────────────────────────────────────────────────
	// VAPIDPublicKey is the base64url application server key handed to browsers.
	VAPIDPublicKey string `env:"VAPID_PUBLIC_KEY,required,notEmpty"`

	// ── Payments ─────────────────────────────────────────────────────────────────
	PaystackSecret string `env:"PAYSTACK_SECRET,required,notEmpty"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses Config from environment variables and validates it.
// Returns an error if any required field is missing or malformed.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that parse but cannot work.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen))
	}
	if err := validatePushKey(c.VAPIDPublicKey); err != nil {
		errs = append(errs, fmt.Errorf("VAPID_PUBLIC_KEY: %w", err))
	}
	if u, err := url.Parse(c.AIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, errors.New("AI_BASE_URL must be an absolute http(s) URL"))
	}
	if strings.TrimSpace(c.PaystackSecret) == "" {
		errs = append(errs, errors.New("PAYSTACK_SECRET must not be blank"))
	}
	if c.Argon2MaxConcurrent < 1 {
		errs = append(errs, errors.New("ARGON2_MAX_CONCURRENT must be positive"))
	}
	if c.RateLimitEvictTTL <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_EVICT_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// validatePushKey checks that key is an uncompressed P-256 point encoded as
// unpadded base64url, the format browsers expect for applicationServerKey.
func validatePushKey(key string) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
	if err != nil {
		return fmt.Errorf("not base64url: %w", err)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return fmt.Errorf("not an uncompressed P-256 public key: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// redactURL masks the password component of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redact(raw)
	}
	return u.Redacted()
}

// LogValue implements slog.LogValuer so the config can be logged at startup
// without leaking secrets.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("database_url", redactURL(c.DatabaseURL)),
		slog.String("redis_url", redactURL(c.RedisURL)),
		slog.String("ai_base_url", c.AIBaseURL),
		slog.String("ai_api_token", redact(c.AIAPIToken)),
		slog.String("ai_text_model", c.AITextModel),
		slog.String("ai_embedding_model", c.AIEmbeddingModel),
		slog.String("listen_addr", c.ListenAddr),
		slog.String("app_env", c.AppEnv),
		slog.String("jwt_secret", redact(c.JWTSecret)),
		slog.String("paystack_secret", redact(c.PaystackSecret)),
		slog.Bool("bootstrap_enabled", c.BootstrapSecret != ""),
		slog.String("vapid_public_key", c.VAPIDPublicKey),
		slog.String("log_level", c.LogLevel),
	)
}
