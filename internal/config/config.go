// Package config provides centralized configuration for the operator console.
// Settings come from environment variables (optionally seeded from a .env
// file by cmd/server), fall back to defaults, and are validated on startup so
// a misconfigured console refuses to start instead of failing mid-workflow.
package config

import (
	"strconv"
	"time"
)

// Persistence backends.
const (
	BackendService  = "service"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Validator   ValidatorConfig
	Persistence PersistenceConfig
	Database    DatabaseConfig
	Upload      UploadConfig
	Review      ReviewConfig
	Session     SessionConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 3m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"3m"`
}

// ValidatorConfig describes how to reach the remote validation service.
type ValidatorConfig struct {
	// URL is the base URL of the validation service (default: http://localhost:8000)
	URL string `env:"VALIDATOR_URL" default:"http://localhost:8000"`

	// HealthPath is the liveness endpoint polled by the availability monitor
	HealthPath string `env:"VALIDATOR_HEALTH_PATH" default:"/health"`

	// PollInterval is the fixed liveness probe cadence (default: 2s)
	PollInterval time.Duration `env:"VALIDATOR_POLL_INTERVAL" default:"2s"`

	// ProbeTimeout bounds a single liveness probe (default: 2s)
	ProbeTimeout time.Duration `env:"VALIDATOR_PROBE_TIMEOUT" default:"2s"`

	// ValidateTimeout bounds a single validate call (default: 2m)
	ValidateTimeout time.Duration `env:"VALIDATOR_VALIDATE_TIMEOUT" default:"2m"`

	// SaveTimeout bounds a single save call (default: 1m)
	SaveTimeout time.Duration `env:"VALIDATOR_SAVE_TIMEOUT" default:"1m"`

	// MaxConcurrent caps outbound validate/save calls across sessions (default: 5)
	MaxConcurrent int `env:"VALIDATOR_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a call waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"VALIDATOR_MAX_WAIT_TIME" default:"30s"`

	// MaxResponseSize caps the decoded report body in bytes (default: 64MB)
	MaxResponseSize int64 `env:"VALIDATOR_MAX_RESPONSE_SIZE" default:"67108864"`
}

// PersistenceConfig selects where validated previews are committed.
type PersistenceConfig struct {
	// Backend is "service" (remote /save endpoint) or "postgres" (direct sink)
	Backend string `env:"PERSIST_BACKEND" default:"service"`
}

// DatabaseConfig holds settings for the Postgres sink.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required when PERSIST_BACKEND=postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds spreadsheet upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted workbook size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// ReviewConfig holds settings for the review screen.
type ReviewConfig struct {
	// PreviewRows is the number of rows shown per table (default: 20)
	PreviewRows int `env:"REVIEW_PREVIEW_ROWS" default:"20"`
}

// SessionConfig holds operator session settings.
type SessionConfig struct {
	// TTL is how long an idle operator session is kept (default: 8h)
	TTL time.Duration `env:"SESSION_TTL" default:"8h"`

	// CookieName is the session cookie name (default: sheetgate_session)
	CookieName string `env:"SESSION_COOKIE_NAME" default:"sheetgate_session"`

	// SecureCookie sets the Secure flag on the session cookie (default: false)
	SecureCookie bool `env:"SESSION_SECURE_COOKIE" default:"false"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
