// Package config loads application settings from environment variables,
// applies defaults and validates everything on startup so that
// misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Upload      UploadConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	Rename      RenameConfig
	Maintenance MaintenanceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout bounds reading a request, body included. Archives are
	// large, so the default is generous (default: 5m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is 0 so that SSE progress streams stay open (default: 0s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is how long shutdown waits for runs and requests (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming API requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig holds the optional run history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. History is kept in memory
	// when empty.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of pooled connections (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the number of connections kept open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime closes connections idle for this long (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a history database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// UploadConfig holds upload and run processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum size of one request body in bytes (default: 512MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"536870912"`

	// MaxConcurrent is the number of runs processed in parallel (default: 2)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a run waits for a processing slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a run (default: 30m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"30m"`

	// ResultTTL is how long finished runs can be downloaded (default: 30m)
	ResultTTL time.Duration `env:"UPLOAD_RESULT_TTL" default:"30m"`

	// WorkDir holds uploaded and generated archives (default: system temp dir)
	WorkDir string `env:"UPLOAD_WORK_DIR"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// UploadLimit is the per-minute limit for endpoints that start runs (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects the API routes with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RenameConfig holds renaming behaviour.
type RenameConfig struct {
	// CounterMode is "shared" (one counter reset on every code change) or
	// "per_code" (default: shared)
	CounterMode string `env:"RENAME_COUNTER_MODE" default:"shared"`

	// FolderMode enables runs on server-local folders (default: false)
	FolderMode bool `env:"RENAME_FOLDER_MODE" default:"false"`

	// HistorySize is the number of runs kept when no database is configured (default: 200)
	HistorySize int `env:"RENAME_HISTORY_SIZE" default:"200"`
}

// MaintenanceConfig holds the background cleanup job settings.
type MaintenanceConfig struct {
	// Interval is how often stale work files and old history are removed (default: 10m)
	Interval time.Duration `env:"MAINTENANCE_INTERVAL" default:"10m"`

	// HistoryRetention is how long run records are kept; 0 keeps them forever (default: 2160h)
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" default:"2160h"`
}
