package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/internal/session"
	"nidentity/cmd/internal/storage"
)

// ErrConfig is returned when the runtime configuration cannot be used.
var ErrConfig = errors.New("invalid config")

// Store backends accepted by NID_STORE.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	SiteURL  string
	Remember bool

	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Session persistence.
	Store        string
	StorePath    string
	StoreProfile string
	StoreTTL     time.Duration

	RedisAddr     string
	RedisPassword string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz fails unless the session store answers.
	ReadinessRequireStore bool

	// If true, NID_SESSION_KEY must be set whenever sessions leave the process.
	RequireSessionKey bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		SiteURL:  EnvString("NID_SITE_URL", ""),
		Remember: EnvBool("NID_REMEMBER", true),

		HTTPAddr:  EnvString("NID_HTTP_ADDR", "127.0.0.1:8787"),
		LogLevel:  EnvString("NID_LOG_LEVEL", "info"),
		LogFormat: EnvString("NID_LOG_FORMAT", "json"),
		LogColor:  EnvBool("NID_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("NID_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("NID_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("NID_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("NID_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("NID_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvList("NID_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("NID_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("NID_CORS_MAX_AGE_SECONDS", 600),

		Store:        strings.ToLower(EnvString("NID_STORE", StoreFile)),
		StorePath:    EnvString("NID_STORE_PATH", ""),
		StoreProfile: EnvString("NID_STORE_PROFILE", storage.DefaultProfile),
		StoreTTL:     EnvDuration("NID_STORE_TTL", 30*24*time.Hour),

		RedisAddr:     EnvString("NID_REDIS_ADDR", ""),
		RedisPassword: EnvString("NID_REDIS_PASSWORD", ""),

		DatabaseURL: EnvString("NID_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("NID_DB_MAX_CONNS", 4),
		DBMinConns:  EnvInt32("NID_DB_MIN_CONNS", 0),

		ReadinessRequireStore: EnvBool("NID_READINESS_REQUIRE_STORE", false),
		RequireSessionKey:     EnvBool("NID_REQUIRE_SESSION_KEY", false),
	}
}

// Validate checks the fields every command depends on.
func (c Config) Validate() error {
	if _, err := session.ParseSiteURL(c.SiteURL); err != nil {
		return fmt.Errorf("%w: NID_SITE_URL must be an absolute http(s) URL", ErrConfig)
	}
	switch c.Store {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: NID_STORE=redis needs NID_REDIS_ADDR", ErrConfig)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: NID_STORE=postgres needs NID_DATABASE_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown NID_STORE %q", ErrConfig, c.Store)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: unknown NID_LOG_FORMAT %q", ErrConfig, c.LogFormat)
	}
	return nil
}

// SessionConfig derives the controller configuration.
func (c Config) SessionConfig(identity gotrue.Config) session.Config {
	sc := session.DefaultConfig(c.SiteURL)
	sc.Remember = c.Remember
	sc.Identity = identity
	return sc
}
