package events

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid gateway configuration.
var ErrConfig = errors.New("invalid config")

// Config is the websocket gateway policy.
type Config struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool `env:"NID_EVENTS_ORIGIN_REQUIRED" envDefault:"true"`

	// AllowedOrigins is the Origin allowlist; "*" allows any.
	AllowedOrigins []string `env:"NID_EVENTS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`

	WriteTimeout     time.Duration `env:"NID_EVENTS_WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout  time.Duration `env:"NID_EVENTS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	HeartbeatEvery   time.Duration `env:"NID_EVENTS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout time.Duration `env:"NID_EVENTS_HEARTBEAT_TIMEOUT" envDefault:"5s"`
	SendQueue        int           `env:"NID_EVENTS_SEND_QUEUE" envDefault:"16"`
	RateEvents       int           `env:"NID_EVENTS_RATE_EVENTS" envDefault:"20"`
	RateWindow       time.Duration `env:"NID_EVENTS_RATE_WINDOW" envDefault:"10s"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:     5 * time.Second,
		ReadIdleTimeout:  2 * time.Minute,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		SendQueue:        defaultSendQueue,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadConfigFromEnv reads the NID_EVENTS_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, ErrConfig
	}
	if cfg.WriteTimeout <= 0 || cfg.ReadIdleTimeout <= 0 || cfg.HeartbeatEvery <= 0 || cfg.HeartbeatTimeout <= 0 {
		return Config{}, ErrConfig
	}
	if cfg.SendQueue <= 0 || cfg.RateEvents <= 0 || cfg.RateWindow <= 0 {
		return Config{}, ErrConfig
	}
	return cfg, nil
}
