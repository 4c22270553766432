package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DatabaseURL   string   `env:"DATABASE_URL,required"`
	MigrationsURL string   `env:"MIGRATIONS_URL,default=file://migrations"`
	Port          int      `env:"PORT,default=8080"`
	LogLevel      string   `env:"LOG_LEVEL,default=info"`
	CORSOrigins   []string `env:"CORS_ORIGINS"`

	// Admin authentication (Google ID tokens)
	GoogleClientID      string   `env:"GOOGLE_CLIENT_ID,required"`
	GoogleAllowedDomain string   `env:"GOOGLE_ALLOWED_DOMAIN"`
	GoogleAllowedEmails []string `env:"GOOGLE_ALLOWED_EMAILS"`

	// Per-IP auth attempt limiter
	AuthMaxFailures   int           `env:"AUTH_MAX_FAILURES,default=5"`
	AuthFailureWindow time.Duration `env:"AUTH_FAILURE_WINDOW,default=5m"`
	AuthBlockDuration time.Duration `env:"AUTH_BLOCK_DURATION,default=15m"`

	// Maintenance sweep for expired/revoked tokens
	PurgeInterval time.Duration `env:"PURGE_INTERVAL,default=1h"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.GoogleAllowedDomain == "" && len(c.GoogleAllowedEmails) == 0 {
		return fmt.Errorf("at least one of GOOGLE_ALLOWED_DOMAIN or GOOGLE_ALLOWED_EMAILS must be set")
	}
	if c.PurgeInterval < time.Minute {
		return fmt.Errorf("PURGE_INTERVAL must be at least 1m, got %s", c.PurgeInterval)
	}
	return nil
}
