package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL             string `envconfig:"DATABASE_URL"`
	ProcedureTimeoutSeconds int    `envconfig:"PROCEDURE_TIMEOUT_SECONDS" default:"15"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret        string `envconfig:"AUTH_SECRET"`
	SessionTTLMinutes int    `envconfig:"SESSION_TTL_MINUTES" default:"480"`

	TaxRatePercent     float64 `envconfig:"TAX_RATE_PERCENT" default:"13"`
	DefaultWarehouseID int64   `envconfig:"DEFAULT_WAREHOUSE_ID" default:"1"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if cfg.ProcedureTimeoutSeconds < 1 {
		cfg.ProcedureTimeoutSeconds = 15
	}
	if cfg.SessionTTLMinutes < 1 {
		cfg.SessionTTLMinutes = 480
	}
	return cfg, nil
}

// Validate enforces settings that must not ship with dev defaults.
func (c Config) Validate() error {
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if c.TaxRatePercent < 0 || c.TaxRatePercent > 100 {
		return fmt.Errorf("TAX_RATE_PERCENT must be between 0 and 100")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
