// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full service configuration. A .env file in the working
// directory is honored for local development; real deployments set the
// variables directly.
type Config struct {
	Port        int    `env:"CEREAL_PORT" envDefault:"3000"`
	DatabaseURL string `env:"CEREAL_DATABASE_URL" envDefault:"user=postgres password=password dbname=cereal host=localhost port=5432 sslmode=disable"`

	LogLevel  string `env:"CEREAL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CEREAL_LOG_FORMAT" envDefault:"json"`

	MailgunAPIKey   string `env:"CEREAL_MAILGUN_API_KEY"`
	MailgunEndpoint string `env:"CEREAL_MAILGUN_API_ENDPOINT"`
	FromEmail       string `env:"CEREAL_FROM_EMAIL_ADDRESS"`
	PushoverToken   string `env:"CEREAL_PUSHOVER_TOKEN"`

	DiscoveryInterval  time.Duration `env:"CEREAL_DISCOVERY_INTERVAL" envDefault:"5m"`
	HydrationInterval  time.Duration `env:"CEREAL_HYDRATION_INTERVAL" envDefault:"10s"`
	ConversionInterval time.Duration `env:"CEREAL_CONVERSION_INTERVAL" envDefault:"10s"`
	DeliveryInterval   time.Duration `env:"CEREAL_DELIVERY_INTERVAL" envDefault:"10s"`

	IngestionWorkers int `env:"CEREAL_INGESTION_WORKERS" envDefault:"4"`
	DeliveryWorkers  int `env:"CEREAL_DELIVERY_WORKERS" envDefault:"4"`

	UnitTimeout time.Duration `env:"CEREAL_UNIT_TIMEOUT" envDefault:"1m"`
	BackoffBase time.Duration `env:"CEREAL_BACKOFF_BASE" envDefault:"1m"`
	BackoffMax  time.Duration `env:"CEREAL_BACKOFF_MAX" envDefault:"1h"`
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("CEREAL_PORT must be between 1 and 65535")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("CEREAL_DATABASE_URL is required")
	}
	if c.IngestionWorkers < 1 {
		return fmt.Errorf("CEREAL_INGESTION_WORKERS must be at least 1")
	}
	if c.DeliveryWorkers < 1 {
		return fmt.Errorf("CEREAL_DELIVERY_WORKERS must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"CEREAL_DISCOVERY_INTERVAL":  c.DiscoveryInterval,
		"CEREAL_HYDRATION_INTERVAL":  c.HydrationInterval,
		"CEREAL_CONVERSION_INTERVAL": c.ConversionInterval,
		"CEREAL_DELIVERY_INTERVAL":   c.DeliveryInterval,
		"CEREAL_UNIT_TIMEOUT":        c.UnitTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
