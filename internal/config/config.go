package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBSource       string
	Port           string
	Env            string
	SweepInterval  time.Duration
	PushWebhookURL string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	sweepInterval := time.Hour
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL %q: %w", raw, err)
		}
		sweepInterval = parsed
	}

	return &Config{
		DBSource:       dbSource,
		Port:           port,
		Env:            env,
		SweepInterval:  sweepInterval,
		PushWebhookURL: os.Getenv("PUSH_WEBHOOK_URL"),
	}, nil
}
