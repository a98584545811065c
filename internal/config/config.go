// Package config loads service configuration from environment variables.
// It is parsed once in main and handed down by value; nothing in this
// repository reads the environment after startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// API configures the ingest endpoint process.
type API struct {
	Region        string        `env:"AWS_REGION"`
	RequestsTable string        `env:"REQUESTS_TABLE"`
	QueueURL      string        `env:"CLEARANCE_QUEUE_URL"`
	Retention     time.Duration `env:"RECORD_RETENTION" envDefault:"1h"`
	RetryHint     time.Duration `env:"RETRY_HINT" envDefault:"1s"`
	OwnerSecret   string        `env:"OWNER_KEY_SECRET,required,notEmpty"`
	RunLocal      bool          `env:"RUN_LOCAL"`
	LocalAddr     string        `env:"LOCAL_ADDR" envDefault:":8080"`
}

// Worker configures the worker process.
type Worker struct {
	Region          string        `env:"AWS_REGION"`
	RequestsTable   string        `env:"REQUESTS_TABLE"`
	QueueURL        string        `env:"CLEARANCE_QUEUE_URL"`
	Retention       time.Duration `env:"RECORD_RETENTION" envDefault:"1h"`
	AuthorityURL    string        `env:"AUTHORITY_URL"`
	AuthorityAPIKey string        `env:"AUTHORITY_API_KEY"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	// UpstreamRate caps clearance calls per second in local consumer
	// mode; the authority throttles hard above ~10 rps per client.
	UpstreamRate float64 `env:"UPSTREAM_RATE" envDefault:"5"`
	RunLocal     bool    `env:"RUN_LOCAL"`
}

// LoadAPI parses API configuration from the environment.
func LoadAPI() (API, error) {
	var cfg API
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadWorker parses worker configuration from the environment.
func LoadWorker() (Worker, error) {
	var cfg Worker
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
