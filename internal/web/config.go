// Package web hosts the micro-frontend: it serves the built SPA, ingests the
// browser's telemetry beacons and relays the demo calls to the backend.
package web

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/gbrivate/grafana-lgtm/internal/api"
)

// Config holds the host settings.
type Config struct {
	Addr    string `env:"FRONTEND_ADDR" envDefault:":4200"`
	DistDir string `env:"FRONTEND_DIST_DIR" envDefault:"dist/fastapi-mfe-test/browser"`

	ReadTimeout     time.Duration `env:"FRONTEND_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"FRONTEND_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"FRONTEND_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"FRONTEND_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes  int           `env:"FRONTEND_MAX_HEADER_BYTES" envDefault:"1048576"`

	// MaxBeaconBytes bounds one beacon request body.
	MaxBeaconBytes int64 `env:"FRONTEND_MAX_BEACON_BYTES" envDefault:"262144"`

	API api.Config
}

// LoadConfig reads the host configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse web config: %w", err)
	}
	if cfg.Addr == "" {
		return Config{}, fmt.Errorf("FRONTEND_ADDR must not be empty")
	}
	return cfg, nil
}
