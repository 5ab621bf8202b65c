// Command frontend serves the fastapi-mfe-test micro-frontend with browser
// telemetry: it hosts the SPA build, turns the browser's beacons into
// traces and metrics, and relays the demo backend calls with trace headers.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gbrivate/grafana-lgtm/internal/api"
	"github.com/gbrivate/grafana-lgtm/internal/web"
	"github.com/gbrivate/grafana-lgtm/telemetry"
)

func main() {
	// 1. Host configuration first (fail fast)
	cfg, err := web.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 2. Telemetry before anything issues requests
	tel := initTelemetry()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			log.Printf("Warning: telemetry shutdown error: %v", err)
		}
	}()
	logger := telemetry.GetLogger()

	// 3. Beacons feed the bus, the telemetry context consumes it
	bus := telemetry.NewBus()
	sub := tel.Observe(bus)
	defer sub.Unsubscribe()

	client := api.New(tel.HTTPClient(), cfg.API)
	server := web.NewServer(cfg, tel, bus, client)

	// 4. Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Shutting down gracefully", map[string]interface{}{"signal": sig.String()})
		if err := server.Stop(context.Background()); err != nil {
			logger.Error("Server shutdown failed", map[string]interface{}{"error": err})
		}
	}()

	// 5. Serve (blocking)
	if err := server.Start(); err != nil {
		logger.Error("Server error", map[string]interface{}{"error": err})
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Shutdown completed", nil)
}

// initTelemetry selects the profile from APP_ENV and initializes the global
// context. Failures degrade to the no-op context so the page still serves.
func initTelemetry() *telemetry.Telemetry {
	profile := telemetry.ProfileDevelopment
	switch os.Getenv("APP_ENV") {
	case "production", "prod":
		profile = telemetry.ProfileProduction
	}

	config, err := telemetry.LoadConfig(profile)
	if err != nil {
		log.Printf("Warning: telemetry configuration rejected: %v", err)
		log.Printf("Application will continue without telemetry")
		return telemetry.Global()
	}

	tel, err := telemetry.Initialize(context.Background(), config)
	if err != nil {
		log.Printf("Warning: telemetry initialization failed: %v", err)
		log.Printf("Application will continue without telemetry")
		return telemetry.Global()
	}
	return tel
}
