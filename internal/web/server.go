package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gbrivate/grafana-lgtm/internal/api"
	"github.com/gbrivate/grafana-lgtm/telemetry"
)

const (
	beaconPath = "/telemetry/beacon"
	healthPath = "/telemetry/health"
)

// Server is the frontend host.
type Server struct {
	cfg    Config
	tel    *telemetry.Telemetry
	bus    *telemetry.Bus
	api    *api.Client
	logger *telemetry.TelemetryLogger
	server *http.Server
}

// NewServer wires the host. bus receives decoded beacons; client serves the
// /api relay routes.
func NewServer(cfg Config, tel *telemetry.Telemetry, bus *telemetry.Bus, client *api.Client) *Server {
	if tel == nil {
		tel = telemetry.Global()
	}
	if cfg.MaxBeaconBytes <= 0 {
		cfg.MaxBeaconBytes = 256 << 10
	}
	s := &Server{
		cfg:    cfg,
		tel:    tel,
		bus:    bus,
		api:    client,
		logger: telemetry.GetLogger(),
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return s
}

// Handler returns the traced request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+beaconPath, s.handleBeacon)
	mux.HandleFunc("GET "+healthPath, telemetry.HealthHandler)

	mux.HandleFunc("GET /api/rolldice", s.handleRollDice)
	mux.HandleFunc("GET /api/slow", s.handleSlow)
	mux.HandleFunc("GET /api/hello", s.handleHello)
	mux.HandleFunc("GET /api/error", s.handleError)
	mux.HandleFunc("GET /api/call-loop", s.handleCallLoop)
	mux.HandleFunc("GET /api/java/hello", s.handleJava)
	mux.HandleFunc("POST /api/sign-document", s.handleSign)
	mux.HandleFunc("POST /api/verify-document", s.handleVerify)

	mux.Handle("/", newStaticHandler(s.cfg.DistDir))

	return s.tel.TracingMiddleware("frontend", &telemetry.MiddlewareConfig{
		ExcludedPaths: []string{healthPath},
		SessionHeader: telemetry.SessionIDHeader,
	})(mux)
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting frontend server", map[string]interface{}{
		"address":  s.cfg.Addr,
		"dist_dir": s.cfg.DistDir,
	})

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests, bounded by ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}
