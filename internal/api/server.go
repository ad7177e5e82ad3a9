package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/webthing-core/internal/infrastructure/config"
	"github.com/nerrad567/webthing-core/internal/infrastructure/logging"
	"github.com/nerrad567/webthing-core/internal/journal"
	"github.com/nerrad567/webthing-core/internal/metrics"
	"github.com/nerrad567/webthing-core/internal/thing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by components reported on /health.
// *database.DB, *mqtt.Client and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Things      *thing.Registry
	Metrics     *metrics.Collector       // optional; enables /metrics and request metrics
	MetricsPath string                   // defaults to /metrics
	Journal     journal.Repository       // optional; enables /things/{id}/journal
	Checks      map[string]HealthChecker // optional components reported by /health
	Version     string
}

// Server is the HTTP API server for webthingd.
//
// It serves the thing descriptions, property, action and event resources,
// and one WebSocket endpoint per thing. The server is created with New()
// and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	things      *thing.Registry
	metrics     *metrics.Collector
	metricsPath string
	journal     journal.Repository
	checks      map[string]HealthChecker
	version     string
	server      *http.Server
	listener    net.Listener

	sessionsMu sync.Mutex
	sessions   map[*wsSession]struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, thing registry)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Things == nil {
		return nil, fmt.Errorf("thing registry is required")
	}

	path := deps.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		things:      deps.Things,
		metrics:     deps.Metrics,
		metricsPath: path,
		journal:     deps.Journal,
		checks:      deps.Checks,
		version:     deps.Version,
		sessions:    make(map[*wsSession]struct{}),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// WebSocket sessions are closed first since Shutdown does not track hijacked
// connections. It then waits up to 10 seconds for in-flight requests.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.closeSessions()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck runs every registered component check.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - map[string]string: "ok" or the error text per component
//   - error: Non-nil if any component is unhealthy
func (s *Server) HealthCheck(ctx context.Context) (map[string]string, error) {
	results := make(map[string]string, len(s.checks))
	var errs []error
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		results[name] = "ok"
	}
	return results, errors.Join(errs...)
}
