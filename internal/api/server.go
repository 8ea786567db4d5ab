package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/wyzesense-bridge/internal/bridge"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each dependency check in /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MetricsProvider supplies bridge counters.
type MetricsProvider interface {
	GetMetrics() bridge.BridgeMetrics
}

// SubscriptionCounter reports how many broker subscriptions are tracked.
type SubscriptionCounter interface {
	SubscriptionCount() int
}

// SensorLister reads the sensor inventory.
type SensorLister interface {
	ListSensors(ctx context.Context) ([]bridge.Sensor, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  MetricsProvider
	Sensors SensorLister        // Optional; nil when the database is disabled
	Broker  SubscriptionCounter // Optional

	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]HealthChecker

	// Registry is served on /metrics. A private registry with the bridge
	// collector is created when nil.
	Registry *prometheus.Registry

	Version string
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    MetricsProvider
	sensors   SensorLister
	broker    SubscriptionCounter
	checks    map[string]HealthChecker
	registry  *prometheus.Registry
	version   string
	startTime time.Time
	handler   http.Handler
}

// New creates a new API server with the given dependencies.
//
// The server is not listening until Run is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		if err := registry.Register(bridge.NewCollector(deps.Bridge)); err != nil {
			return nil, fmt.Errorf("registering bridge collector: %w", err)
		}
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		sensors:   deps.Sensors,
		broker:    deps.Broker,
		checks:    deps.Checks,
		registry:  registry,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully. A listen failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("API server listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
