package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
	"github.com/nerrad567/gray-logic-hwmon/internal/history"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a dependency whose liveness is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatser exposes connection pool statistics for /metrics.
type DBStatser interface {
	Stats() sql.DBStats
}

// MQTTStatser exposes MQTT traffic counters for /metrics.
type MQTTStatser interface {
	Stats() mqtt.Stats
}

// TelemetryStatser exposes InfluxDB write counters for /metrics.
type TelemetryStatser interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Adapter  *hwmon.Adapter

	// History serves /devices/{id}/history. Optional.
	History history.Repository

	// Hub is the WebSocket hub, normally also registered as an adapter
	// notifier. If nil the server creates its own.
	Hub *Hub

	// Checks are reported by /health by name. Optional.
	Checks map[string]HealthChecker

	// DB feeds pool statistics into /metrics. Optional.
	DB DBStatser

	// MQTT feeds broker traffic counters into /metrics. Optional.
	MQTT MQTTStatser

	// Telemetry feeds InfluxDB counters into /metrics. Optional.
	Telemetry TelemetryStatser

	// PairingTimeout is used when a start request names none.
	PairingTimeout time.Duration

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	logger         *logging.Logger
	adapter        *hwmon.Adapter
	history        history.Repository
	checks         map[string]HealthChecker
	db             DBStatser
	mqtt           MQTTStatser
	telemetry      TelemetryStatser
	pairingTimeout time.Duration
	version        string
	startTime      time.Time

	hub         *Hub
	externalHub bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates an API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		adapter:        deps.Adapter,
		history:        deps.History,
		checks:         deps.Checks,
		db:             deps.DB,
		mqtt:           deps.MQTT,
		telemetry:      deps.Telemetry,
		pairingTimeout: deps.PairingTimeout,
		version:        deps.Version,
		startTime:      time.Now(),
		hub:            deps.Hub,
		externalHub:    deps.Hub != nil,
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background. Bind
// errors are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}(s.server)

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts the server down, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.server = nil
	s.cancel = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
