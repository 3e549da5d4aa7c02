package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/retry"
	"github.com/nerrad567/gray-logic-access/internal/tenant"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher accepts commands. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, cmd dispatch.Command) (*dispatch.Future, error)
	Stats() dispatch.Stats
}

// TenantAdmin manages device-to-tenant mappings. *tenant.Manager satisfies it.
type TenantAdmin interface {
	Resolve(deviceID string) string
	SetMapping(ctx context.Context, deviceID, tenantID string) error
	RemoveMapping(ctx context.Context, deviceID string) error
	Mappings() map[string]string
	Stats() []tenant.Usage
}

// EventSource streams events of a consumer group. *events.Bridge satisfies it.
type EventSource interface {
	Subscribe(ctx context.Context, group string, deliver events.DeliverFunc) error
}

// DeadLetterStats reports retry list lengths. *retry.Coordinator satisfies it.
type DeadLetterStats interface {
	Stats(ctx context.Context) (retry.Stats, error)
}

// HealthChecker is implemented by infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Dispatcher Dispatcher
	Registry   *device.Registry
	Tenants    TenantAdmin

	// Optional. Without Events the stream endpoint answers 503.
	Events      EventSource
	DeadLetters DeadLetterStats
	Health      map[string]HealthChecker

	// Optional. Without Audit nothing is recorded and /audit answers 503.
	Audit audit.Repository

	Version string
}

// Server is the HTTP API server for accessd.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	dispatcher  Dispatcher
	registry    *device.Registry
	tenants     TenantAdmin
	events      EventSource
	deadLetters DeadLetterStats
	health      map[string]HealthChecker
	audit       audit.Repository
	version     string

	// base is cancelled by Close to end open event streams.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, dispatcher, registry, tenants)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Tenants == nil {
		return nil, fmt.Errorf("tenant manager is required")
	}

	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		dispatcher:  deps.Dispatcher,
		registry:    deps.Registry,
		tenants:     deps.Tenants,
		events:      deps.Events,
		deadLetters: deps.DeadLetters,
		health:      deps.Health,
		audit:       deps.Audit,
		version:     deps.Version,
		base:        base,
		cancel:      cancel,
	}, nil
}

// Handler returns the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background.
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
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

// Close ends open event streams and gracefully shuts down the HTTP server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.cancel()

	if s.server == nil {
		s.wg.Wait()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
