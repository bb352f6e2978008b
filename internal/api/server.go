package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Client  *mqtt.Client
	Journal journal.Repository // optional; history endpoints return 503 without it
	Version string
}

// Server is the HTTP control surface for one mqtt.Client.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub
// that relays client events. Created with New, started with Start.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	client  *mqtt.Client
	journal journal.Repository
	version string

	mu        sync.Mutex
	server    *http.Server
	addr      string
	hub       *Hub
	listeners []mqtt.ListenerID
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		client:  deps.Client,
		journal: deps.Journal,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener, attaches the event relay, and serves HTTP in a
// background goroutine. Binding happens synchronously so a port conflict is
// returned here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	srvCtx, cancel := context.WithCancel(ctx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := (&net.ListenConfig{}).Listen(srvCtx, "tcp", addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	go s.hub.Run(srvCtx)
	s.listeners = s.relayEvents()
	s.cancel = cancel
	s.addr = ln.Addr().String()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	s.logger.Info("API server starting", "address", s.addr)

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It detaches the event relay, disconnects WebSocket clients, and waits up
// to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	listeners := s.listeners
	s.server = nil
	s.cancel = nil
	s.listeners = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	for _, id := range listeners {
		s.client.Events().Remove(id)
	}
	if cancel != nil {
		cancel()
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
