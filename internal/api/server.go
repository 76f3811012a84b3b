package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/nerrad567/gray-logic-hub/internal/api")

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  *config.Config
	Hub     *hub.Hub
	Auth    *auth.Validator
	Logger  *logging.Logger
	Version string
}

// Server is the HTTP and WebSocket front end of the hub.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg      config.APIConfig
	site     config.SiteConfig
	hub      *hub.Hub
	auth     *auth.Validator
	logger   *logging.Logger
	version  string
	upgrader websocket.Upgrader

	handlerOnce sync.Once
	handler     http.Handler

	server   *http.Server
	listener net.Listener
	baseCtx  context.Context
	cancel   context.CancelFunc

	connsMu sync.Mutex
	conns   map[*conn]struct{}
}

// New creates a new API server. Nothing listens until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("token validator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     deps.Config.API,
		site:    deps.Config.Site,
		hub:     deps.Hub,
		auth:    deps.Auth,
		logger:  logger,
		version: deps.Version,
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Handler returns the router. It is built once and shared by Start and tests.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() { s.handler = s.buildRouter() })
	return s.handler
}

// Start binds the listener and serves in the background. A bind failure is
// returned synchronously.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info("API server listening", "address", ln.Addr().String(), "websocket", s.cfg.WebSocket.Path)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close disconnects every WebSocket client and shuts the HTTP server down,
// waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.cancel()
	s.closeConns()

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

// ConnectionCount returns the number of open WebSocket connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) register(c *conn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) unregister(c *conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

func (s *Server) closeConns() {
	s.connsMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.isAllowedOrigin(origin)
}
