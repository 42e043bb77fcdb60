package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamcast/signal-relay/internal/httpserver"
	"github.com/streamcast/signal-relay/internal/metrics"
)

// Config carries the signaling server's tunables. Zero values fall back to
// the defaults below, so tests can construct a Server with only the fields
// they care about.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins restricts websocket upgrades by Origin header.
	// Empty means any origin, including none.
	AllowedOrigins []string

	// WSIdleTimeout closes a connection that produces no frame (pong
	// included) for this long.
	WSIdleTimeout time.Duration

	// WSPingInterval is how often the server pings each connection.
	WSPingInterval time.Duration

	// MaxMessageBytes caps a single inbound frame.
	MaxMessageBytes int64

	// MaxMessagesPerSecond caps each connection's inbound message rate.
	MaxMessagesPerSecond int

	// SendBufferMessages is each connection's outbound queue depth;
	// a connection that overflows it is closed.
	SendBufferMessages int
}

const (
	defaultWSIdleTimeout        = 60 * time.Second
	defaultWSPingInterval       = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendBufferMessages   = 64
)

// Server accepts websocket connections on /signal and relays signaling
// between the broadcaster and its viewers.
type Server struct {
	cfg Config

	log     *slog.Logger
	metrics *metrics.Metrics

	registry  *Registry
	lifecycle *Lifecycle
	router    *Router

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		clients: make(map[*client]struct{}),
	}
	s.registry = NewRegistry()
	s.lifecycle = NewLifecycle(s.registry, s.log, s.metrics)
	s.router = NewRouter(s.registry, s.lifecycle, s.log, s.metrics)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return httpserver.CheckRequestOrigin(r, cfg.AllowedOrigins)
		},
	}
	return s
}

// RegisterRoutes attaches the signaling endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// Registry exposes the connection registry, primarily for tests and for
// readiness reporting.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	id := uuid.NewString()
	c := newClient(id, conn, s)
	if !s.track(c) {
		conn.Close()
		return
	}
	s.log.Info("client connected", "client_id", id, "remote", r.RemoteAddr)

	c.run()

	s.untrack(c)
	s.log.Info("client disconnected", "client_id", id)
}

// Close tears down every active connection. New upgrades are refused after
// Close returns.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) wsIdleTimeout() time.Duration {
	if s.cfg.WSIdleTimeout > 0 {
		return s.cfg.WSIdleTimeout
	}
	return defaultWSIdleTimeout
}

func (s *Server) wsPingInterval() time.Duration {
	if s.cfg.WSPingInterval > 0 {
		return s.cfg.WSPingInterval
	}
	return defaultWSPingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes > 0 {
		return s.cfg.MaxMessageBytes
	}
	return defaultMaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxMessagesPerSecond > 0 {
		return s.cfg.MaxMessagesPerSecond
	}
	return defaultMaxMessagesPerSecond
}

func (s *Server) sendBufferMessages() int {
	if s.cfg.SendBufferMessages > 0 {
		return s.cfg.SendBufferMessages
	}
	return defaultSendBufferMessages
}
