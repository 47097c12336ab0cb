package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/metrics"
)

var (
	_ parley.Server     = (*Server)(nil)
	_ parley.Connection = (*Client)(nil)
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the WebSocket handshake completes and before
// the read loop starts. It runs synchronously during connection setup, so it
// should return quickly.
type OnConnectFn = func(conn parley.Connection)

// OnClientDisconnectFn is invoked when a connection ends. voluntary is true
// when the client sent a normal or going-away close frame.
type OnClientDisconnectFn = func(conn parley.Connection, voluntary bool)

// RoomListerFn returns the live room codes for the /rooms endpoint.
type RoomListerFn = func() []string

type ServerConfig struct {
	Addr               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn

	// MaxMessageSize bounds a single inbound frame. Zero means parley.MaxPayloadSize.
	MaxMessageSize int64
	// AllowedOrigins is the CORS allow list for the HTTP endpoints.
	AllowedOrigins []string
	// RoomLister backs GET /rooms. Nil serves an empty list.
	RoomLister RoomListerFn
	Logger     zerolog.Logger
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server accepts chat connections over WebSocket and serves the HTTP
// side endpoints.
type Server struct {
	addr    string
	server  *http.Server
	clients sync.Map // map[string]*Client

	rateLimitConfig *RateLimitConfig
	maxMessageSize  int64
	allowedOrigins  []string
	listRooms       RoomListerFn

	mu           sync.RWMutex
	running      bool
	draining     bool
	listener     net.Listener
	handler      parley.MessageHandler
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
	logger       zerolog.Logger
}

// New creates a WebSocket server from cfg. A nil RateLimitConfig means
// DefaultRateLimitConfig().
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = parley.MaxPayloadSize
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		addr:            cfg.Addr,
		rateLimitConfig: cfg.RateLimitConfig,
		maxMessageSize:  maxSize,
		allowedOrigins:  origins,
		listRooms:       cfg.RoomLister,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		logger:          cfg.Logger.With().Str("component", "transport").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// SetMessageHandler installs the callback for inbound frames.
func (s *Server) SetMessageHandler(handler parley.MessageHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(parley.ErrServerAlreadyRunning)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true
	s.draining = false
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("websocket server listening")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	return nil
}

// Addr returns the bound listener address, or the configured address
// before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// StopAccepting closes the listener. Upgraded connections are hijacked from
// net/http and stay open.
func (s *Server) StopAccepting(ctx context.Context) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Msg("no longer accepting connections")
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Stop stops accepting and closes every remaining connection.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	err := s.StopAccepting(ctx)

	closed := 0
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok && client.IsAlive() {
			if err := client.CloseWithCode(ctx, parley.CloseGoingAway, parley.ReasonShuttingDown); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", client.ID()).Msg("close failed")
				return true
			}
			closed++
		}
		return true
	})

	s.logger.Info().Int("connections", closed).Msg("websocket server stopped")
	return err
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	n := 0
	s.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	draining := s.draining
	s.mu.RUnlock()
	if draining {
		http.Error(w, parley.ReasonShuttingDown, http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(s.maxMessageSize)

	client := NewClient(conn, r.RemoteAddr, s.rateLimitConfig, s.logger)
	s.clients.Store(client.ID(), client)

	go s.handleClient(client)
}

// handleClient runs the read loop of one connection.
func (s *Server) handleClient(client *Client) {
	var readErr error

	defer func() {
		voluntary := websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)

		s.clients.Delete(client.ID())
		// Close before the callback so IsAlive is already false for any
		// work still queued for this connection.
		if err := client.Close(context.Background()); err != nil {
			s.logger.Debug().Err(err).Str("conn_id", client.ID()).Msg("close failed")
		}
		if s.onDisconnect != nil {
			s.onDisconnect(client, voluntary)
		}
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if s.onConnect != nil {
		s.onConnect(client)
	}

	for {
		select {
		case <-client.Context().Done():
			return
		default:
		}

		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			readErr = err
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug().Err(err).Str("conn_id", client.ID()).Msg("unexpected websocket close")
			}
			return
		}

		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !client.CheckRateLimit() {
			metrics.RateLimitHits.Inc()
			s.logger.Warn().
				Str("conn_id", client.ID()).
				Str("remote_addr", client.RemoteAddr()).
				Msg("rate limit exceeded")
			if err := client.CloseWithCode(context.Background(), parley.ClosePolicyViolation, parley.ReasonRateLimitExceeded); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", client.ID()).Msg("close failed")
			}
			return
		}

		s.mu.RLock()
		handler := s.handler
		s.mu.RUnlock()

		if handler != nil {
			handler(client, frameKind(messageType), data)
		}
	}
}
