package e2e_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/dispatch"
	"github.com/luciancaetano/parley/internal/lifecycle"
	"github.com/luciancaetano/parley/internal/pool"
	"github.com/luciancaetano/parley/internal/room"
	"github.com/luciancaetano/parley/ws"
)

// Helper function to create a WebSocket dialer
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

// stack is a full server wired the same way cmd/parley wires it.
type stack struct {
	registry  *room.Registry
	lifecycle *lifecycle.Lifecycle
	url       string
}

func startStack(t *testing.T) *stack {
	t.Helper()

	logger := zerolog.Nop()
	registry, err := room.NewRegistry(logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	workers := pool.New(4, 64, logger)
	dispatcher := dispatch.New(registry, workers, logger)
	lc := lifecycle.New(registry, workers, logger)

	cfg := ws.NewConfig("127.0.0.1:0", ws.DefaultRateLimitConfig(), ws.AllOrigins(), lc.OnConnect, lc.OnDisconnect)
	cfg.RoomLister = registry.ListCodes
	cfg.Logger = logger

	server := ws.New(cfg)
	server.SetMessageHandler(dispatcher.HandleMessage)
	lc.Bind(server)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lc.Shutdown(ctx)
	})

	addr, ok := server.(interface{ Addr() string })
	if !ok {
		t.Fatalf("server %T does not expose its address", server)
	}

	return &stack{
		registry:  registry,
		lifecycle: lc,
		url:       "ws://" + addr.Addr() + "/ws",
	}
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, _, err := newDialer().Dial(s.url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForMembers polls until room code has n members. JOIN has no reply, so
// this is how a test knows the join landed.
func (s *stack) waitForMembers(t *testing.T, code string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := -1
		_ = s.registry.WithRoom(code, func(r *room.Room) error {
			got = len(r.Members())
			return nil
		})
		if got == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members", code, n)
}

func send(t *testing.T, conn *websocket.Conn, command string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
		t.Fatalf("Failed to send %q: %v", command, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return messageType, data
}

func expectText(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()

	messageType, data := read(t, conn)
	if messageType != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", messageType)
	}
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
}

func expectCloseCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close frame, got %v", err)
		}
		if closeErr.Code != code {
			t.Fatalf("close code = %d, want %d", closeErr.Code, code)
		}
		if code == parley.CloseGoingAway && closeErr.Text != parley.ReasonShuttingDown {
			t.Fatalf("close reason = %q, want %q", closeErr.Text, parley.ReasonShuttingDown)
		}
		return
	}
}
