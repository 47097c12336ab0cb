package parley

import "context"

// FrameKind selects the WebSocket frame type used for an outbound payload.
type FrameKind int

const (
	// TextFrame carries UTF-8 text: command replies and text broadcasts.
	TextFrame FrameKind = iota + 1
	// BinaryFrame carries raw bytes: decoded voice audio.
	BinaryFrame
)

// String returns the lowercase frame name, used as a metrics label.
func (k FrameKind) String() string {
	switch k {
	case TextFrame:
		return "text"
	case BinaryFrame:
		return "binary"
	default:
		return "unknown"
	}
}

// Server defines the transport that accepts chat connections and feeds
// inbound commands to a MessageHandler.
//
// Example usage:
//
//	import "github.com/luciancaetano/parley/ws"
//
//	cfg := ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), onConnect, onDisconnect)
//	server := ws.New(cfg)
//	server.SetMessageHandler(dispatcher.HandleMessage)
//	server.Start(ctx)
type Server interface {
	// Start starts listening for connections.
	// The server keeps running until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// StopAccepting closes the listener so no new sessions start.
	// Connections that are already upgraded stay open.
	StopAccepting(ctx context.Context) error

	// Stop stops accepting connections and closes every open connection.
	Stop(ctx context.Context) error

	// SetMessageHandler installs the callback invoked, on the connection's read
	// goroutine, for every inbound frame. The handler must not block for long;
	// the dispatcher hands work to its worker pool and returns.
	SetMessageHandler(handler MessageHandler)
}

// MessageHandler receives one inbound frame from a connection.
type MessageHandler = func(conn Connection, kind FrameKind, data []byte)

// Connection represents a connected chat client.
//
// The core keeps a Connection only as a reference for sending. It never owns
// the underlying socket: once the transport reports the connection closed,
// sends fail softly and the connection is dropped from every room.
type Connection interface {
	// ID returns an opaque identifier, unique per connection and usable as
	// a map key. It stays constant for the lifetime of the connection.
	ID() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the connection's lifecycle context, cancelled when the
	// connection closes.
	Context() context.Context

	// Send queues payload for delivery as a frame of the given kind.
	//
	// Returns an error if the connection is closed or the context is cancelled.
	Send(ctx context.Context, kind FrameKind, payload []byte) error

	// Close closes the connection with a normal closure code.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close code
	// and reason, e.g. CloseGoingAway with ReasonShuttingDown.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive returns true while the connection is open.
	IsAlive() bool
}
