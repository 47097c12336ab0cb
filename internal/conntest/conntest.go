// Package conntest provides an in-memory parley.Connection that records
// every frame sent to it, for tests of the room and dispatch layers.
package conntest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/parley"
)

// ErrSendFailed is returned by Send when the connection is set to fail.
var ErrSendFailed = errors.New("conntest: send failed")

// Frame is one recorded outbound frame.
type Frame struct {
	Kind    parley.FrameKind
	Payload []byte
}

// Text returns the payload as a string.
func (f Frame) Text() string {
	return string(f.Payload)
}

// Conn is a recording connection. The zero value is not usable; use New.
type Conn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	frames      []Frame
	closed      bool
	closeCode   int
	closeReason string
	failSends   bool
	notify      chan struct{}
}

// New returns an open connection with a fresh uuid identity.
func New() *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1024),
	}
}

func (c *Conn) ID() string { return c.id }
func (c *Conn) RemoteAddr() string { return "127.0.0.1:0" }
func (c *Conn) Context() context.Context { return c.ctx }

// Send records the frame, or fails if the connection is closed or set to fail.
func (c *Conn) Send(ctx context.Context, kind parley.FrameKind, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New(parley.ErrConnectionClosed)
	}
	if c.failSends {
		return ErrSendFailed
	}

	c.frames = append(c.frames, Frame{Kind: kind, Payload: append([]byte(nil), payload...)})
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, parley.CloseNormalClosure, "")
}

func (c *Conn) CloseWithCode(_ context.Context, code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.cancel()
	return nil
}

func (c *Conn) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// FailSends makes every later Send return ErrSendFailed.
func (c *Conn) FailSends(fail bool) {
	c.mu.Lock()
	c.failSends = fail
	c.mu.Unlock()
}

// Frames returns a copy of every recorded frame.
func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Texts returns the payloads of every recorded frame as strings.
func (c *Conn) Texts() []string {
	frames := c.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Text()
	}
	return out
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Closed returns whether the connection was closed, and with which code and reason.
func (c *Conn) Closed() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// Notify fires (best-effort) after every recorded frame.
func (c *Conn) Notify() <-chan struct{} {
	return c.notify
}
