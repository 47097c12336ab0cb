// Package room implements the room registry: room creation with unique
// 4-digit codes, membership, broadcast fan-out and history replay.
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/metrics"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMemberNotFound     = errors.New("member not found in room")
	ErrRegistryClosed     = errors.New("registry is shut down")
	ErrCodeSpaceExhausted = errors.New("no free room codes")
)

const (
	codeAlphabet = "0123456789"
	codeLength   = 4
	codeSpace    = 10000

	// maxCodeAttempts bounds the retry loop when the code space is nearly
	// full or a custom generator keeps colliding.
	maxCodeAttempts = 10 * codeSpace
)

// Option configures a Registry.
type Option func(*Registry)

// WithCodeGenerator replaces the random code generator.
func WithCodeGenerator(gen func() string) Option {
	return func(r *Registry) {
		r.newCode = gen
	}
}

// WithClock replaces the clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry maps room codes to rooms.
//
// A single mutex serializes every registry and room operation: create, join,
// remove, broadcast and history replay. This yields one total order over
// room-state changes. A broadcast blocked on a slow send holds the lock and
// stalls all rooms.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	closed  bool
	newCode func() string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger, opts ...Option) (*Registry, error) {
	gen, err := nanoid.CustomASCII(codeAlphabet, codeLength)
	if err != nil {
		return nil, fmt.Errorf("create room code generator: %w", err)
	}

	r := &Registry{
		rooms:   make(map[string]*Room),
		newCode: gen,
		now:     time.Now,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateRoom inserts an empty room under a fresh code and returns the code.
// Codes are unique among live rooms.
func (r *Registry) CreateRoom() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	if len(r.rooms) >= codeSpace {
		return "", ErrCodeSpaceExhausted
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := r.newCode()
		if _, exists := r.rooms[code]; exists {
			continue
		}

		r.rooms[code] = newRoom(code, r.now, r.logger)
		metrics.RoomsCreated.Inc()
		metrics.RoomsLive.Set(float64(len(r.rooms)))

		r.logger.Info().
			Str("room_code", code).
			Int("rooms", len(r.rooms)).
			Msg("room created")
		return code, nil
	}

	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, maxCodeAttempts)
}

// Lookup returns the room for code. The returned room must only be read or
// mutated from inside WithRoom.
func (r *Registry) Lookup(code string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	return room, ok
}

// WithRoom runs fn against the room for code while holding the registry
// lock. It returns ErrRegistryClosed after Shutdown, ErrRoomNotFound if no
// such room is live, otherwise the error returned by fn.
func (r *Registry) WithRoom(code string, fn func(*Room) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	room, ok := r.rooms[code]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, code)
	}
	return fn(room)
}

// RemoveConnectionEverywhere drops connID from every room and returns the
// number of memberships removed.
func (r *Registry) RemoveConnectionEverywhere(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, room := range r.rooms {
		removed += room.RemoveMember(connID)
	}

	if removed > 0 {
		r.logger.Info().
			Str("conn_id", connID).
			Int("memberships", removed).
			Msg("connection removed from rooms")
	}
	return removed
}

// ListCodes returns a snapshot of the live room codes, sorted.
func (r *Registry) ListCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Shutdown closes every member's connection with CloseGoingAway, clears
// the room table and rejects further room creation.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	r.logger.Info().Int("rooms", len(r.rooms)).Msg("disconnecting all clients")

	closed := 0
	for _, room := range r.rooms {
		for _, m := range room.members {
			if !m.Conn.IsAlive() {
				continue
			}
			if err := m.Conn.CloseWithCode(ctx, parley.CloseGoingAway, parley.ReasonShuttingDown); err != nil {
				r.logger.Debug().Err(err).Str("conn_id", m.Conn.ID()).Msg("close failed")
				continue
			}
			closed++
		}
	}

	r.rooms = make(map[string]*Room)
	metrics.RoomsLive.Set(0)

	r.logger.Info().Int("connections", closed).Msg("room state released")
}
