package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/conntest"
	"github.com/luciancaetano/parley/internal/dispatch"
	"github.com/luciancaetano/parley/internal/lifecycle"
	"github.com/luciancaetano/parley/internal/pool"
	"github.com/luciancaetano/parley/internal/room"
)

// fakeTransport records each call together with the registry and pool state
// observed at that moment.
type fakeTransport struct {
	registry *room.Registry
	pool     *pool.Pool

	mu         sync.Mutex
	calls      []string
	roomsSeen  []int
	poolClosed []bool
	stopErr    error
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.roomsSeen = append(f.roomsSeen, f.registry.Len())
	f.poolClosed = append(f.poolClosed, f.pool.Closed())
}

func (f *fakeTransport) StopAccepting(context.Context) error {
	f.record("stop_accepting")
	return nil
}

func (f *fakeTransport) Stop(context.Context) error {
	f.record("stop")
	return f.stopErr
}

type fixture struct {
	registry  *room.Registry
	pool      *pool.Pool
	transport *fakeTransport
	lifecycle *lifecycle.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := room.NewRegistry(zerolog.Nop())
	require.NoError(t, err)
	p := pool.New(2, 16, zerolog.Nop())

	tr := &fakeTransport{registry: reg, pool: p}
	lc := lifecycle.New(reg, p, zerolog.Nop())
	lc.Bind(tr)

	return &fixture{registry: reg, pool: p, transport: tr, lifecycle: lc}
}

func (f *fixture) join(t *testing.T, code, username string, conn parley.Connection) {
	t.Helper()
	require.NoError(t, f.registry.WithRoom(code, func(r *room.Room) error {
		r.AddMember(username, conn)
		return nil
	}))
}

func TestOnDisconnect_RemovesFromEveryRoom(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	t.Cleanup(func() { _ = f.lifecycle.Shutdown(context.Background()) })

	a, err := f.registry.CreateRoom()
	require.NoError(t, err)
	b, err := f.registry.CreateRoom()
	require.NoError(t, err)

	leaver, stayer := conntest.New(), conntest.New()
	f.lifecycle.OnConnect(leaver)
	f.lifecycle.OnConnect(stayer)

	f.join(t, a, "leaver", leaver)
	f.join(t, b, "leaver", leaver)
	f.join(t, a, "stayer", stayer)

	f.lifecycle.OnDisconnect(leaver, true)

	// A broadcast after the disconnect reaches only the remaining member.
	require.NoError(t, f.registry.WithRoom(a, func(r *room.Room) error {
		r.Broadcast(context.Background(), "stayer", room.KindText, []byte("anyone left?"))
		return nil
	}))

	assert.Empty(t, leaver.Frames())
	assert.Equal(t, []string{"stayer: anyone left?"}, stayer.Texts())

	require.NoError(t, f.registry.WithRoom(b, func(r *room.Room) error {
		assert.Empty(t, r.Members())
		return nil
	}))
}

func TestOnDisconnect_LateJoinIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	t.Cleanup(func() { _ = f.lifecycle.Shutdown(context.Background()) })

	code, err := f.registry.CreateRoom()
	require.NoError(t, err)
	d := dispatch.New(f.registry, f.pool, zerolog.Nop())

	conn := conntest.New()
	f.lifecycle.OnConnect(conn)
	require.NoError(t, conn.Close(context.Background()))
	f.lifecycle.OnDisconnect(conn, false)

	require.NoError(t, d.Process(context.Background(), conn, "JOIN:"+code+":ghost"))

	require.NoError(t, f.registry.WithRoom(code, func(r *room.Room) error {
		assert.Empty(t, r.Members())
		return nil
	}))
}

func TestOnDisconnect_UnknownConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	t.Cleanup(func() { _ = f.lifecycle.Shutdown(context.Background()) })

	conn := conntest.New()
	f.lifecycle.OnConnect(conn)

	assert.NotPanics(t, func() {
		f.lifecycle.OnDisconnect(conn, false)
	})
}

func TestShutdown_Order(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	code, err := f.registry.CreateRoom()
	require.NoError(t, err)
	member := conntest.New()
	f.join(t, code, "alice", member)

	// A task queued before shutdown still runs.
	ran := make(chan struct{})
	require.NoError(t, f.pool.Enqueue(func() { close(ran) }))

	require.NoError(t, f.lifecycle.Shutdown(context.Background()))

	select {
	case <-ran:
	default:
		t.Fatal("queued task did not run before shutdown returned")
	}

	assert.Equal(t, []string{"stop_accepting", "stop"}, f.transport.calls)
	// Intake stopped while rooms were still live and the pool open.
	assert.Equal(t, []int{1, 0}, f.transport.roomsSeen)
	// The pool was drained before the transport was stopped.
	assert.Equal(t, []bool{false, true}, f.transport.poolClosed)

	closed, closeCode, reason := member.Closed()
	assert.True(t, closed)
	assert.Equal(t, parley.CloseGoingAway, closeCode)
	assert.Equal(t, parley.ReasonShuttingDown, reason)

	assert.ErrorIs(t, f.pool.Enqueue(func() {}), pool.ErrPoolClosed)
	_, err = f.registry.CreateRoom()
	assert.ErrorIs(t, err, room.ErrRegistryClosed)
}

func TestShutdown_NoBroadcastAfterwards(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	code, err := f.registry.CreateRoom()
	require.NoError(t, err)
	member := conntest.New()
	f.join(t, code, "alice", member)

	require.NoError(t, f.lifecycle.Shutdown(context.Background()))

	err = f.registry.WithRoom(code, func(r *room.Room) error {
		r.Broadcast(context.Background(), "alice", room.KindText, []byte("too late"))
		return nil
	})
	assert.ErrorIs(t, err, room.ErrRegistryClosed)
	assert.Empty(t, member.Frames())
	assert.Equal(t, 0, f.registry.Len())
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.lifecycle.Shutdown(context.Background()))
	require.NoError(t, f.lifecycle.Shutdown(context.Background()))

	assert.Equal(t, []string{"stop_accepting", "stop"}, f.transport.calls)
}

func TestShutdown_ReportsTransportError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	stopErr := errors.New("listener stuck")
	f.transport.stopErr = stopErr

	err := f.lifecycle.Shutdown(context.Background())
	assert.ErrorIs(t, err, stopErr)

	// Everything before the failing step still happened.
	assert.True(t, f.pool.Closed())
}

func TestShutdown_PoolTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	release := make(chan struct{})
	require.NoError(t, f.pool.Enqueue(func() { <-release }))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.lifecycle.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The transport is still stopped after the pool gave up.
	assert.Equal(t, []string{"stop_accepting", "stop"}, f.transport.calls)
}

func TestShutdown_WithoutTransport(t *testing.T) {
	t.Parallel()

	reg, err := room.NewRegistry(zerolog.Nop())
	require.NoError(t, err)
	p := pool.New(1, 1, zerolog.Nop())

	lc := lifecycle.New(reg, p, zerolog.Nop())
	assert.NoError(t, lc.Shutdown(context.Background()))
	assert.True(t, p.Closed())
}
