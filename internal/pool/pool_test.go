package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/parley/internal/pool"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p := pool.New(0, 0, zerolog.Nop())
	defer p.Shutdown(context.Background())

	assert.Equal(t, pool.DefaultSize, p.Size())
	assert.Equal(t, 0, p.Pending())
	assert.False(t, p.Closed())
}

func TestEnqueue_RunsEveryTask(t *testing.T) {
	t.Parallel()

	p := pool.New(4, 16, zerolog.Nop())

	var count atomic.Int64
	var wg sync.WaitGroup
	const n = 200

	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, p.Enqueue(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}

	wg.Wait()
	assert.Equal(t, int64(n), count.Load())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestEnqueue_SingleWorkerPreservesOrder(t *testing.T) {
	t.Parallel()

	p := pool.New(1, 64, zerolog.Nop())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, p.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	require.NoError(t, p.Shutdown(context.Background()))

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEnqueue_NilTask(t *testing.T) {
	t.Parallel()

	p := pool.New(1, 1, zerolog.Nop())
	defer p.Shutdown(context.Background())

	assert.Error(t, p.Enqueue(nil))
}

func TestShutdown_DrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	p := pool.New(2, 100, zerolog.Nop())

	release := make(chan struct{})
	var ran atomic.Int64

	// Block both workers so the rest of the tasks sit in the queue.
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Enqueue(func() {
			<-release
			ran.Add(1)
		}))
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Enqueue(func() { ran.Add(1) }))
	}

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()

	// Shutdown must not return while tasks are still blocked.
	select {
	case <-done:
		t.Fatal("Shutdown returned before queued tasks drained")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	assert.Equal(t, int64(22), ran.Load())
}

func TestEnqueue_AfterShutdown(t *testing.T) {
	t.Parallel()

	p := pool.New(2, 4, zerolog.Nop())
	require.NoError(t, p.Shutdown(context.Background()))

	err := p.Enqueue(func() {})
	assert.True(t, errors.Is(err, pool.ErrPoolClosed))
	assert.True(t, p.Closed())

	// Second shutdown is a no-op.
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEnqueue_FullQueueDoesNotBlock(t *testing.T) {
	t.Parallel()

	p := pool.New(1, 2, zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Enqueue(func() {
		close(started)
		<-release
	}))
	<-started

	// The worker is busy, so two tasks fill the queue.
	var ran atomic.Int64
	require.NoError(t, p.Enqueue(func() { ran.Add(1) }))
	require.NoError(t, p.Enqueue(func() { ran.Add(1) }))

	done := make(chan error, 1)
	go func() { done <- p.Enqueue(func() { ran.Add(100) }) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, pool.ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	// Shutdown is not held up by rejected callers.
	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int64(2), ran.Load())
}

func TestShutdown_ContextExpires(t *testing.T) {
	t.Parallel()

	p := pool.New(1, 1, zerolog.Nop())

	release := make(chan struct{})
	require.NoError(t, p.Enqueue(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestWorker_SurvivesPanic(t *testing.T) {
	t.Parallel()

	p := pool.New(1, 4, zerolog.Nop())

	require.NoError(t, p.Enqueue(func() { panic("boom") }))

	result, err := pool.Submit(p, func() string { return "still running" })
	require.NoError(t, err)

	select {
	case got := <-result:
		assert.Equal(t, "still running", got)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not recover from panic")
	}

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSubmit_ReturnsResult(t *testing.T) {
	t.Parallel()

	p := pool.New(3, 8, zerolog.Nop())
	defer p.Shutdown(context.Background())

	result, err := pool.Submit(p, func() int { return 6 * 7 })
	require.NoError(t, err)
	assert.Equal(t, 42, <-result)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	t.Parallel()

	p := pool.New(1, 1, zerolog.Nop())
	require.NoError(t, p.Shutdown(context.Background()))

	result, err := pool.Submit(p, func() int { return 1 })
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
	assert.Nil(t, result)
}

func TestEnqueue_ConcurrentWithShutdown(t *testing.T) {
	t.Parallel()

	p := pool.New(4, 8, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				err := p.Enqueue(func() {})
				if errors.Is(err, pool.ErrQueueFull) {
					continue
				}
				if err != nil {
					assert.ErrorIs(t, err, pool.ErrPoolClosed)
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
	wg.Wait()
}
