package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializationPerKey(t *testing.T) {
	c := New(Options{Workers: 8, QueueDepth: 64})
	defer shutdown(t, c)

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	done := make(chan struct{}, 20)

	for i := 0; i < 20; i++ {
		err := c.Submit("user-a", func(ctx context.Context) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			done <- struct{}{}
		})
		require.NoError(t, err)
	}

	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("tasks did not finish")
		}
	}
	assert.Equal(t, 1, maxRunning, "two tasks for the same user overlapped")
}

func TestFIFOPerKey(t *testing.T) {
	c := New(Options{Workers: 4})
	defer shutdown(t, c)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestParallelAcrossKeys(t *testing.T) {
	c := New(Options{Workers: 2})
	defer shutdown(t, c)

	aStarted := make(chan struct{})
	release := make(chan struct{})
	bRan := make(chan struct{})

	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
		close(aStarted)
		<-release
	}))
	<-aStarted

	require.NoError(t, c.Submit("user-b", func(ctx context.Context) {
		close(bRan)
	}))

	select {
	case <-bRan:
		// user-b ran while user-a was still blocked
	case <-time.After(2 * time.Second):
		t.Fatal("independent user blocked behind an unrelated user")
	}
	close(release)
}

func TestQueueFull(t *testing.T) {
	c := New(Options{Workers: 1, QueueDepth: 2})
	defer shutdown(t, c)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	// The first task holds the drainer, so these sit in the channel.
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {}))
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {}))

	err := c.Submit("user-a", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
	close(block)
}

func TestHandlerTimeout(t *testing.T) {
	c := New(Options{Workers: 1, HandlerTimeout: 20 * time.Millisecond})
	defer shutdown(t, c)

	expired := make(chan bool, 1)
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			expired <- true
		case <-time.After(2 * time.Second):
			expired <- false
		}
	}))

	select {
	case ok := <-expired:
		assert.True(t, ok, "handler context did not expire")
	case <-time.After(5 * time.Second):
		t.Fatal("task never finished")
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	c := New(Options{})
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {}))
	shutdown(t, c)

	err := c.Submit("user-a", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownDrainsQueued(t *testing.T) {
	c := New(Options{Workers: 1, ShutdownGrace: time.Second})

	var mu sync.Mutex
	ran := 0
	block := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}
	close(block)
	shutdown(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, ran, "queued tasks were not drained on shutdown")
}

func TestPanicRecovery(t *testing.T) {
	c := New(Options{Workers: 1})
	defer shutdown(t, c)

	ran := make(chan struct{})
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
		panic("boom")
	}))
	require.NoError(t, c.Submit("user-a", func(ctx context.Context) {
		close(ran)
	}))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("queue died after a panic")
	}
}

func shutdown(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}
