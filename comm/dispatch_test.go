package comm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedConsumer blocks on every frame until release is closed, so the
// queue can be filled deterministically.
type gatedConsumer struct {
	started chan string
	release chan struct{}
	got     []string
}

func newGatedConsumer() *gatedConsumer {
	return &gatedConsumer{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedConsumer) fn(frame string) {
	g.started <- frame
	<-g.release
	g.got = append(g.got, frame)
}

func fillQueue(t *testing.T, policy Overflow) []string {
	t.Helper()
	g := newGatedConsumer()
	var active atomic.Bool
	active.Store(true)
	d := newDispatcher(g.fn, 1, policy, active.Load, discardLogger())

	ctx := context.Background()
	d.deliver(ctx, "a")
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never started")
	}
	// "a" is in the consumer, the queue has room for exactly one more.
	d.deliver(ctx, "b")
	d.deliver(ctx, "c")
	close(g.release)
	d.close()

	if policy != OverflowBlock {
		assert.EqualValues(t, 1, d.dropped.Load())
	}
	return g.got
}

func TestDispatcherDropNewest(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, fillQueue(t, OverflowDropNewest))
}

func TestDispatcherDropOldest(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, fillQueue(t, OverflowDropOldest))
}

func TestDispatcherBlockGivesUpOnCancel(t *testing.T) {
	g := newGatedConsumer()
	var active atomic.Bool
	active.Store(true)
	d := newDispatcher(g.fn, 1, OverflowBlock, active.Load, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.deliver(ctx, "a")
	<-g.started
	d.deliver(ctx, "b")

	returned := make(chan struct{})
	go func() {
		d.deliver(ctx, "c")
		close(returned)
	}()
	select {
	case <-returned:
		t.Fatal("deliver should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not return after cancel")
	}

	// Stopped: what is still queued is thrown away.
	active.Store(false)
	close(g.release)
	d.close()
	assert.Equal(t, []string{"a"}, g.got)
}

func TestDispatcherInline(t *testing.T) {
	var got []string
	d := newDispatcher(func(s string) { got = append(got, s) }, 0, OverflowBlock, func() bool { return true }, discardLogger())
	d.deliver(context.Background(), "x")
	d.deliver(context.Background(), "y")
	d.close()
	require.Equal(t, []string{"x", "y"}, got)
}

func TestDispatcherInactiveDropsEverything(t *testing.T) {
	called := false
	d := newDispatcher(func(string) { called = true }, 0, OverflowBlock, func() bool { return false }, discardLogger())
	d.deliver(context.Background(), "x")
	assert.False(t, called)
}
