package comm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type readResult struct {
	data string
	err  error
}

// fakeStream returns whatever is pushed into reads and blocks otherwise.
// Close wakes a blocked Read with os.ErrClosed, like a socket does.
type fakeStream struct {
	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakeStream(results ...readResult) *fakeStream {
	s := &fakeStream{reads: make(chan readResult, 64), closed: make(chan struct{})}
	for _, r := range results {
		s.reads <- r
	}
	return s
}

func (s *fakeStream) push(data string) { s.reads <- readResult{data: data} }

func (s *fakeStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, os.ErrClosed
	default:
	}
	select {
	case r := <-s.reads:
		return copy(p, r.data), r.err
	case <-s.closed:
		return 0, os.ErrClosed
	}
}

func (s *fakeStream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, os.ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.Write(p)
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

type fakeAdapter struct {
	enabled atomic.Bool
	enables atomic.Int32
	lists   atomic.Int32
	peers   []Peer
	listErr error
	// gate, when set, holds BondedPeers until it is closed.
	gate chan struct{}
}

func newFakeAdapter(peers ...Peer) *fakeAdapter {
	a := &fakeAdapter{peers: peers}
	a.enabled.Store(true)
	return a
}

func (a *fakeAdapter) IsEnabled() bool { return a.enabled.Load() }

func (a *fakeAdapter) Enable() {
	a.enables.Add(1)
	a.enabled.Store(true)
}

func (a *fakeAdapter) BondedPeers() ([]Peer, error) {
	a.lists.Add(1)
	if a.gate != nil {
		<-a.gate
	}
	return a.peers, a.listErr
}

type openCall struct {
	address string
	service uuid.UUID
}

// fakeTransport hands out streams in order. With block set, Open waits for
// the context instead.
type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	calls   []openCall
	err     error
	block   bool
}

func (t *fakeTransport) Open(ctx context.Context, address string, service uuid.UUID) (Stream, error) {
	t.mu.Lock()
	t.calls = append(t.calls, openCall{address: address, service: service})
	block, err := t.block, t.err
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return newFakeStream(), nil
	}
	s := t.streams[0]
	t.streams = t.streams[1:]
	return s, nil
}

func (t *fakeTransport) Calls() []openCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]openCall(nil), t.calls...)
}

type openResult struct {
	stream Stream
	err    error
}

// gatedTransport parks every Open until the test answers it. Like a connect
// that is already in flight, it does not watch the context.
type gatedTransport struct {
	opens chan chan openResult
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{opens: make(chan chan openResult, 4)}
}

func (t *gatedTransport) Open(ctx context.Context, address string, service uuid.UUID) (Stream, error) {
	reply := make(chan openResult)
	t.opens <- reply
	r := <-reply
	return r.stream, r.err
}

// openerFunc opens whatever stream the func returns.
type openerFunc func() Stream

func (f openerFunc) Open(context.Context, string, uuid.UUID) (Stream, error) { return f(), nil }
