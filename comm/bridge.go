package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultReadBufferSize = 1024
	defaultMaxLineLength  = 4096
	defaultEOFBackoff     = 50 * time.Millisecond
	writeTimeout          = 5 * time.Second
)

// State is where a Bridge is in its connection lifecycle.
type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Reading
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reading:
		return "reading"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// FrameFunc receives each decoded frame. It must not call Stop synchronously.
type FrameFunc func(text string)

// Status reports a lifecycle change. Err is set when the change was caused by
// a failure, e.g. errors.Is(st.Err, ErrRead) after the stream broke.
type Status struct {
	State State
	Peer  Peer
	Err   error
}

type StatusFunc func(Status)

type Options struct {
	// Patterns are matched case-insensitively against bonded device names.
	Patterns       []string
	Service        uuid.UUID
	ReadBufferSize int
	Framing        Framing
	MaxLineLength  int
	// QueueSize > 0 moves frame delivery to its own goroutine behind a
	// bounded queue; Overflow says what happens when it is full.
	QueueSize  int
	Overflow   Overflow
	EOFBackoff time.Duration

	OnFrame  FrameFunc
	OnStatus StatusFunc
	Logger   *slog.Logger
}

// Bridge finds a bonded serial peer, connects to it and streams its output to
// OnFrame until Stop is called or the stream fails.
type Bridge struct {
	adapter   Adapter
	transport Transport
	opts      Options
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	peer          Peer
	stream        *handle
	sess          *session
	connectCancel context.CancelFunc
	// attempt numbers Start calls so a connect that Stop abandoned cannot
	// touch the state of a later one.
	attempt uint64

	// statusMu keeps OnStatus calls in transition order.
	statusMu sync.Mutex
	writeMu  sync.Mutex
}

// handle owns an open stream and closes it exactly once.
type handle struct {
	Stream
	once sync.Once
	err  error
}

func (h *handle) Close() error {
	h.once.Do(func() { h.err = h.Stream.Close() })
	return h.err
}

// session is one read loop. reading is the only state the loop shares with
// the control path besides the stream itself.
type session struct {
	peer    Peer
	reading atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewBridge(adapter Adapter, transport Transport, opts Options) *Bridge {
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	opts.Patterns = append([]string(nil), opts.Patterns...)
	if opts.Service == uuid.Nil {
		opts.Service = SerialPortProfile
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.Framing == "" {
		opts.Framing = FramingChunk
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = defaultMaxLineLength
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowBlock
	}
	if opts.EOFBackoff <= 0 {
		opts.EOFBackoff = defaultEOFBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		adapter:   adapter,
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
		state:     Idle,
	}
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Peer returns the device chosen by the last Start.
func (b *Bridge) Peer() Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer
}

// Start powers the adapter on if needed, picks the first bonded device that
// matches the allow-list, connects to it and starts reading. It is a no-op
// while a connection is being made or is already up.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case Connecting, Connected, Reading:
		b.mu.Unlock()
		return nil
	}
	if b.adapter == nil || b.transport == nil {
		b.mu.Unlock()
		return ErrAdapterUnavailable
	}
	prev := b.state
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.attempt++
	attempt := b.attempt
	b.state = Connecting
	b.connectCancel = cancel
	b.mu.Unlock()

	// The adapter talks D-Bus; b.mu is not held across it.
	peers, err := b.bondedPeers()

	b.mu.Lock()
	if !b.ownsLocked(attempt) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrConnection, context.Canceled)
	}
	if err != nil {
		b.state = prev
		b.connectCancel = nil
		b.mu.Unlock()
		return fmt.Errorf("%w: list bonded devices: %w", ErrAdapterUnavailable, err)
	}
	peer, ok := SelectPeer(peers, b.opts.Patterns)
	if !ok {
		b.state = Idle
		b.connectCancel = nil
		b.mu.Unlock()
		b.logger.Warn("no bonded device matches", "patterns", b.opts.Patterns, "bonded", len(peers))
		return ErrNoMatchingPeer
	}
	b.peer = peer
	b.unlockAndReport(Status{State: Connecting, Peer: peer})

	b.logger.Info("trying to connect", "peer", peer.Name, "addr", peer.Address, "service", b.opts.Service.String())
	stream, err := b.transport.Open(cctx, peer.Address, b.opts.Service)

	b.mu.Lock()
	if !b.ownsLocked(attempt) {
		// Stopped, and maybe restarted, while connecting. The state belongs
		// to someone else now.
		b.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		if err == nil {
			err = context.Canceled
		}
		return fmt.Errorf("%w: %s: %w", ErrConnection, peer, err)
	}
	b.connectCancel = nil
	if err != nil {
		b.state = Idle
		err = fmt.Errorf("%w: %s: %w", ErrConnection, peer, err)
		b.logger.Error("error connecting to device", "peer", peer.Name, "addr", peer.Address, "err", err)
		b.unlockAndReport(Status{State: Idle, Peer: peer, Err: err})
		return err
	}

	b.stream = &handle{Stream: stream}
	b.state = Connected
	b.logger.Info("connected", "peer", peer.Name, "addr", peer.Address)
	b.startReadingLocked()
	b.unlockAndReport(Status{State: b.state, Peer: peer})
	return nil
}

func (b *Bridge) bondedPeers() ([]Peer, error) {
	if !b.adapter.IsEnabled() {
		b.logger.Info("bluetooth adapter is off, requesting enable")
		b.adapter.Enable()
	}
	peers, err := b.adapter.BondedPeers()
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		b.logger.Debug("found paired device", "peer", p.Name, "addr", p.Address)
	}
	return peers, nil
}

// ownsLocked reports whether the connect attempt is still the current one.
func (b *Bridge) ownsLocked(attempt uint64) bool {
	return b.attempt == attempt && b.state == Connecting
}

// StartReading launches the read loop on the current connection and returns
// at once. Calling it while a loop is running does nothing.
func (b *Bridge) StartReading() error {
	b.mu.Lock()
	if b.stream == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if b.sess != nil {
		b.mu.Unlock()
		return nil
	}
	b.startReadingLocked()
	b.unlockAndReport(Status{State: b.state, Peer: b.peer})
	return nil
}

func (b *Bridge) startReadingLocked() {
	if b.stream == nil || b.sess != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{peer: b.peer, cancel: cancel, done: make(chan struct{})}
	s.reading.Store(true)
	b.sess = s
	b.state = Reading
	go b.readLoop(ctx, s, b.stream)
}

// Stop ends reading and closes the connection. The read loop may be sitting in
// a Read; closing the stream is what wakes it. Stop returns only after the loop
// and any frame delivery have finished, so no frame is delivered afterwards.
// Calling Stop when nothing is running is a no-op.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.state == Idle || b.state == Stopped {
		b.mu.Unlock()
		return nil
	}
	if b.connectCancel != nil {
		b.connectCancel()
		b.connectCancel = nil
	}
	s, h := b.sess, b.stream
	b.sess, b.stream = nil, nil
	if s != nil {
		s.reading.Store(false)
		s.cancel()
	}
	b.state = Stopped
	peer := b.peer
	b.mu.Unlock()

	var err error
	if h != nil {
		if err = h.Close(); err != nil {
			b.logger.Error("error closing bluetooth connection", "peer", peer.Name, "err", err)
		}
	}
	if s != nil {
		<-s.done
	}
	b.logger.Info("bluetooth connection closed", "peer", peer.Name)

	b.statusMu.Lock()
	b.report(Status{State: Stopped, Peer: peer})
	b.statusMu.Unlock()
	return err
}

// Send writes a command to the connected device.
func (b *Bridge) Send(p []byte) error {
	b.mu.Lock()
	h := b.stream
	b.mu.Unlock()
	if h == nil {
		return ErrNotConnected
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if wd, ok := h.Stream.(writeDeadliner); ok {
		if err := wd.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			b.logger.Debug("write deadline not set", "err", err)
		}
	}
	if _, err := h.Write(p); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (b *Bridge) readLoop(ctx context.Context, s *session, h *handle) {
	defer close(s.done)
	d := newDispatcher(b.opts.OnFrame, b.opts.QueueSize, b.opts.Overflow, s.reading.Load, b.logger)
	err := b.pump(ctx, s, h, d)
	d.close()
	if err != nil {
		b.fail(s, h, err)
	}
}

// pump reads until the session is stopped or the stream fails. It returns the
// failure, or nil when the loop ended because of Stop.
func (b *Bridge) pump(ctx context.Context, s *session, h *handle, d *dispatcher) error {
	fr := newFramer(b.opts.Framing, b.opts.MaxLineLength)
	defer fr.reset()
	emit := func(text string) {
		b.logger.Debug("received", "peer", s.peer.Name, "data", text)
		d.deliver(ctx, text)
	}

	buf := make([]byte, b.opts.ReadBufferSize)
	for s.reading.Load() {
		n, err := h.Read(buf)
		if n > 0 && s.reading.Load() {
			fr.feed(buf[:n], emit)
		}
		if err == nil && n > 0 {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			// Stop closed the stream under a pending Read.
			if !s.reading.Load() {
				return nil
			}
			return err
		}
		// Nothing to read right now; don't spin on it.
		if !sleepCtx(ctx, b.opts.EOFBackoff) {
			return nil
		}
	}
	return nil
}

// fail tears the connection down after a read error, unless Stop already did.
func (b *Bridge) fail(s *session, h *handle, cause error) {
	h.Close()
	b.mu.Lock()
	if b.sess != s {
		b.mu.Unlock()
		return
	}
	s.reading.Store(false)
	s.cancel()
	b.sess, b.stream = nil, nil
	b.state = Stopped
	err := fmt.Errorf("%w: %s: %w", ErrRead, s.peer, cause)
	b.logger.Error("error reading data", "peer", s.peer.Name, "err", cause)
	b.unlockAndReport(Status{State: Stopped, Peer: s.peer, Err: err})
}

// unlockAndReport releases b.mu and reports st. Taking statusMu before
// releasing b.mu keeps reports in the order the transitions happened.
func (b *Bridge) unlockAndReport(st Status) {
	b.statusMu.Lock()
	b.mu.Unlock()
	b.report(st)
	b.statusMu.Unlock()
}

func (b *Bridge) report(st Status) {
	if b.opts.OnStatus != nil {
		b.opts.OnStatus(st)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
