package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
)

const relayClientBuffer = 64

// Sender accepts commands for the device.
type Sender interface {
	Send(p []byte) error
}

// Relay exposes the bridge over TCP: every frame goes out to every client as
// one line, and every line a client writes is sent to the device.
type Relay struct {
	addr   string
	target Sender
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*relayClient]struct{}
}

type relayClient struct {
	remote string
	out    chan string
}

func NewRelay(addr string, target Sender, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		addr:    addr,
		target:  target,
		logger:  logger,
		clients: make(map[*relayClient]struct{}),
	}
}

// Run listens on the configured address until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("relay listen %s: %w", r.addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is done, then closes ln and waits for
// every client to go away.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	r.logger.Info("relay listening", "addr", ln.Addr().String())
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("relay accept failed", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.serve(ctx, conn)
		}()
	}
}

func (r *Relay) serve(ctx context.Context, conn net.Conn) {
	c := &relayClient{remote: conn.RemoteAddr().String(), out: make(chan string, relayClientBuffer)}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	r.logger.Info("relay client connected", "remote", c.remote)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		conn.Close()
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		r.logger.Info("relay client disconnected", "remote", c.remote)
	}()
	context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-c.out:
				if _, err := io.WriteString(conn, frame+"\n"); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := r.target.Send([]byte(line + "\n")); err != nil {
			r.logger.Warn("relay command not sent", "remote", c.remote, "err", err)
		}
	}
}

// Publish fans frame out to all clients. A client whose buffer is full misses
// the frame; the device side is never held up by a slow reader.
func (r *Relay) Publish(frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		select {
		case c.out <- frame:
		default:
			r.logger.Debug("relay client too slow, frame dropped", "remote", c.remote)
		}
	}
}

func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
