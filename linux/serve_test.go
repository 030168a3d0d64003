//go:build linux

package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanAcceptor chan *Conn

func (a chanAcceptor) Accept() (*Conn, error) {
	c, ok := <-a
	if !ok {
		return nil, errListenerClosed
	}
	return c, nil
}

func TestServeAllWaitsForConnections(t *testing.T) {
	l := make(chanAcceptor, 2)
	l <- &Conn{Device: dbus.ObjectPath("/org/bluez/hci0/dev_01")}
	l <- &Conn{Device: dbus.ObjectPath("/org/bluez/hci0/dev_02")}

	var started, finished atomic.Int32
	handle := func(ctx context.Context, c *Conn) {
		started.Add(1)
		<-ctx.Done()
		// Closing the link takes a moment.
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
	}

	done := make(chan struct{})
	go func() {
		serveAll(context.Background(), l, handle, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()
	require.Eventually(t, func() bool { return started.Load() == 2 }, 2*time.Second, time.Millisecond)

	close(l)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveAll did not return after the listener closed")
	}
	assert.EqualValues(t, 2, finished.Load())
}
