//go:build linux

// The linux program is a Serial Port Profile peer for exercising the bridge
// against real hardware: it registers with BlueZ, streams readings to
// whoever connects and answers their commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const sppUUID = "00001101-0000-1000-8000-00805f9b34fb"

func main() {
	name := pflag.String("name", "HC-05 Simulator", "service record name")
	channel := pflag.Uint16("channel", 1, "RFCOMM channel")
	interval := pflag.Duration("interval", time.Second, "time between readings")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := ListenRFCOMM(*name, sppUUID, *channel)
	if err != nil {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}
	context.AfterFunc(ctx, func() { l.Close() })
	logger.Info("waiting for connections", "addr", l.Addr(), "channel", *channel)

	serveAll(ctx, l, func(ctx context.Context, c *Conn) {
		serve(ctx, c, *interval, logger.With("device", c.Device))
	}, logger)
}

type acceptor interface {
	Accept() (*Conn, error)
}

// serveAll runs handle for every accepted connection. Once Accept fails it
// cancels the handlers and returns after all of them have finished.
func serveAll(ctx context.Context, l acceptor, handle func(context.Context, *Conn), logger *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := l.Accept()
		if err != nil {
			if !errors.Is(err, errListenerClosed) {
				logger.Error("accept", "err", err)
			}
			cancel()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(ctx, c)
		}()
	}
}

func serve(ctx context.Context, c *Conn, interval time.Duration, logger *slog.Logger) {
	defer c.Close()
	logger.Info("connected")

	g, gctx := errgroup.WithContext(ctx)
	replies := make(chan string, 8)
	context.AfterFunc(gctx, func() { c.Close() })

	g.Go(func() error {
		sc := bufio.NewScanner(c)
		for sc.Scan() {
			logger.Info("command", "line", sc.Text())
			if r := reply(sc.Text()); r != "" {
				select {
				case replies <- r:
				default:
					logger.Warn("reply dropped", "line", sc.Text())
				}
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
		return errors.New("peer closed")
	})
	g.Go(func() error {
		s := newSensor(uint64(time.Now().UnixNano()))
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			var line string
			select {
			case <-gctx.Done():
				return nil
			case line = <-replies:
			case <-tick.C:
				line = s.next()
			}
			if _, err := c.WriteString(line); err != nil {
				return err
			}
		}
	})
	logger.Info("disconnected", "reason", g.Wait())
}
