package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dosgo/btSerial/comm"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.StringP("config", "c", comm.DefaultConfigFile, "YAML config file")
	headless := pflag.Bool("headless", false, "run without a window; frames are logged and relayed over TCP")
	debug := pflag.Bool("debug", false, "log every received frame")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := comm.LoadConfig(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if *headless {
		if err := runHeadless(cfg, logger); err != nil {
			logger.Error("bridge stopped", "err", err)
			os.Exit(1)
		}
		return
	}
	NewAppUI(cfg, *configPath, logger).Run()
}

// runHeadless connects once and streams until interrupted or until the link
// drops. Reconnecting is left to whatever supervises the process.
func runHeadless(cfg *comm.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, closeAdapter, err := cfg.NewAdapter(logger)
	if err != nil {
		return err
	}
	defer closeAdapter()

	var relay *comm.Relay
	failed := make(chan error, 1)
	opts := cfg.BridgeOptions()
	opts.Logger = logger
	opts.OnFrame = func(text string) {
		logger.Info("frame", "data", text)
		if relay != nil {
			relay.Publish(text)
		}
	}
	opts.OnStatus = func(st comm.Status) {
		logger.Info("bridge state", "state", st.State.String(), "peer", st.Peer.String())
		if st.Err != nil && st.State == comm.Stopped {
			select {
			case failed <- st.Err:
			default:
			}
		}
	}
	bridge := comm.NewBridge(adapter, cfg.NewTransport(), opts)
	if cfg.RelayListen != "" {
		relay = comm.NewRelay(cfg.RelayListen, bridge, logger)
	}

	if err := bridge.Start(ctx); err != nil {
		return err
	}
	defer bridge.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-failed:
			return err
		}
	})
	return g.Wait()
}
