package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pipesync/pkg/channel"
	"pipesync/pkg/config"
	"pipesync/pkg/observability"
	"pipesync/pkg/session"
	"pipesync/pkg/wire"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("pipesync-peer started",
		zap.String("app", cfg.AppName), zap.Int("id", opts.Identity))

	ch, err := channel.New(cfg.Channel.Kind, cfg.Channel.Name)
	if err != nil {
		zap.L().Error("failed to open channel", zap.Error(err))
		return 1
	}

	peer, err := session.NewPeer(ch, wire.PeerID(opts.Identity),
		session.WithPeerLogger(logger),
		session.WithRetryDelay(time.Duration(cfg.Session.RetryDelayMS)*time.Millisecond),
		session.WithDialTimeout(time.Duration(cfg.Session.DialTimeoutMS)*time.Millisecond),
		session.WithPeerWriteTimeout(time.Duration(cfg.Session.WriteTimeoutMS)*time.Millisecond),
	)
	if err != nil {
		zap.L().Error("invalid peer identity", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	states, cancelStates := peer.States()
	defer cancelStates()
	go func() {
		for s := range states {
			zap.L().Info("session state", zap.String("state", s.String()))
		}
	}()

	go func() {
		for cu := range peer.Coordinates() {
			zap.L().Info("moved", zap.Float64("x", cu.X), zap.Float64("y", cu.Y))
		}
	}()
	go func() {
		for doc := range peer.Configurations() {
			zap.L().Info("configured", zap.Any("settings", doc.Settings))
		}
	}()

	// Reconnect whenever the hub goes away, until the process is told to
	// exit. A close request from the hub also drops the connection; honoring
	// it means leaving for good.
	for ctx.Err() == nil && !peer.CloseRequested() {
		if err := peer.Connect(ctx); err != nil {
			break
		}
		waitDisconnected(ctx, peer)
	}

	zap.L().Info("shutting down")
	peer.Close()
	return 0
}

// waitDisconnected blocks until the current connection drops or ctx ends.
func waitDisconnected(ctx context.Context, peer *session.Peer) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !peer.Connected() {
				return
			}
		}
	}
}
