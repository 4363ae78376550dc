package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pipesync/pkg/channel"
	"pipesync/pkg/config"
	"pipesync/pkg/observability"
	"pipesync/pkg/peers"
	"pipesync/pkg/ring"
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

	zap.L().Info("pipesync-hub started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	stats := peers.New(filepath.Join(cfg.DataDir, "peers.cbor"), logger)
	if err := stats.Load(); err != nil {
		zap.L().Warn("could not restore stats snapshot", zap.Error(err))
	}

	ch, err := channel.New(cfg.Channel.Kind, cfg.Channel.Name)
	if err != nil {
		zap.L().Error("failed to open channel", zap.Error(err))
		return 1
	}

	track := ring.Ring{
		CenterX:     cfg.Ring.CenterX,
		CenterY:     cfg.Ring.CenterY,
		Radius:      cfg.Ring.Radius,
		Checkpoints: cfg.Ring.Checkpoints,
		Period:      time.Duration(cfg.Ring.PeriodMS) * time.Millisecond,
	}

	hub := session.NewHub(ch,
		session.WithHubLogger(logger),
		session.WithStats(stats),
		session.WithHandshakeTimeout(time.Duration(cfg.Session.HandshakeTimeoutMS)*time.Millisecond),
		session.WithAcceptBackoff(time.Duration(cfg.Session.AcceptBackoffMS)*time.Millisecond),
		session.WithHubWriteTimeout(time.Duration(cfg.Session.WriteTimeoutMS)*time.Millisecond),
		session.WithConfigurer(func(id wire.PeerID) (map[string]any, error) {
			return map[string]any{
				"centerX":     track.CenterX,
				"centerY":     track.CenterY,
				"radius":      track.Radius,
				"checkpoints": track.Checkpoints,
				"periodMs":    cfg.Ring.PeriodMS,
			}, nil
		}),
	)

	events, cancelEvents := hub.SubscribeConnection()
	defer cancelEvents()
	go func() {
		for ev := range events {
			zap.L().Info("connection state",
				zap.Int("peer", int(ev.Peer)), zap.String("state", ev.State.String()))
		}
	}()

	inbound, cancelInbound := hub.SubscribeInbound()
	defer cancelInbound()
	go func() {
		for ev := range inbound {
			zap.L().Debug("inbound message",
				zap.Int("peer", int(ev.Peer)), zap.String("kind", string(ev.Msg.Kind())))
		}
	}()

	hub.Start()

	// Drive the ring: every tick, each connected peer gets its current
	// position on the track.
	stop := make(chan struct{})
	started := time.Now()
	ticker := time.NewTicker(time.Duration(cfg.Ring.UpdateIntervalMS) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				elapsed := now.Sub(started)
				for _, id := range hub.ConnectedIDs() {
					x, y := track.Position(id, elapsed)
					if err := hub.Send(id, wire.CoordinateUpdate{Peer: id, X: x, Y: y}); err != nil {
						zap.L().Debug("coordinate send skipped",
							zap.Int("peer", int(id)), zap.Error(err))
					}
				}
			}
		}
	}()

	zap.L().Info("hub is running; press Ctrl+C to exit")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	zap.L().Info("shutting down")
	close(stop)

	// Ask connected peers to leave, give them a moment to say goodbye, then
	// tear everything down.
	for _, id := range hub.ConnectedIDs() {
		_ = hub.Send(id, wire.CloseRequest{Peer: id})
	}
	time.Sleep(500 * time.Millisecond)
	hub.Stop()

	if err := stats.Save(); err != nil {
		zap.L().Warn("could not save stats snapshot", zap.Error(err))
	}
	return 0
}
