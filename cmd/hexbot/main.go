// Package main implements hexbot, a headless client that connects to a
// hexworld server and wanders around pressing random keys. It is useful for
// load testing and for watching the server from a second terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/client"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
)

// reportEvery is how often the bot logs where it is.
const reportEvery = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	addr := flag.String("addr", "", "server address, overrides the config")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("bot stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, log *zap.Logger) error {
	session, err := network.Dial(ctx, cfg.ServerAddr,
		network.WithSyncIdle(cfg.SyncIdle),
		network.WithLogger(log.Named("session")),
	)
	if err != nil {
		return err
	}
	defer session.Close()
	log.Info("connected", zap.String("server", cfg.ServerAddr), zap.String("session", session.ID()))

	c := client.New(session, client.WithLogger(log.Named("client")))
	c.Start()

	keys := newWanderKeys(uint64(cfg.Seed))
	ticker := time.NewTicker(time.Second / time.Duration(cfg.TickRate))
	defer ticker.Stop()

	start := time.Now()
	last := start
	lastReport := start
	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-ticker.C:
			dt := min(now.Sub(last).Seconds(), config.MaxTickDelta)
			last = now

			keys.Update(dt)
			if err := c.Tick(dt, now.Sub(start).Seconds(), keys); err != nil {
				if errors.Is(err, client.ErrDisconnected) {
					log.Info("server closed the connection", zap.Error(err))
					return nil
				}
				return err
			}

			if now.Sub(lastReport) >= reportEvery {
				lastReport = now
				report(c, log)
			}
		}
	}
}

func report(c *client.Client, log *zap.Logger) {
	id, ok := c.Predictor().ClientID()
	if !ok {
		log.Info("waiting for handshake")
		return
	}
	actor, ok := c.Scene().Actor(id)
	if !ok {
		log.Info("waiting for spawn", zap.Uint32("client", id))
		return
	}
	log.Info("position",
		zap.Uint32("client", id),
		zap.Float64("x", actor.State.Px.X),
		zap.Float64("y", actor.State.Px.Y),
		zap.Float64("z", actor.State.Px.Z),
		zap.Int("tiles", c.Scene().Len()),
		zap.Int("actors", len(c.Scene().Actors())),
		zap.Int("pending", c.Predictor().Pending()),
	)
}
