// cmd/sweeper runs the lifecycle cleanup that no request drives: lobby expiry,
// lapsed presence and rate-limit ledger pruning. Use --once from cron, or leave it
// running to tick every --interval.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jason-s-yu/lobbyhub/internal/cache"
	"github.com/jason-s-yu/lobbyhub/internal/config"
	"github.com/jason-s-yu/lobbyhub/internal/database"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/maintenance"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	once := pflag.Bool("once", false, "run a single cleanup pass and exit")
	interval := pflag.Duration("interval", 0, "time between passes (default sweep_interval)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store == config.StoreMemory {
		fmt.Fprintln(os.Stderr, "sweeper needs a shared store; store=memory only lives inside the server")
		os.Exit(2)
	}
	if *interval <= 0 {
		*interval = cfg.SweepInterval
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once, *interval); err != nil {
		logger.WithError(err).Fatal("sweeper exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, once bool, interval time.Duration) error {
	clk := clock.New()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	var st store.Store = database.NewStore(pool)

	var broker events.Broker
	var presenceStore presence.Store = presence.NewMemoryStore()
	if cfg.Broker == config.BrokerRedis {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		broker = cache.NewBroker(rdb, logger)
		presenceStore = cache.NewPresenceStore(rdb)
	} else {
		logger.Warn("no redis configured: presence is not shared, only lobby expiry and rate-limit pruning run")
	}

	// Hosts are notified through the broker; the server instances relay to their streams.
	bus := events.NewBus(events.NewHub(events.DefaultBuffer), broker, "sweeper-"+cfg.InstanceID, logger, nil)
	ledger := xp.NewLedger(st, clk, logger)
	lobbies := lobby.NewService(st, bus, ledger, clk, logger, nil, cfg.Lobby())
	tracker := presence.NewTracker(presenceStore, lobbies, clk, logger, nil, cfg.PresenceTTL)
	janitor := maintenance.NewJanitor(lobbies, tracker, st, clk, logger, cfg.RateLimitRetention)

	if once {
		rep, err := janitor.RunOnce(ctx)
		bus.Flush(ctx)
		logger.WithFields(logrus.Fields{
			"expired_lobbies": rep.ExpiredLobbies,
			"stale_presence":  rep.StalePresence,
			"purged_rates":    rep.PurgedRates,
		}).Info("sweep complete")
		return err
	}

	logger.WithField("interval", interval).Info("sweeper started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx, interval) })
	err = g.Wait()
	logger.Info("sweeper stopped")
	return err
}
