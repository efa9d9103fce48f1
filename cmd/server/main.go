// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jason-s-yu/lobbyhub/internal/auth"
	"github.com/jason-s-yu/lobbyhub/internal/cache"
	"github.com/jason-s-yu/lobbyhub/internal/config"
	"github.com/jason-s-yu/lobbyhub/internal/database"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/handlers"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/maintenance"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/realtime"
	"github.com/jason-s-yu/lobbyhub/internal/social"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

// closers accumulates resources released on shutdown, last opened first.
type closers []io.Closer

func (c closers) Close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i].Close())
	}
	return err
}

type closeFunc func()

func (f closeFunc) Close() error { f(); return nil }

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (err error) {
	var res closers
	defer func() { err = multierr.Append(err, res.Close()) }()

	if cfg.File != "" {
		logger.WithField("file", cfg.File).Info("loaded config")
	}
	if cfg.GeneratedSecret {
		logger.Warn("realtime_token_secret not set, using a random secret; tokens will not survive a restart")
	}
	clk := clock.New()
	m := metrics.New()

	var st store.Store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		st = store.NewMemoryStore()
	default:
		if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		res = append(res, closeFunc(pool.Close))
		st = database.NewStore(pool)
	}

	var (
		broker        events.Broker
		presenceStore presence.Store = presence.NewMemoryStore()
	)
	if cfg.Broker == config.BrokerRedis {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		res = append(res, rdb)
		broker = cache.NewBroker(rdb, logger)
		presenceStore = cache.NewPresenceStore(rdb)
	} else {
		logger.Warn("no broker configured, realtime gateway disabled and events stay on this instance")
	}

	sessions, err := newSessions(cfg, clk)
	if err != nil {
		return err
	}

	bus := events.NewBus(events.NewHub(events.DefaultBuffer), broker, cfg.InstanceID, logger, m)
	ledger := xp.NewLedger(st, clk, logger)
	lobbies := lobby.NewService(st, bus, ledger, clk, logger, m, cfg.Lobby())
	tracker := presence.NewTracker(presenceStore, lobbies, clk, logger, m, cfg.PresenceTTL)
	authorizer := realtime.NewAuthorizer(st, []byte(cfg.RealtimeTokenSecret), cfg.RealtimeTokenTTL, clk)

	srv := handlers.NewServer(handlers.Deps{
		Store:        st,
		Sessions:     sessions,
		Lobbies:      lobbies,
		Social:       social.NewService(st, ledger, clk, logger),
		Presence:     tracker,
		Bus:          bus,
		Authorizer:   authorizer,
		Gateway:      realtime.NewGateway(authorizer, broker, logger, m, clk),
		Janitor:      maintenance.NewJanitor(lobbies, tracker, st, clk, logger, cfg.RateLimitRetention),
		Metrics:      m,
		Logger:       logger,
		Clock:        clk,
		CronSecret:   cfg.CronSecret,
		StreamPing:   cfg.StreamPing,
		UserCacheTTL: cfg.UserCacheTTL,
	})

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	// streams end with the process context instead of holding Shutdown open
	httpSrv.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error { return bus.Run(gctx) })
	if cfg.RelayRemote {
		g.Go(func() error { return bus.Relay(gctx) })
	}
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"addr": httpSrv.Addr, "instance_id": cfg.InstanceID}).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

func newSessions(cfg *config.Config, clk clock.Clock) (*auth.Sessions, error) {
	ttl, err := auth.ParseExpireTime(cfg.TokenExpireTime)
	if err != nil {
		return nil, err
	}
	if cfg.SessionPrivateKey != "" && cfg.SessionPublicKey != "" {
		return auth.LoadSessions(cfg.SessionPrivateKey, cfg.SessionPublicKey, ttl, clk)
	}
	return auth.NewSessions(ttl, clk)
}
