package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AndySung320/bucketstore/config"
	"github.com/AndySung320/bucketstore/internal/api"
	"github.com/AndySung320/bucketstore/internal/clock"
	"github.com/AndySung320/bucketstore/internal/logging"
	"github.com/AndySung320/bucketstore/internal/metrics"
	"github.com/AndySung320/bucketstore/internal/ratelimit"
	"github.com/AndySung320/bucketstore/internal/snapshot"
	"github.com/AndySung320/bucketstore/internal/storage"
)

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	store, clk, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	limiter := ratelimit.NewLimiter(store, clk, ratelimit.BucketType{}, log)

	var mgr *snapshot.Manager
	if cfg.Snapshot.Enabled {
		mgr = snapshot.NewManager(store, ratelimit.BucketType{}, cfg.Snapshot.Path, log, m)
		if cfg.Snapshot.RestoreOnStart {
			if _, err := mgr.Restore(ctx); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
		}
	}

	for key, b := range cfg.Buckets {
		if _, err := limiter.Ensure(ctx, key, b.Capacity, b.FillRate); err != nil {
			return fmt.Errorf("declare bucket %s: %w", key, err)
		}
	}

	var snaps api.Snapshotter
	if mgr != nil {
		snaps = mgr
	}

	if !log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewBucketHandler(limiter, store, snaps, m, log)
	srv := &http.Server{
		Handler: api.NewRouter(handler, m, log),
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	var loop func(context.Context) error
	if mgr != nil {
		loop = func(ctx context.Context) error {
			return mgr.Run(ctx, cfg.Snapshot.Interval)
		}
	}
	return run(ctx, srv, ln, cfg.Server.ShutdownTimeout, loop, log)
}

// run serves on ln until ctx is done, then shuts the server down. The
// background loop, if any, is stopped only after Shutdown has returned, so
// its final pass sees every request that completed during the drain.
func run(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, loop func(context.Context) error, log logrus.FieldLogger) error {
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", ln.Addr().String()).Info("Starting server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopLoop()

		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if loop != nil {
		g.Go(func() error {
			return loop(loopCtx)
		})
	}

	return g.Wait()
}

// openStore opens the configured backend and picks the clock that goes with
// it. The Redis TIME clock is only available on the Redis backend.
func openStore(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (storage.Storage, clock.Clock, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Info("Using in-memory store")
		return storage.NewMemoryStorage(), clock.System(), nil

	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		s, err := storage.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.SQLite.Path).Info("Using SQLite store")
		return s, clock.System(), nil

	case config.BackendRedis:
		r, err := storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			MaxRetries: cfg.Redis.MaxRetries,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("addr", cfg.Redis.Addr).Info("Connected to Redis")

		var clk clock.Clock = clock.System()
		if cfg.Clock == config.ClockRedis {
			clk = r.Clock()
		}
		return r, clk, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend '%s'", cfg.Backend)
}
