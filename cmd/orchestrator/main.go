// Command orchestrator runs one replica of the text-to-video
// generation service: the HTTP API, the per-replica dispatcher, and
// the periodic reconciler, all sharing a durable job store and a
// cross-replica submission queue.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	_ "modernc.org/sqlite"

	"github.com/kamalhaddad/texttovideo-orchestrator/api"
	"github.com/kamalhaddad/texttovideo-orchestrator/cancel"
	"github.com/kamalhaddad/texttovideo-orchestrator/config"
	"github.com/kamalhaddad/texttovideo-orchestrator/dispatch"
	"github.com/kamalhaddad/texttovideo-orchestrator/generator"
	"github.com/kamalhaddad/texttovideo-orchestrator/gpu"
	"github.com/kamalhaddad/texttovideo-orchestrator/metrics"
	"github.com/kamalhaddad/texttovideo-orchestrator/reconcile"
	"github.com/kamalhaddad/texttovideo-orchestrator/store/redisqueue"
	"github.com/kamalhaddad/texttovideo-orchestrator/store/sqlstore"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("orchestrator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := sqlstore.InitDB(ctx, db); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	st := sqlstore.New(db)

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}
	defer rdb.Close()
	q := redisqueue.New(rdb, "orchestrator:queue")

	gpuReg := gpu.NewRegistry(cfg.GPUCount)
	cancelReg := cancel.NewRegistry()
	gen := &generator.Subprocess{Bin: cfg.GeneratorBin}
	m := metrics.New()

	disp := dispatch.New(st, q, gpuReg, cancelReg, gen, m, &dispatch.Config{
		ReplicaID:         cfg.ReplicaID,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		PollInterval:      250 * time.Millisecond,
		LeaseDuration:     cfg.LeaseDuration,
		JobMaxDuration:    cfg.JobMaxDuration,
		ProgressInterval:  2 * time.Second,
		OutputDir:         cfg.OutputDir,
		StoreRetry: dispatch.BackoffConfig{
			MaxRetries:          5,
			InitialInterval:     200 * time.Millisecond,
			MaxInterval:         10 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.3,
		},
	}, log.With("component", "dispatch"))

	rec := reconcile.New(st, q, gpuReg, m, &reconcile.Config{
		Interval:   cfg.ReconcileInterval,
		MaxRetries: cfg.MaxRetries,
		Retention:  cfg.Retention,
		SweepLimit: 100,
	}, log.With("component", "reconcile"))

	srv := api.New(st, q, gpuReg, disp, m, &api.Config{
		Addr:        cfg.Addr(),
		ArtifactDir: cfg.OutputDir,
	}, log.With("component", "api"))

	if err := disp.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	log.Info("orchestrator started", "replica_id", cfg.ReplicaID, "addr", cfg.Addr())

	<-ctx.Done()
	log.Info("shutting down")

	const shutdownTimeout = 30 * time.Second
	if err := srv.Stop(shutdownTimeout); err != nil {
		log.Error("api server shutdown failed", "err", err)
	}
	if err := disp.Stop(shutdownTimeout); err != nil {
		log.Error("dispatcher shutdown failed", "err", err)
	}
	if err := rec.Stop(shutdownTimeout); err != nil {
		log.Error("reconciler shutdown failed", "err", err)
	}
	return nil
}

// openDB opens the job store's backing database, selecting bun's
// dialect from the URL scheme: sqlite for embedded/dev deployments,
// postgres for production.
func openDB(databaseURL string) (*bun.DB, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	switch {
	case strings.HasPrefix(u.Scheme, "sqlite"):
		path := strings.TrimPrefix(databaseURL, u.Scheme+"://")
		sqlDB, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case strings.HasPrefix(u.Scheme, "postgres"):
		sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(databaseURL)))
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func openRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
