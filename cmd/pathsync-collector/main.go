// Command pathsync-collector accepts tracker connections, stores their
// paths and serves them back over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-pathsync/internal/config"
	"github.com/teslashibe/go-pathsync/internal/db"
	"github.com/teslashibe/go-pathsync/internal/log"
	"github.com/teslashibe/go-pathsync/internal/server"
	"github.com/teslashibe/go-pathsync/pkg/collector"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log.Init(cfg.LogLevel, cfg.LogFormat)

	var pg *pgxpool.Pool
	if cfg.PostgresURL != "" {
		var err error
		pg, err = deps.connectPostgres(cfg)
		if err != nil {
			log.Error("postgres connection failed, using memory store", "error", err)
		}
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		log.Error("collector exited with error", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// newStore picks postgres when a pool is available.
func newStore(ctx context.Context, pg *pgxpool.Pool) collector.Store {
	if pg == nil {
		return collector.NewMemoryStore()
	}
	store := collector.NewPostgresStore(pg)
	if err := store.Migrate(ctx); err != nil {
		log.Warn("schema migration failed", "error", err)
	}
	return store
}

// Run starts the collector and waits for a termination signal.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	srv, err := server.NewServer(cfg, newStore(ctx, pg), rdb, log.For("server"))
	if err != nil {
		return err
	}

	if listen == nil {
		listen = defaultListen
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	srv.Start(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("collector listening", "addr", cfg.ServerPort)
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	stopHub()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
