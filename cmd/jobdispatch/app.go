package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	audithook "github.com/xraph/jobdispatch/audit_hook"
	"github.com/xraph/jobdispatch/engine"
	redisnotify "github.com/xraph/jobdispatch/notify/redis"
	"github.com/xraph/jobdispatch/store"
	bunstore "github.com/xraph/jobdispatch/store/bun"
	"github.com/xraph/jobdispatch/store/memory"
	"github.com/xraph/jobdispatch/store/postgres"
	"github.com/xraph/jobdispatch/store/sqlite"
)

// app holds what every command shares. It is opened lazily so that
// flags can override the environment first.
type app struct {
	cfg    *config
	stderr io.Writer

	logger *slog.Logger
	store  store.Store
	eng    *engine.Engine
	redis  *goredis.Client
	sub    *redisnotify.Subscriber

	closers []func() error
}

func newApp(cfg *config, stderr io.Writer) *app {
	return &app{cfg: cfg, stderr: stderr}
}

func (a *app) open(ctx context.Context) error {
	if a.eng != nil {
		return nil
	}
	if err := a.cfg.validate(); err != nil {
		return err
	}

	logger, err := newLogger(a.stderr, a.cfg.LogLevel, a.cfg.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithConfig(a.cfg.engineConfig()),
		engine.WithExtension(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))),
	}
	if a.cfg.WorkerID != "" {
		opts = append(opts, engine.WithWorkerID(a.cfg.WorkerID))
	}
	if a.cfg.RedisAddr != "" {
		a.redis = goredis.NewClient(&goredis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, a.redis.Close)
		a.sub = redisnotify.NewSubscriber(a.redis, redisnotify.WithLogger(logger))
		opts = append(opts,
			engine.WithExtension(redisnotify.NewPublisher(a.redis, redisnotify.WithLogger(logger))),
			engine.WithWakeup(a.sub.Wakeup()),
		)
	}

	eng, err := engine.Build(s, opts...)
	if err != nil {
		return err
	}
	registerBuiltins(eng)
	a.eng = eng
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store {
	case storeMemory:
		return memory.New(), nil

	case storePostgres:
		return postgres.New(ctx, a.cfg.DSN, postgres.WithLogger(a.logger))

	case storeBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(a.cfg.DSN)))
		a.closers = append(a.closers, sqldb.Close)
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(a.logger)), nil

	case storeSQLite:
		path := a.cfg.DSN
		if path == "" {
			path = defaultSQLitePath
		}
		return sqlite.Open(ctx, path, sqlite.WithLogger(a.logger))

	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
