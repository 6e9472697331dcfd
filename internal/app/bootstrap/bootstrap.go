// Package bootstrap собирает общую часть приложений: хранилище опций,
// удалённый клиент, окружение хоста, экземпляр движка и пересылку событий
// в RabbitMQ.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/engine"
	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/migrations"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/storage/postgresql"
	"github.com/magabrotheeeer/license-sync/internal/storage/redis"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Runtime собранный экземпляр и ресурсы, которые нужно закрыть.
type Runtime struct {
	Registry *engine.Registry
	Instance *engine.Instance
	Env      *host.Static
	closers  []io.Closer
	logger   *slog.Logger
}

type backend interface {
	store.Backend
	io.Closer
}

func waitForDB(ctx context.Context, db *postgresql.Storage) error {
	for range 10 {
		if err := db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return errors.New("database not ready after retries")
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgresql.New(ctx, cfg.StorageConnectionString)
		if err != nil {
			return nil, err
		}
		if err := waitForDB(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		if _, _, err := migrations.Version(db.DB, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	default:
		return redis.InitServer(ctx, cfg.RedisConnection)
	}
}

// New подключает хранилище, собирает экземпляр движка и регистрирует его.
// При заданном RabbitMQ события экземпляра пересылаются в обменник.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	const op = "bootstrap.New"

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open storage: %w", op, err)
	}
	rt := &Runtime{Registry: engine.NewRegistry(), closers: []io.Closer{b}, logger: logger}

	module := engine.ModuleFromConfig(cfg.Module)
	s := store.New(b, store.Options{
		Prefix:        cfg.KeyPrefix,
		Slug:          module.Slug,
		ModuleID:      module.ID,
		NetworkActive: cfg.IsNetworkActive,
	}, logger)
	rt.Env = host.NewStatic(cfg.Network, cfg.Module)

	rt.Instance = engine.MustNew(rt.Registry, engine.Params{
		Module:  module,
		Store:   s,
		Client:  remote.NewHTTPClient(cfg.Remote, module.ID, logger),
		Env:     rt.Env,
		Sync:    cfg.Sync,
		LockTTL: cfg.Locks.TTL,
		Log:     logger,
	})

	if cfg.RabbitMQURL != "" {
		if err := rt.forwardEvents(cfg.RabbitMQ); err != nil {
			rt.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return rt, nil
}

func (rt *Runtime) forwardEvents(cfg config.RabbitMQ) error {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	rt.closers = append(rt.closers, conn)

	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.GetEventQueues())
	if err != nil {
		return fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	rt.closers = append(rt.closers, ch)

	events.NewAMQPForwarder(ch, cfg.Exchange, rt.logger).Attach(rt.Instance.Bus)
	rt.logger.Info("forwarding events to RabbitMQ", slog.String("exchange", cfg.Exchange))
	return nil
}

// Close освобождает ресурсы в обратном порядке.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Error("failed to close resource", sl.Err(err))
		}
	}
}
