// Package scheduler фоновый процесс синхронизации: однократная миграция
// сети, периодические проходы синхронизации и проверка обновлений.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/app/bootstrap"
	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/engine"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/models"
)

// App приложение планировщика.
type App struct {
	runtime        *bootstrap.Runtime
	instance       *engine.Instance
	networkActive  bool
	updateInterval time.Duration
	logger         *slog.Logger
}

// New подключает хранилище и собирает движок.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	interval := cfg.SyncPeriod
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &App{
		runtime:        rt,
		instance:       rt.Instance,
		networkActive:  cfg.IsNetworkActive,
		updateInterval: interval,
		logger:         logger,
	}, nil
}

// Run выполняет миграцию сети, затем синхронизирует блоги по расписанию
// до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.runtime.Close()

	if a.networkActive {
		res, err := a.instance.Multisite.Migrate(ctx)
		switch {
		case errors.Is(err, models.ErrLocked):
			a.logger.Warn("network migration is running elsewhere")
		case err != nil:
			return err
		default:
			a.logger.Info("network storage ready", slog.String("outcome", string(res.Outcome)))
		}
	}

	go a.checkUpdates(ctx)
	a.instance.Scheduler.Run(ctx)

	a.logger.Info("shutting down scheduler service")
	return nil
}

func (a *App) checkUpdates(ctx context.Context) {
	ticker := time.NewTicker(a.updateInterval)
	defer ticker.Stop()
	for {
		a.updatePass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) updatePass(ctx context.Context) {
	blogIDs, err := a.instance.Env().BlogIDs(ctx)
	if err != nil {
		a.logger.Error("failed to list blogs", sl.Err(err))
		return
	}
	for _, blogID := range blogIDs {
		if ctx.Err() != nil {
			return
		}
		update, err := a.instance.License.CheckUpdate(ctx, blogID)
		switch {
		case errors.Is(err, models.ErrNotRegistered):
		case err != nil:
			a.logger.Warn("update check failed", slog.Int64("blog_id", blogID), sl.Err(err))
		case update != nil:
			a.logger.Info("update available", slog.Int64("blog_id", blogID), slog.String("version", update.Version))
		}
	}
}
