// Package main фоновый планировщик синхронизации лицензий.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/license-sync/internal/app/scheduler"
	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.SetupLogger(cfg.Env, cfg.LogLevel)

	logger.Info("starting license-sync scheduler", slog.String("env", cfg.Env), slog.Int64("module_id", cfg.ModuleID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := scheduler.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize scheduler", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("scheduler stopped with error", sl.Err(err))
		os.Exit(1)
	}
}
