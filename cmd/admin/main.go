// Package main админский HTTP API движка синхронизации лицензий.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/license-sync/internal/app/admin"
	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.SetupLogger(cfg.Env, cfg.LogLevel)

	logger.Info("starting license-sync admin", slog.String("env", cfg.Env), slog.Int64("module_id", cfg.ModuleID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := admin.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("license-sync admin stopped gracefully")
}
