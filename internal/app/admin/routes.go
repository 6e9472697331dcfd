// Package admin собирает HTTP API администратора: действия регистрации,
// лицензий, пробных периодов, передачи прав, разрешения клонов и состояние
// блогов.
package admin

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/engine"
	"github.com/magabrotheeeer/license-sync/internal/http/handlers/account"
	"github.com/magabrotheeeer/license-sync/internal/http/handlers/clone"
	"github.com/magabrotheeeer/license-sync/internal/http/handlers/license"
	"github.com/magabrotheeeer/license-sync/internal/http/handlers/owner"
	"github.com/magabrotheeeer/license-sync/internal/http/handlers/state"
	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует маршруты API для экземпляра inst.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg config.HTTPServer, inst *engine.Instance) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	accountHandler := account.New(logger, inst.Account, inst.Multisite, inst.Scheduler)
	licenseHandler := license.New(logger, inst.License, inst.Scheduler)
	ownerHandler := owner.New(logger, inst.Ownership)
	cloneHandler := clone.New(logger, inst.Clones)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.AdminTokenMiddleware(cfg.AdminTokenHash, logger))
		r.Use(middlewarectx.RateLimitMiddleware(limiter, logger))

		r.Post("/network/opt-in", accountHandler.OptInNetwork)
		r.Post("/network/skip", accountHandler.SkipNetwork)
		r.Post("/network/delegate", accountHandler.Delegate)

		r.Route("/blogs/{blogID}", func(r chi.Router) {
			r.Use(middlewarectx.BlogMiddleware(inst.Env(), logger))

			r.Post("/opt-in", accountHandler.OptIn)
			r.Post("/skip", accountHandler.Skip)
			r.Post("/reconnect", accountHandler.Reconnect)
			r.Post("/pending/confirm", accountHandler.ConfirmPending)

			r.Post("/license/activate", licenseHandler.Activate)
			r.Post("/license/deactivate", licenseHandler.Deactivate)
			r.Post("/license/sync", licenseHandler.Sync)
			r.Post("/trial", licenseHandler.StartTrial)
			r.Delete("/trial", licenseHandler.CancelTrial)

			r.Post("/owner/transfer", ownerHandler.Transfer)
			r.Post("/owner/confirm", ownerHandler.Confirm)

			r.Post("/clone/{resolution}", cloneHandler.Resolve)

			r.Get("/state", state.New(logger, inst).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
}
