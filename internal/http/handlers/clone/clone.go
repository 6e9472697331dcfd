// Package clone HTTP обработчик разрешения клона установки.
package clone

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	clonesvc "github.com/magabrotheeeer/license-sync/internal/clone"
	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// Service разрешение клонов.
type Service interface {
	ResolveAsNewInstall(ctx context.Context, blogID int64) error
	ResolveAsDuplicate(ctx context.Context, blogID int64) error
	ResolveAsMigration(ctx context.Context, blogID int64) error
	Record(ctx context.Context, blogID int64) (clonesvc.Record, error)
}

// Handler обработчик POST /blogs/{blogID}/clone/{resolution}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// Resolve POST /blogs/{blogID}/clone/{resolution}
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.clone.Resolve"
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())
	resolution := chi.URLParam(r, "resolution")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int64("blog_id", blogID),
		slog.String("resolution", resolution),
	)

	var resolve func(context.Context, int64) error
	switch resolution {
	case clonesvc.ResolutionNewInstall:
		resolve = h.service.ResolveAsNewInstall
	case clonesvc.ResolutionDuplicate:
		resolve = h.service.ResolveAsDuplicate
	case clonesvc.ResolutionMigration:
		resolve = h.service.ResolveAsMigration
	default:
		log.Info("unknown clone resolution")
		response.Render(w, r, http.StatusBadRequest, response.Error("unknown resolution"))
		return
	}

	if err := resolve(r.Context(), blogID); err != nil {
		log.Error("failed to resolve clone", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	rec, err := h.service.Record(r.Context(), blogID)
	if err != nil {
		log.Error("failed to read clone record", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	log.Info("clone resolved")
	response.Render(w, r, http.StatusOK, response.OKWithData(rec))
}
