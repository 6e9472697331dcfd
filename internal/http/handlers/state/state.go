// Package state HTTP обработчик сводного состояния блога.
package state

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/license-sync/internal/engine"
	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// Service источник состояния блога.
type Service interface {
	State(ctx context.Context, blogID int64) (*engine.BlogState, error)
}

// Handler обработчик GET /blogs/{blogID}/state.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.state"
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())

	st, err := h.service.State(r.Context(), blogID)
	if err != nil {
		h.log.Error("failed to read state",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int64("blog_id", blogID),
			sl.Err(err),
		)
		response.RenderError(w, r, err)
		return
	}
	response.Render(w, r, http.StatusOK, response.OKWithData(st))
}
