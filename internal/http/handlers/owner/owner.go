// Package owner HTTP обработчики передачи прав на установку.
package owner

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/ownership"
)

// Service сервис передачи прав.
type Service interface {
	InitiateTransfer(ctx context.Context, blogID int64, email string) (*ownership.Transfer, error)
	ConfirmTransfer(ctx context.Context, blogID int64, token string, owner ownership.NewOwner) (*models.Site, error)
}

// TransferRequest почта нового владельца.
type TransferRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConfirmRequest токен передачи и ключи нового владельца.
type ConfirmRequest struct {
	Token string `json:"token" validate:"required"`
	ownership.NewOwner
}

// Handler обработчики передачи прав.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Transfer POST /blogs/{blogID}/owner/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.owner.Transfer"
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int64("blog_id", blogID),
	)

	var req TransferRequest
	if !response.Decode(w, r, h.validate, &req, false) {
		return
	}
	t, err := h.service.InitiateTransfer(r.Context(), blogID, req.Email)
	if err != nil {
		log.Error("failed to initiate transfer", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	response.Render(w, r, http.StatusOK, response.OKWithData(map[string]any{
		"transfer_id": t.ID,
		"token":       t.Token,
		"expires_at":  t.ExpiresAt,
	}))
}

// Confirm POST /blogs/{blogID}/owner/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.owner.Confirm"
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int64("blog_id", blogID),
	)

	var req ConfirmRequest
	if !response.Decode(w, r, h.validate, &req, false) {
		return
	}
	site, err := h.service.ConfirmTransfer(r.Context(), blogID, req.Token, req.NewOwner)
	if err != nil {
		log.Error("failed to confirm transfer", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	log.Info("ownership changed", slog.Int64("user_id", site.UserID))
	response.Render(w, r, http.StatusOK, response.OKWithData(site))
}
