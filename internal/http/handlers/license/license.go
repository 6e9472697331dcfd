// Package license HTTP обработчики лицензий: активация, деактивация,
// принудительная синхронизация и пробные периоды.
package license

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	licensesvc "github.com/magabrotheeeer/license-sync/internal/license"
	"github.com/magabrotheeeer/license-sync/internal/models"
)

// Service резолвер лицензий.
type Service interface {
	Activate(ctx context.Context, blogID, licenseID int64, key string) (*models.License, error)
	Deactivate(ctx context.Context, blogID int64) error
	StartTrial(ctx context.Context, blogID, planID int64) (*models.Site, error)
	CancelTrialOrSubscription(ctx context.Context, blogID int64) error
	Current(ctx context.Context, blogID int64) (*models.Site, *models.License, error)
}

// Syncer синхронизирует блог в интерактивном режиме.
type Syncer interface {
	SyncNow(ctx context.Context, blogID int64) error
}

// ActivateRequest лицензия по id, по ключу или по обоим.
type ActivateRequest struct {
	LicenseID  int64  `json:"license_id" validate:"omitempty,min=1"`
	LicenseKey string `json:"license_key" validate:"omitempty,max=64"`
}

// TrialRequest план пробного периода.
type TrialRequest struct {
	PlanID int64 `json:"plan_id" validate:"required,min=1"`
}

// Handler обработчики лицензий.
type Handler struct {
	log      *slog.Logger
	service  Service
	syncer   Syncer
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service, syncer Syncer) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		syncer:   syncer,
		validate: validator.New(),
	}
}

func (h *Handler) logger(r *http.Request, op string) (*slog.Logger, int64) {
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int64("blog_id", blogID),
	), blogID
}

// Activate POST /blogs/{blogID}/license/activate
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	log, blogID := h.logger(r, "handlers.license.Activate")

	var req ActivateRequest
	if !response.Decode(w, r, h.validate, &req, false) {
		return
	}
	if req.LicenseID == 0 && req.LicenseKey == "" {
		response.Render(w, r, http.StatusUnprocessableEntity, response.Error("license_id or license_key is required"))
		return
	}
	l, err := h.service.Activate(r.Context(), blogID, req.LicenseID, req.LicenseKey)
	if err != nil {
		log.Error("failed to activate license", sl.Err(err))
		status, resp := response.FromError(err)
		resp.Error = licensesvc.ErrorMessage(err)
		response.Render(w, r, status, resp)
		return
	}
	log.Info("license activated", slog.Int64("license_id", l.ID))
	response.Render(w, r, http.StatusOK, response.OKWithData(l))
}

// Deactivate POST /blogs/{blogID}/license/deactivate
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	log, blogID := h.logger(r, "handlers.license.Deactivate")

	if err := h.service.Deactivate(r.Context(), blogID); err != nil {
		log.Error("failed to deactivate license", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	log.Info("license deactivated")
	response.Render(w, r, http.StatusOK, response.OK())
}

// Sync POST /blogs/{blogID}/license/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	log, blogID := h.logger(r, "handlers.license.Sync")

	if err := h.syncer.SyncNow(r.Context(), blogID); err != nil {
		log.Error("sync failed", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	site, l, err := h.service.Current(r.Context(), blogID)
	if err != nil {
		log.Error("failed to read license", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	response.Render(w, r, http.StatusOK, response.OKWithData(map[string]any{
		"site":    site,
		"license": l,
	}))
}

// StartTrial POST /blogs/{blogID}/trial
func (h *Handler) StartTrial(w http.ResponseWriter, r *http.Request) {
	log, blogID := h.logger(r, "handlers.license.StartTrial")

	var req TrialRequest
	if !response.Decode(w, r, h.validate, &req, false) {
		return
	}
	site, err := h.service.StartTrial(r.Context(), blogID, req.PlanID)
	if err != nil {
		log.Error("failed to start trial", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	log.Info("trial started", slog.Int64("plan_id", req.PlanID))
	response.Render(w, r, http.StatusOK, response.OKWithData(site))
}

// CancelTrial DELETE /blogs/{blogID}/trial
func (h *Handler) CancelTrial(w http.ResponseWriter, r *http.Request) {
	log, blogID := h.logger(r, "handlers.license.CancelTrial")

	if err := h.service.CancelTrialOrSubscription(r.Context(), blogID); err != nil {
		log.Error("failed to cancel trial or subscription", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	response.Render(w, r, http.StatusOK, response.OK())
}
