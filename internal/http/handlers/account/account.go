// Package account HTTP обработчики регистрации: opt-in, пропуск,
// повторное подключение, подтверждение почты и делегирование по сети.
package account

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/license-sync/internal/account"
	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// Service машина состояний регистрации.
type Service interface {
	OptIn(ctx context.Context, blogID int64, req account.OptInRequest) (account.State, error)
	OptInNetwork(ctx context.Context, req account.OptInRequest) (account.State, error)
	Skip(ctx context.Context, blogID int64) error
	SkipNetwork(ctx context.Context) error
	Reconnect(ctx context.Context, blogID int64) (account.State, error)
	ConfirmPending(ctx context.Context, blogID int64, creds account.UserCredentials) (account.State, error)
}

// Delegator делегирует подключение администраторам блогов сети.
type Delegator interface {
	Delegate(ctx context.Context, blogIDs []int64) ([]int64, error)
}

// FirstSyncer выполняет первую синхронизацию только что
// зарегистрированного блога.
type FirstSyncer interface {
	FirstSync(ctx context.Context, blogID int64) (bool, error)
}

// DelegateRequest блоги для делегирования, пустой список означает все.
type DelegateRequest struct {
	BlogIDs []int64 `json:"blog_ids" validate:"omitempty,dive,min=1"`
}

// Handler обработчики регистрации.
type Handler struct {
	log       *slog.Logger
	service   Service
	delegator Delegator
	syncer    FirstSyncer
	validate  *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service, delegator Delegator, syncer FirstSyncer) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		delegator: delegator,
		syncer:    syncer,
		validate:  validator.New(),
	}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	if blogID, ok := middlewarectx.BlogIDFrom(r.Context()); ok {
		log = log.With(slog.Int64("blog_id", blogID))
	}
	return log
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request, log *slog.Logger, state account.State, err error) {
	if err != nil {
		log.Error("request failed", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	log.Info("account state changed", slog.String("state", string(state)))
	response.Render(w, r, http.StatusOK, response.OKWithData(map[string]any{"state": state}))
}

// firstSync запускает первую синхронизацию после регистрации. Ошибка
// синхронизации не отменяет регистрацию, блог догонит планировщик.
func (h *Handler) firstSync(r *http.Request, log *slog.Logger, blogID int64, state account.State, err error) {
	if err != nil || state != account.StateRegistered || h.syncer == nil {
		return
	}
	done, err := h.syncer.FirstSync(r.Context(), blogID)
	if err != nil {
		log.Warn("first sync failed", sl.Err(err))
		return
	}
	if done {
		log.Info("first sync completed")
	}
}

// OptIn POST /blogs/{blogID}/opt-in
func (h *Handler) OptIn(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.OptIn")
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())

	var req account.OptInRequest
	if !response.Decode(w, r, h.validate, &req, true) {
		return
	}
	state, err := h.service.OptIn(r.Context(), blogID, req)
	h.firstSync(r, log, blogID, state, err)
	h.state(w, r, log, state, err)
}

// OptInNetwork POST /network/opt-in
func (h *Handler) OptInNetwork(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.OptInNetwork")

	var req account.OptInRequest
	if !response.Decode(w, r, h.validate, &req, true) {
		return
	}
	state, err := h.service.OptInNetwork(r.Context(), req)
	h.state(w, r, log, state, err)
}

// Skip POST /blogs/{blogID}/skip
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.Skip")
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())

	err := h.service.Skip(r.Context(), blogID)
	h.state(w, r, log, account.StateAnonymous, err)
}

// SkipNetwork POST /network/skip
func (h *Handler) SkipNetwork(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.SkipNetwork")

	err := h.service.SkipNetwork(r.Context())
	h.state(w, r, log, account.StateAnonymous, err)
}

// Reconnect POST /blogs/{blogID}/reconnect
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.Reconnect")
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())

	state, err := h.service.Reconnect(r.Context(), blogID)
	h.state(w, r, log, state, err)
}

// ConfirmPending POST /blogs/{blogID}/pending/confirm
func (h *Handler) ConfirmPending(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.ConfirmPending")
	blogID, _ := middlewarectx.BlogIDFrom(r.Context())

	var creds account.UserCredentials
	if !response.Decode(w, r, h.validate, &creds, false) {
		return
	}
	state, err := h.service.ConfirmPending(r.Context(), blogID, creds)
	h.firstSync(r, log, blogID, state, err)
	h.state(w, r, log, state, err)
}

// Delegate POST /network/delegate
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.account.Delegate")

	var req DelegateRequest
	if !response.Decode(w, r, h.validate, &req, true) {
		return
	}
	delegated, err := h.delegator.Delegate(r.Context(), req.BlogIDs)
	if err != nil {
		log.Error("failed to delegate connection", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	log.Info("connection delegated", slog.Any("blog_ids", delegated))
	response.Render(w, r, http.StatusOK, response.OKWithData(map[string]any{"delegated": delegated}))
}
