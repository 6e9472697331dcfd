// Package account реализует машину состояний регистрации: opt-in,
// ожидание подтверждения по почте, пропуск (анонимный режим) и повторное
// подключение. Состояние вычисляется из сохранённых сущностей и флагов.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/notice"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// State состояние регистрации блога.
type State string

const (
	StateUndecided         State = "UNDECIDED"
	StatePendingActivation State = "PENDING_ACTIVATION"
	StateRegistered        State = "REGISTERED"
	StateAnonymous         State = "ANONYMOUS"
)

// SyncScheduler планирует фоновую синхронизацию после регистрации.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, blogID int64) error
}

// OptInRequest данные для регистрации.
type OptInRequest struct {
	Email              string `json:"email" validate:"omitempty,email"`
	FirstName          string `json:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	LicenseKey         string `json:"license_key,omitempty"`
	TrialPlanID        int64  `json:"trial_plan_id,omitempty"`
	IsMarketingAllowed *bool  `json:"is_marketing_allowed,omitempty"`
}

// PendingRecord данные ожидающей подтверждения регистрации.
type PendingRecord struct {
	Reason     string    `json:"reason"`
	Email      string    `json:"email"`
	LicenseKey string    `json:"license_key,omitempty"`
	Network    bool      `json:"network"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserCredentials подписанные данные пользователя из ссылки подтверждения.
type UserCredentials struct {
	UserID    int64  `json:"user_id" validate:"required,min=1"`
	PublicKey string `json:"user_public_key" validate:"required"`
	SecretKey string `json:"user_secret_key" validate:"required"`
}

// Service машина состояний регистрации.
type Service struct {
	store     *store.Store
	client    remote.Client
	env       host.Environment
	bus       events.Emitter
	notices   *notice.Queue
	scheduler SyncScheduler
	module    models.Module
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт сервис регистрации.
func New(s *store.Store, client remote.Client, env host.Environment, bus events.Emitter, notices *notice.Queue, module models.Module, log *slog.Logger) *Service {
	return &Service{
		store:   s,
		client:  client,
		env:     env,
		bus:     bus,
		notices: notices,
		module:  module,
		log:     log,
		now:     time.Now,
	}
}

// SetScheduler задаёт планировщик, которому передаётся первая синхронизация.
func (s *Service) SetScheduler(sch SyncScheduler) {
	s.scheduler = sch
}

func (s *Service) pluginCreds() remote.Credentials {
	return remote.Credentials{ID: s.module.ID, PublicKey: s.module.PublicKey}
}

// IsAnonymous сообщает, пропущено ли подключение для блога. Сетевой пропуск
// действует на все блоги, которым подключение не делегировано.
func (s *Service) IsAnonymous(ctx context.Context, blogID int64) (bool, error) {
	anon, err := s.store.Bool(ctx, store.Blog(blogID), store.KeyAnonymous)
	if err != nil || anon || !s.store.IsNetworkActive() {
		return anon, err
	}
	delegated, err := s.store.Bool(ctx, store.Blog(blogID), store.KeyDelegated)
	if err != nil || delegated {
		return false, err
	}
	return s.store.Bool(ctx, store.Network(), store.KeyAnonymous)
}

// User возвращает пользователя блога: владельца установки, а для сети без
// установки блога сетевого пользователя.
func (s *Service) User(ctx context.Context, blogID int64) (*models.User, error) {
	scope := s.store.AccountScope(blogID)
	site, err := s.store.Site(ctx, blogID)
	if err != nil {
		return nil, err
	}
	var userID int64
	if site != nil {
		userID = site.UserID
	} else if s.store.IsNetworkActive() {
		if userID, err = s.store.Int64(ctx, store.Network(), store.KeyNetworkUserID); err != nil {
			return nil, err
		}
	}
	return s.store.User(ctx, scope, userID)
}

// IsRegistered истинно, если пользователь есть и модуль платный или
// подключение не пропущено.
func (s *Service) IsRegistered(ctx context.Context, blogID int64) (bool, error) {
	const op = "account.IsRegistered"
	user, err := s.User(ctx, blogID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if user == nil {
		return false, nil
	}
	if s.module.IsPremium {
		return true, nil
	}
	anon, err := s.IsAnonymous(ctx, blogID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return !anon, nil
}

// State вычисляет состояние регистрации блога.
func (s *Service) State(ctx context.Context, blogID int64) (State, error) {
	const op = "account.State"
	registered, err := s.IsRegistered(ctx, blogID)
	if err != nil {
		return "", err
	}
	if registered {
		return StateRegistered, nil
	}
	pending, err := s.store.Bool(ctx, store.Blog(blogID), store.KeyPendingActivation)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if pending {
		return StatePendingActivation, nil
	}
	anon, err := s.IsAnonymous(ctx, blogID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if anon {
		return StateAnonymous, nil
	}
	return StateUndecided, nil
}

func (s *Service) installParams(ctx context.Context, blogID int64) (map[string]any, error) {
	data, err := s.env.InstallData(ctx, blogID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":              data.URL,
		"title":            data.Title,
		"version":          data.Version,
		"language":         data.Language,
		"platform_version": data.PlatformVersion,
		"sdk_version":      data.SDKVersion,
		"is_active":        data.IsActive,
		"uid":              strconv.FormatInt(s.module.ID, 10) + ":" + strconv.FormatInt(blogID, 10),
	}, nil
}

func optInParams(params map[string]any, req OptInRequest) map[string]any {
	if req.Email != "" {
		params["user_email"] = req.Email
	}
	if req.FirstName != "" {
		params["user_firstname"] = req.FirstName
	}
	if req.LastName != "" {
		params["user_lastname"] = req.LastName
	}
	if req.LicenseKey != "" {
		params["license_key"] = req.LicenseKey
	}
	if req.TrialPlanID > 0 {
		params["trial_plan_id"] = req.TrialPlanID
	}
	if req.IsMarketingAllowed != nil {
		params["is_marketing_allowed"] = *req.IsMarketingAllowed
	}
	return params
}

// OptIn регистрирует блог. При ошибке удалённого вызова состояние не меняется
// и возвращается исходная ошибка; повторная попытка не выполняется.
func (s *Service) OptIn(ctx context.Context, blogID int64, req OptInRequest) (State, error) {
	const op = "account.OptIn"
	registered, err := s.IsRegistered(ctx, blogID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if registered {
		return StateRegistered, nil
	}
	return s.Register(ctx, blogID, req)
}

// Register выполняет регистрационный вызов для блога без проверки текущей
// регистрации. Используется, когда у блога должна появиться новая установка
// при наличии пользователя, например при разрешении клона.
func (s *Service) Register(ctx context.Context, blogID int64, req OptInRequest) (State, error) {
	const op = "account.Register"
	log := s.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	params, err := s.installParams(ctx, blogID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.client.Call(ctx, remote.ScopePlugin, s.pluginCreds(), http.MethodPost, "installs.json", optInParams(params, req))
	if err != nil {
		log.Warn("registration call failed", sl.Err(err))
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}

	if pending, err := s.handlePending(ctx, []int64{blogID}, res, req, false); pending || err != nil {
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return StatePendingActivation, nil
	}

	user, err := parseUser(res, "")
	if err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	raw, ok := res.Field("install")
	if !ok {
		return StateUndecided, fmt.Errorf("%s: install missing in response: %w", op, models.ErrInvalidEntity)
	}
	site, err := models.ParseSite(raw)
	if err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.commitRegistration(ctx, user, map[int64]*models.Site{blogID: site}, false); err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("module connected", slog.Int64("user_id", user.ID), slog.Int64("install_id", site.ID))
	return StateRegistered, nil
}

// OptInNetwork регистрирует все блоги сети одним вызовом.
func (s *Service) OptInNetwork(ctx context.Context, req OptInRequest) (State, error) {
	const op = "account.OptInNetwork"
	if !s.store.IsNetworkActive() {
		return "", fmt.Errorf("%s: %w", op, models.ErrNotNetwork)
	}
	mainBlog := s.env.MainBlogID()
	blogIDs, err := s.env.BlogIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	sites := make([]map[string]any, 0, len(blogIDs))
	for _, id := range blogIDs {
		p, err := s.installParams(ctx, id)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		sites = append(sites, p)
	}
	params := optInParams(map[string]any{"sites": sites}, req)

	res, err := s.client.Call(ctx, remote.ScopePlugin, s.pluginCreds(), http.MethodPost, "installs.json", params)
	if err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	if pending, err := s.handlePending(ctx, blogIDs, res, req, true); pending || err != nil {
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return StatePendingActivation, nil
	}

	user, err := parseUser(res, "")
	if err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	mapped, err := s.mapInstalls(ctx, res, blogIDs)
	if err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.commitRegistration(ctx, user, mapped, true); err != nil {
		return StateUndecided, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("network connected", slog.Int64("user_id", user.ID), slog.Int("installs", len(mapped)), slog.Int64("main_blog_id", mainBlog))
	return StateRegistered, nil
}

// mapInstalls сопоставляет установки из ответа блогам по адресу, а при
// отсутствии совпадения по порядку отправки.
func (s *Service) mapInstalls(ctx context.Context, res *remote.Result, blogIDs []int64) (map[int64]*models.Site, error) {
	items, ok := res.Collection("installs")
	if !ok {
		if raw, ok := res.Field("install"); ok {
			items = []json.RawMessage{raw}
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("installs missing in response: %w", models.ErrInvalidEntity)
	}

	byURL := make(map[string]int64, len(blogIDs))
	for _, id := range blogIDs {
		url, err := s.env.SiteURL(ctx, id)
		if err != nil {
			return nil, err
		}
		byURL[models.NormalizeURL(url)] = id
	}

	mapped := make(map[int64]*models.Site, len(items))
	for i, raw := range items {
		site, err := models.ParseSite(raw)
		if err != nil {
			return nil, err
		}
		blogID, ok := byURL[models.NormalizeURL(site.URL)]
		if !ok && i < len(blogIDs) {
			blogID = blogIDs[i]
		}
		if blogID == 0 {
			continue
		}
		mapped[blogID] = site
	}
	return mapped, nil
}

func parseUser(res *remote.Result, secret string) (*models.User, error) {
	raw, ok := res.Field("user")
	if !ok {
		if !res.IsEntity() {
			return nil, fmt.Errorf("user missing in response: %w", models.ErrInvalidEntity)
		}
		raw = res.Body()
	}
	user, err := models.ParseUser(raw)
	if err != nil {
		return nil, err
	}
	if user.SecretKey == "" {
		user.SecretKey = secret
	}
	return user, nil
}

// commitRegistration атомарно сохраняет пользователя и установки и снимает
// флаги пропуска и ожидания.
func (s *Service) commitRegistration(ctx context.Context, user *models.User, sites map[int64]*models.Site, network bool) error {
	mainBlog := s.env.MainBlogID()
	batch := s.store.Batch()
	now := s.now().UTC()
	for blogID, site := range sites {
		batch.SetUser(s.store.AccountScope(blogID), user)
		batch.SetSite(blogID, site)
		batch.Set(store.Blog(blogID), store.KeyRegisteredAt, now)
		batch.Delete(store.Blog(blogID), store.KeyAnonymous, store.KeyPendingActivation, store.KeyPendingRecord)
	}
	if network || s.store.IsNetworkActive() {
		networkUser, err := s.store.Int64(ctx, store.Network(), store.KeyNetworkUserID)
		if err != nil {
			return err
		}
		if network || networkUser == 0 {
			batch.Set(store.Network(), store.KeyNetworkUserID, user.ID)
		}
		if network {
			batch.Set(store.Network(), store.KeyNetworkInstallBlog, mainBlog)
			batch.Delete(store.Network(), store.KeyAnonymous, store.KeyNetworkUpgrade)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return err
	}

	for blogID, site := range sites {
		s.bus.Emit(ctx, events.AccountConnected, blogID, map[string]any{
			"user_id":    user.ID,
			"install_id": site.ID,
			"network":    network,
		})
		if s.scheduler != nil {
			if err := s.scheduler.ScheduleSync(ctx, blogID); err != nil {
				s.log.Warn("failed to schedule first sync", slog.Int64("blog_id", blogID), sl.Err(err))
			}
		}
	}
	return nil
}

func (s *Service) handlePending(ctx context.Context, blogIDs []int64, res *remote.Result, req OptInRequest, network bool) (bool, error) {
	var payload struct {
		Pending bool   `json:"pending_activation"`
		Email   string `json:"user_email"`
		Reason  string `json:"reason"`
	}
	if err := res.Decode(&payload); err != nil || !payload.Pending {
		return false, nil
	}
	email := payload.Email
	if email == "" {
		email = req.Email
	}
	rec := PendingRecord{
		Reason:     payload.Reason,
		Email:      email,
		LicenseKey: req.LicenseKey,
		Network:    network,
		CreatedAt:  s.now().UTC(),
	}
	batch := s.store.Batch()
	for _, id := range blogIDs {
		batch.Set(store.Blog(id), store.KeyPendingActivation, true)
		batch.Set(store.Blog(id), store.KeyPendingRecord, rec)
	}
	if err := batch.Commit(ctx); err != nil {
		return false, err
	}
	for _, id := range blogIDs {
		if s.notices != nil {
			msg := "Please check your mailbox to complete the activation."
			if err := s.notices.Add(ctx, id, notice.TypePendingActivation, notice.TypePendingActivation, msg); err != nil {
				s.log.Warn("failed to add notice", sl.Err(err))
			}
		}
		s.bus.Emit(ctx, events.AccountPendingActivation, id, map[string]any{"reason": rec.Reason, "email": rec.Email})
	}
	return true, nil
}

// Pending возвращает запись ожидающей регистрации или nil.
func (s *Service) Pending(ctx context.Context, blogID int64) (*PendingRecord, error) {
	var rec PendingRecord
	found, err := s.store.Get(ctx, store.Blog(blogID), store.KeyPendingRecord, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// ConfirmPending завершает регистрацию по подписанным данным пользователя:
// загружает пользователя и создаёт установку от его имени.
func (s *Service) ConfirmPending(ctx context.Context, blogID int64, creds UserCredentials) (State, error) {
	const op = "account.ConfirmPending"
	rec, err := s.Pending(ctx, blogID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if rec == nil {
		return "", fmt.Errorf("%s: %w", op, models.ErrNotPending)
	}

	userCreds := remote.Credentials{ID: creds.UserID, PublicKey: creds.PublicKey, SecretKey: creds.SecretKey}
	res, err := s.client.Call(ctx, remote.ScopeUser, userCreds, http.MethodGet, "/", nil)
	if err != nil {
		return StatePendingActivation, fmt.Errorf("%s: %w", op, err)
	}
	user, err := parseUser(res, creds.SecretKey)
	if err != nil {
		return StatePendingActivation, fmt.Errorf("%s: %w", op, err)
	}
	user.PublicKey = creds.PublicKey

	blogIDs := []int64{blogID}
	var params map[string]any
	if rec.Network {
		if blogIDs, err = s.env.BlogIDs(ctx); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		sites := make([]map[string]any, 0, len(blogIDs))
		for _, id := range blogIDs {
			p, err := s.installParams(ctx, id)
			if err != nil {
				return "", fmt.Errorf("%s: %w", op, err)
			}
			sites = append(sites, p)
		}
		params = map[string]any{"sites": sites}
	} else if params, err = s.installParams(ctx, blogID); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if rec.LicenseKey != "" {
		params["license_key"] = rec.LicenseKey
	}

	path := fmt.Sprintf("plugins/%d/installs.json", s.module.ID)
	res, err = s.client.Call(ctx, remote.ScopeUser, userCreds, http.MethodPost, path, params)
	if err != nil {
		return StatePendingActivation, fmt.Errorf("%s: %w", op, err)
	}

	var sites map[int64]*models.Site
	if res.IsEntity() {
		site, err := models.ParseSite(res.Body())
		if err != nil {
			return StatePendingActivation, fmt.Errorf("%s: %w", op, err)
		}
		sites = map[int64]*models.Site{blogID: site}
	} else if sites, err = s.mapInstalls(ctx, res, blogIDs); err != nil {
		return StatePendingActivation, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.commitRegistration(ctx, user, sites, rec.Network); err != nil {
		return StatePendingActivation, fmt.Errorf("%s: %w", op, err)
	}
	for id := range sites {
		if s.notices != nil {
			if err := s.notices.Dismiss(ctx, id, notice.TypePendingActivation); err != nil {
				s.log.Warn("failed to dismiss pending activation notice", slog.Int64("blog_id", id), sl.Err(err))
			}
		}
	}
	return StateRegistered, nil
}

// Skip переводит блог в анонимный режим. Пользователь и установка не удаляются.
func (s *Service) Skip(ctx context.Context, blogID int64) error {
	const op = "account.Skip"
	err := s.store.Batch().
		Set(store.Blog(blogID), store.KeyAnonymous, true).
		Delete(store.Blog(blogID), store.KeyPendingActivation, store.KeyPendingRecord).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.bus.Emit(ctx, events.AccountSkipped, blogID, nil)
	return nil
}

// SkipNetwork пропускает подключение для всей сети и для каждого блога,
// которому подключение не делегировано.
func (s *Service) SkipNetwork(ctx context.Context) error {
	const op = "account.SkipNetwork"
	if !s.store.IsNetworkActive() {
		return fmt.Errorf("%s: %w", op, models.ErrNotNetwork)
	}
	blogIDs, err := s.env.BlogIDs(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	batch := s.store.Batch().
		Set(store.Network(), store.KeyAnonymous, true).
		Delete(store.Network(), store.KeyNetworkUpgrade)
	var skipped []int64
	for _, id := range blogIDs {
		delegated, err := s.store.Bool(ctx, store.Blog(id), store.KeyDelegated)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if delegated {
			continue
		}
		batch.Set(store.Blog(id), store.KeyAnonymous, true)
		skipped = append(skipped, id)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, id := range skipped {
		s.bus.Emit(ctx, events.AccountSkipped, id, map[string]any{"network": true})
	}
	return nil
}

// Reconnect снимает флаг анонимности, блог возвращается к выбору подключения.
func (s *Service) Reconnect(ctx context.Context, blogID int64) (State, error) {
	const op = "account.Reconnect"
	batch := s.store.Batch().Delete(store.Blog(blogID), store.KeyAnonymous)
	if s.store.IsNetworkActive() {
		delegated, err := s.store.Bool(ctx, store.Blog(blogID), store.KeyDelegated)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if !delegated {
			batch.Delete(store.Network(), store.KeyAnonymous)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.bus.Emit(ctx, events.AccountReconnected, blogID, nil)
	return s.State(ctx, blogID)
}
