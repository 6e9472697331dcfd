// Package ownership передаёт установку другому пользователю в два шага:
// текущий владелец инициирует передачу и получает подписанный токен,
// новый владелец подтверждает её своими ключами. Привязка лицензии
// при этом сохраняется.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/lib/jwt"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// DefaultTTL время жизни токена передачи по умолчанию.
const DefaultTTL = 72 * time.Hour

// Transfer незавершённая передача прав, хранится в области блога.
type Transfer struct {
	ID          string    `json:"id"`
	FromUserID  int64     `json:"from_user_id"`
	ToEmail     string    `json:"to_email"`
	InitiatedAt time.Time `json:"initiated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Token       string    `json:"-"`
}

// NewOwner ключи нового владельца, полученные им от сервера.
type NewOwner struct {
	UserID    int64  `json:"user_id" validate:"required,min=1"`
	PublicKey string `json:"user_public_key" validate:"required"`
	SecretKey string `json:"user_secret_key" validate:"required"`
}

// Service сервис передачи прав.
type Service struct {
	store  *store.Store
	client remote.Client
	env    host.Environment
	bus    events.Emitter
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// New создаёт сервис. ttl <= 0 означает DefaultTTL.
func New(s *store.Store, client remote.Client, env host.Environment, bus events.Emitter, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  s,
		client: client,
		env:    env,
		bus:    bus,
		ttl:    ttl,
		log:    log,
		now:    time.Now,
	}
}

func installCreds(site *models.Site) remote.Credentials {
	return remote.Credentials{ID: site.ID, PublicKey: site.PublicKey, SecretKey: site.SecretKey}
}

func (s *Service) site(ctx context.Context, blogID int64) (*models.Site, error) {
	site, err := s.store.Site(ctx, blogID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, models.ErrNotRegistered
	}
	return site, nil
}

// Pending возвращает незавершённую передачу блога или nil.
func (s *Service) Pending(ctx context.Context, blogID int64) (*Transfer, error) {
	const op = "ownership.Pending"
	var t Transfer
	found, err := s.store.Get(ctx, store.Blog(blogID), store.KeyTransfer, &t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, nil
	}
	return &t, nil
}

// InitiateTransfer регистрирует передачу установки блога владельцу с почтой
// email. Возвращённый токен подписан секретным ключом установки и нужен для
// подтверждения. Повторный вызов заменяет предыдущую передачу.
func (s *Service) InitiateTransfer(ctx context.Context, blogID int64, email string) (*Transfer, error) {
	const op = "ownership.InitiateTransfer"
	log := s.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	site, err := s.site(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%s: empty email: %w", op, models.ErrTransferInvalid)
	}

	id := uuid.NewString()
	if _, err := s.client.Call(ctx, remote.ScopeInstall, installCreds(site), http.MethodPost, "owner/transfers.json", map[string]any{
		"transfer_id": id,
		"email":       email,
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims := jwt.TransferClaims{InstallID: site.ID, FromUserID: site.UserID, ToEmail: email}
	claims.ID = id
	token, err := jwt.NewJWTMaker(site.SecretKey, s.ttl).GenerateToken(claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	t := &Transfer{
		ID:          id,
		FromUserID:  site.UserID,
		ToEmail:     email,
		InitiatedAt: now,
		ExpiresAt:   now.Add(s.ttl),
		Token:       token,
	}
	if err := s.store.Set(ctx, store.Blog(blogID), store.KeyTransfer, t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.bus.Emit(ctx, events.OwnerTransferInitiated, blogID, map[string]any{
		"transfer_id":  id,
		"from_user_id": site.UserID,
		"to_email":     email,
	})
	log.Info("ownership transfer initiated", slog.String("transfer_id", id))
	return t, nil
}

// ConfirmTransfer завершает передачу: проверяет токен, переназначает
// установку новому владельцу на сервере и локально. Лицензия установки
// не меняется. Истёкший токен снимает передачу и возвращает
// ErrTransferExpired.
func (s *Service) ConfirmTransfer(ctx context.Context, blogID int64, token string, owner NewOwner) (*models.Site, error) {
	const op = "ownership.ConfirmTransfer"
	log := s.log.With(slog.String("op", op), slog.Int64("blog_id", blogID))

	site, err := s.site(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pending, err := s.Pending(ctx, blogID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if pending == nil {
		return nil, fmt.Errorf("%s: no pending transfer: %w", op, models.ErrTransferInvalid)
	}

	claims, err := jwt.NewJWTMaker(site.SecretKey, s.ttl).ParseToken(token)
	if errors.Is(err, jwt.ErrExpired) {
		if derr := s.store.Delete(ctx, store.Blog(blogID), store.KeyTransfer); derr != nil {
			log.Error("failed to drop expired transfer", sl.Err(derr))
		}
		return nil, fmt.Errorf("%s: %w", op, models.ErrTransferExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrTransferInvalid, err)
	}
	if claims.ID != pending.ID || claims.InstallID != site.ID || claims.FromUserID != site.UserID {
		return nil, fmt.Errorf("%s: %w", op, models.ErrTransferInvalid)
	}

	userCreds := remote.Credentials{ID: owner.UserID, PublicKey: owner.PublicKey, SecretKey: owner.SecretKey}
	res, err := s.client.Call(ctx, remote.ScopeUser, userCreds, http.MethodGet, "/", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user, err := models.ParseUser(res.Body())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.ID != owner.UserID || !strings.EqualFold(user.Email, claims.ToEmail) {
		return nil, fmt.Errorf("%s: owner mismatch: %w", op, models.ErrTransferInvalid)
	}
	if user.SecretKey == "" {
		user.SecretKey = owner.SecretKey
	}

	res, err = s.client.Call(ctx, remote.ScopeInstall, installCreds(site), http.MethodPut, "/", map[string]any{
		"user_id":     user.ID,
		"transfer_id": pending.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var confirmed struct {
		UserID int64 `json:"user_id"`
	}
	if res.IsEntity() {
		if err := res.Decode(&confirmed); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if confirmed.UserID != 0 && confirmed.UserID != user.ID {
		return nil, fmt.Errorf("%s: server kept owner %d: %w", op, confirmed.UserID, models.ErrTransferInvalid)
	}

	updated := site.Clone()
	updated.UserID = user.ID
	scope := s.store.AccountScope(blogID)

	batch := s.store.Batch().
		SetUser(scope, user).
		SetSite(blogID, updated).
		Delete(store.Blog(blogID), store.KeyTransfer)
	orphan, err := s.isOrphaned(ctx, blogID, site.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if orphan {
		batch.Delete(scope, store.KeyUser(site.UserID), store.KeyUserLicenses(site.UserID))
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.bus.Emit(ctx, events.OwnerChanged, blogID, map[string]any{
		"transfer_id":  pending.ID,
		"from_user_id": site.UserID,
		"to_user_id":   user.ID,
	})
	log.Info("ownership changed", slog.Int64("from_user_id", site.UserID), slog.Int64("to_user_id", user.ID))
	return updated, nil
}

// isOrphaned сообщает, что после передачи у пользователя не останется
// установок в области аккаунта блога. Сетевой пользователь не удаляется.
func (s *Service) isOrphaned(ctx context.Context, blogID, userID int64) (bool, error) {
	if !s.store.IsNetworkActive() {
		return true, nil
	}
	networkUser, err := s.store.Int64(ctx, store.Network(), store.KeyNetworkUserID)
	if err != nil {
		return false, err
	}
	if networkUser == userID {
		return false, nil
	}
	blogs, err := s.env.BlogIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range blogs {
		if id == blogID {
			continue
		}
		other, err := s.store.Site(ctx, id)
		if err != nil {
			return false, err
		}
		if other != nil && other.UserID == userID {
			return false, nil
		}
	}
	return true, nil
}
