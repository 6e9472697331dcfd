package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/magabrotheeeer/license-sync/internal/models"
)

// Update запись о доступной новой версии модуля.
type Update struct {
	Version    string `json:"version"`
	URL        string `json:"url,omitempty"`
	ReleasedAt string `json:"released_at,omitempty"`
}

// User возвращает пользователя id или nil.
func (s *Store) User(ctx context.Context, scope Scope, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, nil
	}
	var u models.User
	found, err := s.Get(ctx, scope, KeyUser(id), &u)
	if err != nil || !found || !u.IsValid() {
		return nil, err
	}
	return &u, nil
}

// SaveUser сохраняет пользователя.
func (s *Store) SaveUser(ctx context.Context, scope Scope, u *models.User) error {
	const op = "store.SaveUser"
	if !u.IsValid() {
		return fmt.Errorf("%s: %w", op, models.ErrInvalidEntity)
	}
	return s.Set(ctx, scope, KeyUser(u.ID), u)
}

// DeleteUser удаляет пользователя и его индекс лицензий.
func (s *Store) DeleteUser(ctx context.Context, scope Scope, id int64) error {
	return s.Delete(ctx, scope, KeyUser(id), KeyUserLicenses(id))
}

// Site возвращает установку блога. Неполная установка считается отсутствующей.
func (s *Store) Site(ctx context.Context, blogID int64) (*models.Site, error) {
	var site models.Site
	found, err := s.Get(ctx, Blog(blogID), KeySite, &site)
	if err != nil || !found {
		return nil, err
	}
	if !site.IsValid() {
		s.log.Debug("ignoring incomplete site", "blog_id", blogID)
		return nil, nil
	}
	return &site, nil
}

// SaveSite сохраняет установку блога.
func (s *Store) SaveSite(ctx context.Context, blogID int64, site *models.Site) error {
	const op = "store.SaveSite"
	if !site.IsValid() {
		return fmt.Errorf("%s: %w", op, models.ErrInvalidEntity)
	}
	return s.Set(ctx, Blog(blogID), KeySite, site)
}

// DeleteSite удаляет установку блога.
func (s *Store) DeleteSite(ctx context.Context, blogID int64) error {
	return s.Delete(ctx, Blog(blogID), KeySite)
}

// Licenses возвращает кэш лицензий модуля.
func (s *Store) Licenses(ctx context.Context, scope Scope) ([]*models.License, error) {
	var list []*models.License
	if _, err := s.Get(ctx, scope, KeyLicenses(s.moduleID), &list); err != nil {
		return nil, err
	}
	return slices.DeleteFunc(list, func(l *models.License) bool { return !l.IsValidEntity() }), nil
}

// SaveLicenses заменяет кэш лицензий модуля.
func (s *Store) SaveLicenses(ctx context.Context, scope Scope, list []*models.License) error {
	return s.Set(ctx, scope, KeyLicenses(s.moduleID), list)
}

// License ищет лицензию в кэше.
func (s *Store) License(ctx context.Context, scope Scope, id int64) (*models.License, error) {
	list, err := s.Licenses(ctx, scope)
	if err != nil {
		return nil, err
	}
	return models.FindLicense(list, id), nil
}

// Plans возвращает кэш планов.
func (s *Store) Plans(ctx context.Context, scope Scope) ([]*models.Plan, error) {
	var list []*models.Plan
	if _, err := s.Get(ctx, scope, KeyPlans, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SavePlans заменяет кэш планов.
func (s *Store) SavePlans(ctx context.Context, scope Scope, list []*models.Plan) error {
	return s.Set(ctx, scope, KeyPlans, list)
}

// Subscriptions возвращает накопленные подписки.
func (s *Store) Subscriptions(ctx context.Context, scope Scope) ([]*models.Subscription, error) {
	var list []*models.Subscription
	if _, err := s.Get(ctx, scope, KeySubscriptions, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveSubscriptions заменяет накопленные подписки.
func (s *Store) SaveSubscriptions(ctx context.Context, scope Scope, list []*models.Subscription) error {
	return s.Set(ctx, scope, KeySubscriptions, list)
}

// Updates возвращает известные обновления.
func (s *Store) Updates(ctx context.Context, scope Scope) ([]Update, error) {
	var list []Update
	if _, err := s.Get(ctx, scope, KeyUpdates, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveUpdates заменяет список обновлений.
func (s *Store) SaveUpdates(ctx context.Context, scope Scope, list []Update) error {
	return s.Set(ctx, scope, KeyUpdates, list)
}

// UserLicenseIDs возвращает индекс лицензий пользователя.
func (s *Store) UserLicenseIDs(ctx context.Context, scope Scope, userID int64) ([]int64, error) {
	var ids []int64
	if _, err := s.Get(ctx, scope, KeyUserLicenses(userID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveUserLicenseIDs заменяет индекс лицензий пользователя.
func (s *Store) SaveUserLicenseIDs(ctx context.Context, scope Scope, userID int64, ids []int64) error {
	return s.Set(ctx, scope, KeyUserLicenses(userID), ids)
}
