package store

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/license-sync/internal/models"
)

// Batch набор изменений, который записывается атомарно.
type Batch struct {
	s   *Store
	set map[string]any
	del []string
	err error
}

// Batch начинает новый набор изменений.
func (s *Store) Batch() *Batch {
	return &Batch{s: s, set: make(map[string]any)}
}

// Set добавляет запись опции.
func (b *Batch) Set(scope Scope, name string, value any) *Batch {
	b.set[b.s.Key(scope, name)] = value
	return b
}

// Delete добавляет удаление опций.
func (b *Batch) Delete(scope Scope, names ...string) *Batch {
	for _, n := range names {
		key := b.s.Key(scope, n)
		delete(b.set, key)
		b.del = append(b.del, key)
	}
	return b
}

// SetUser добавляет запись пользователя.
func (b *Batch) SetUser(scope Scope, u *models.User) *Batch {
	if !u.IsValid() {
		b.err = models.ErrInvalidEntity
		return b
	}
	return b.Set(scope, KeyUser(u.ID), u)
}

// SetSite добавляет запись установки блога.
func (b *Batch) SetSite(blogID int64, site *models.Site) *Batch {
	if !site.IsValid() {
		b.err = models.ErrInvalidEntity
		return b
	}
	return b.Set(Blog(blogID), KeySite, site)
}

// SetLicenses добавляет замену кэша лицензий.
func (b *Batch) SetLicenses(scope Scope, list []*models.License) *Batch {
	return b.Set(scope, KeyLicenses(b.s.moduleID), list)
}

// SetPlans добавляет замену кэша планов.
func (b *Batch) SetPlans(scope Scope, list []*models.Plan) *Batch {
	return b.Set(scope, KeyPlans, list)
}

// Commit записывает изменения одной транзакцией. При ошибке ничего не записано.
func (b *Batch) Commit(ctx context.Context) error {
	const op = "store.Batch.Commit"
	if b.err != nil {
		return fmt.Errorf("%s: %w", op, b.err)
	}
	if len(b.set) == 0 && len(b.del) == 0 {
		return nil
	}
	if err := b.s.backend.Commit(ctx, b.set, b.del); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
