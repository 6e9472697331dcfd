// Package multisite управляет подключением модуля в сети сайтов: позициями
// блогов, делегированием решения администраторам блогов, массовой
// активацией лицензии и однократной миграцией на сетевое хранение.
package multisite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Posture позиция подключения блога.
type Posture string

const (
	PostureOptedIn   Posture = "OPTED_IN"
	PostureAnonymous Posture = "ANONYMOUS"
	PostureDelegated Posture = "DELEGATED"
	PostureUndecided Posture = "UNDECIDED"
)

// NetworkStatus сводное состояние сети.
type NetworkStatus struct {
	OptedIn        bool              `json:"opted_in"`
	Skipped        bool              `json:"skipped"`
	UpgradePending bool              `json:"upgrade_pending"`
	UserID         int64             `json:"user_id,omitempty"`
	Postures       map[int64]Posture `json:"postures"`
}

// Manager менеджер подключения сети.
type Manager struct {
	store  *store.Store
	client remote.Client
	env    host.Environment
	bus    events.Emitter
	module models.Module
	log    *slog.Logger
	now    func() time.Time
}

// New создаёт менеджер сети.
func New(s *store.Store, client remote.Client, env host.Environment, bus events.Emitter, module models.Module, log *slog.Logger) *Manager {
	return &Manager{
		store:  s,
		client: client,
		env:    env,
		bus:    bus,
		module: module,
		log:    log,
		now:    time.Now,
	}
}

// Posture возвращает позицию подключения блога.
func (m *Manager) Posture(ctx context.Context, blogID int64) (Posture, error) {
	site, err := m.store.Site(ctx, blogID)
	if err != nil {
		return "", err
	}
	if site != nil {
		return PostureOptedIn, nil
	}
	anon, err := m.store.Bool(ctx, store.Blog(blogID), store.KeyAnonymous)
	if err != nil {
		return "", err
	}
	if anon {
		return PostureAnonymous, nil
	}
	delegated, err := m.store.Bool(ctx, store.Blog(blogID), store.KeyDelegated)
	if err != nil {
		return "", err
	}
	if delegated {
		return PostureDelegated, nil
	}
	return PostureUndecided, nil
}

// Status возвращает позиции всех блогов и сетевые флаги.
func (m *Manager) Status(ctx context.Context) (*NetworkStatus, error) {
	const op = "multisite.Status"
	blogIDs, err := m.env.BlogIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st := &NetworkStatus{Postures: make(map[int64]Posture, len(blogIDs))}
	for _, id := range blogIDs {
		p, err := m.Posture(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		st.Postures[id] = p
	}
	if st.Skipped, err = m.store.Bool(ctx, store.Network(), store.KeyAnonymous); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.UpgradePending, err = m.store.Bool(ctx, store.Network(), store.KeyNetworkUpgrade); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.UserID, err = m.store.Int64(ctx, store.Network(), store.KeyNetworkUserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st.OptedIn = st.UserID > 0 && !st.Skipped
	return st, nil
}

// Delegate передаёт решение о подключении администраторам блогов. Пустой
// список означает все блоги сети. Уже подключённые блоги не меняются.
func (m *Manager) Delegate(ctx context.Context, blogIDs []int64) ([]int64, error) {
	const op = "multisite.Delegate"
	if !m.store.IsNetworkActive() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotNetwork)
	}
	if len(blogIDs) == 0 {
		ids, err := m.env.BlogIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		blogIDs = ids
	}

	batch := m.store.Batch()
	var delegated []int64
	for _, id := range blogIDs {
		p, err := m.Posture(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if p == PostureOptedIn {
			continue
		}
		batch.Set(store.Blog(id), store.KeyDelegated, true).
			Delete(store.Blog(id), store.KeyAnonymous)
		delegated = append(delegated, id)
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, id := range delegated {
		m.bus.Emit(ctx, events.NetworkDelegated, id, nil)
	}
	m.log.Info("connection delegated", slog.Int("blogs", len(delegated)))
	return delegated, nil
}

// networkUser возвращает сетевого пользователя.
func (m *Manager) networkUser(ctx context.Context) (*models.User, error) {
	id, err := m.store.Int64(ctx, store.Network(), store.KeyNetworkUserID)
	if err != nil {
		return nil, err
	}
	user, err := m.store.User(ctx, store.Network(), id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.ErrNotRegistered
	}
	return user, nil
}
