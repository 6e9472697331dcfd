package multisite

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

const (
	lockNetworkMigration = "network_migration"
	migrationLockTTL     = 5 * time.Minute
)

// Outcome итог классификации истории подключений при миграции.
type Outcome string

const (
	OutcomeEmpty          Outcome = "empty"
	OutcomeSkipped        Outcome = "network_skipped"
	OutcomeUpgradePending Outcome = "network_upgrade_pending"
	OutcomeOptedIn        Outcome = "network_opted_in"
	OutcomeMixed          Outcome = "mixed"
)

// MigrationResult результат миграции на сетевое хранение.
type MigrationResult struct {
	Outcome    Outcome `json:"outcome"`
	MainUserID int64   `json:"main_user_id,omitempty"`
	MainBlogID int64   `json:"main_blog_id,omitempty"`
	Delegated  []int64 `json:"delegated,omitempty"`
	Undecided  []int64 `json:"undecided,omitempty"`
}

type history struct {
	optedIn   map[int64]int64 // блог -> пользователь
	skipped   []int64
	undecided []int64
}

// readHistory читает решения блогов. Учитываются только собственные записи
// блогов, поэтому повторный запуск видит те же данные.
func (m *Manager) readHistory(ctx context.Context, blogIDs []int64) (history, error) {
	h := history{optedIn: make(map[int64]int64)}
	for _, id := range blogIDs {
		site, err := m.store.Site(ctx, id)
		if err != nil {
			return h, err
		}
		if site != nil {
			h.optedIn[id] = site.UserID
			continue
		}
		anon, err := m.store.Bool(ctx, store.Blog(id), store.KeyAnonymous)
		if err != nil {
			return h, err
		}
		if anon {
			h.skipped = append(h.skipped, id)
		} else {
			h.undecided = append(h.undecided, id)
		}
	}
	return h, nil
}

// classifyHistory классифицирует историю подключений. При нескольких
// администраторах главным становится тот, у кого больше подключённых блогов,
// при равенстве пользователь с меньшим id.
func classifyHistory(h history, blogIDs []int64) MigrationResult {
	total := len(blogIDs)
	switch {
	case total == 0:
		return MigrationResult{Outcome: OutcomeEmpty}
	case len(h.skipped) == total:
		return MigrationResult{Outcome: OutcomeSkipped}
	case len(h.undecided) == total:
		return MigrationResult{Outcome: OutcomeUpgradePending, Undecided: h.undecided}
	}

	counts := make(map[int64]int)
	for _, uid := range h.optedIn {
		counts[uid]++
	}
	var mainUser int64
	for uid, n := range counts {
		if mainUser == 0 || n > counts[mainUser] || (n == counts[mainUser] && uid < mainUser) {
			mainUser = uid
		}
	}

	res := MigrationResult{MainUserID: mainUser}
	for _, id := range blogIDs {
		if uid, ok := h.optedIn[id]; ok && uid == mainUser && res.MainBlogID == 0 {
			res.MainBlogID = id
		}
	}
	if len(h.optedIn) == total && len(counts) == 1 {
		res.Outcome = OutcomeOptedIn
		return res
	}

	res.Outcome = OutcomeMixed
	for _, id := range blogIDs {
		if uid, ok := h.optedIn[id]; ok && uid != mainUser {
			res.Delegated = append(res.Delegated, id)
		}
	}
	res.Delegated = append(res.Delegated, h.skipped...)
	slices.Sort(res.Delegated)
	res.Undecided = h.undecided
	return res
}

// Migrate однократно переводит сеть на сетевое хранение: классифицирует
// решения блогов, выставляет сетевые флаги и переносит данные аккаунта
// главного администратора в сетевую область. Повторный запуск даёт тот же
// результат и не меняет данные.
func (m *Manager) Migrate(ctx context.Context) (*MigrationResult, error) {
	const op = "multisite.Migrate"
	unlock, ok, err := m.store.Lock(ctx, lockNetworkMigration, migrationLockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrLocked)
	}
	defer unlock()

	blogIDs, err := m.env.BlogIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	h, err := m.readHistory(ctx, blogIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := classifyHistory(h, blogIDs)

	batch := m.store.Batch()
	switch res.Outcome {
	case OutcomeSkipped:
		batch.Set(store.Network(), store.KeyAnonymous, true)
	case OutcomeUpgradePending:
		batch.Set(store.Network(), store.KeyNetworkUpgrade, true)
	case OutcomeOptedIn, OutcomeMixed:
		if res.MainUserID > 0 {
			batch.Set(store.Network(), store.KeyNetworkUserID, res.MainUserID).
				Set(store.Network(), store.KeyNetworkInstallBlog, res.MainBlogID)
		}
		for _, id := range res.Delegated {
			batch.Set(store.Blog(id), store.KeyDelegated, true)
		}
		if len(res.Undecided) > 0 {
			batch.Set(store.Network(), store.KeyNetworkUpgrade, true)
		}
	}

	// пользователи делегированных блогов нужны в сетевой области
	var users []int64
	for _, id := range blogIDs {
		if uid, ok := h.optedIn[id]; ok && uid != res.MainUserID && !slices.Contains(users, uid) {
			users = append(users, uid)
			if u, err := m.store.User(ctx, store.Blog(id), uid); err == nil && u != nil {
				var existing struct{}
				found, err := m.store.Get(ctx, store.Network(), store.KeyUser(uid), &existing)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				if !found {
					batch.SetUser(store.Network(), u)
				}
			}
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	source := res.MainBlogID
	if source == 0 {
		source = m.env.MainBlogID()
	}
	var mainUsers []int64
	if res.MainUserID > 0 {
		mainUsers = []int64{res.MainUserID}
	}
	if err := m.store.MigrateToNetworkScope(ctx, source, mainUsers); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.bus.Emit(ctx, events.NetworkMigrated, 0, map[string]any{
		"outcome":      string(res.Outcome),
		"main_user_id": res.MainUserID,
		"delegated":    res.Delegated,
	})
	m.log.Info("network migrated", slog.String("outcome", string(res.Outcome)), slog.Int64("main_user_id", res.MainUserID))
	return &res, nil
}
