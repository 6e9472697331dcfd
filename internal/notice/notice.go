// Package notice хранит очередь уведомлений администратора по блогам.
// Отрисовка уведомлений выполняется хостом.
package notice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Типы уведомлений.
const (
	TypeConnectivity      = "connectivity"
	TypeSoftExpiry        = "soft_expiry"
	TypeClone             = "clone"
	TypePendingActivation = "pending_activation"
	TypeSyncFailed        = "sync_failed"
	TypePlanChange        = "plan_change"
)

// Notice одно уведомление. Повторное добавление с тем же ID заменяет запись.
type Notice struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue очередь уведомлений.
type Queue struct {
	store *store.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewQueue создаёт очередь уведомлений.
func NewQueue(s *store.Store, log *slog.Logger) *Queue {
	return &Queue{store: s, log: log, now: time.Now}
}

// Add добавляет или заменяет уведомление id.
func (q *Queue) Add(ctx context.Context, blogID int64, id, typ, message string) error {
	const op = "notice.Add"
	list, err := q.List(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n := Notice{ID: id, Type: typ, Message: message, CreatedAt: q.now()}
	if i := slices.IndexFunc(list, func(x Notice) bool { return x.ID == id }); i >= 0 {
		list[i] = n
	} else {
		list = append(list, n)
	}
	if err := q.store.Set(ctx, store.Blog(blogID), store.KeyNotices, list); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	q.log.Debug("notice added", slog.Int64("blog_id", blogID), slog.String("id", id), slog.String("type", typ))
	return nil
}

// List возвращает уведомления блога.
func (q *Queue) List(ctx context.Context, blogID int64) ([]Notice, error) {
	var list []Notice
	if _, err := q.store.Get(ctx, store.Blog(blogID), store.KeyNotices, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Dismiss удаляет уведомление id.
func (q *Queue) Dismiss(ctx context.Context, blogID int64, id string) error {
	const op = "notice.Dismiss"
	list, err := q.List(ctx, blogID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	filtered := slices.DeleteFunc(list, func(x Notice) bool { return x.ID == id })
	if err := q.store.Set(ctx, store.Blog(blogID), store.KeyNotices, filtered); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Has сообщает, есть ли уведомление id.
func (q *Queue) Has(ctx context.Context, blogID int64, id string) (bool, error) {
	list, err := q.List(ctx, blogID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(list, func(x Notice) bool { return x.ID == id }), nil
}
