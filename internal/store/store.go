// Package store типизированное хранилище сущностей поверх мешка опций.
// Установки (сайты) хранятся отдельно для каждого блога, а пользователи,
// лицензии, планы, подписки и обновления хранятся в области аккаунта:
// сетевой, если модуль активирован на всю сеть, иначе в области блога.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// Backend хранилище JSON значений по ключам.
type Backend interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
	Commit(ctx context.Context, set map[string]any, del []string) error
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, name, token string) error
}

// Scope область хранения: конкретный блог или вся сеть.
type Scope struct {
	network bool
	blogID  int64
}

// Blog возвращает область блога id.
func Blog(id int64) Scope {
	return Scope{blogID: id}
}

// Network возвращает сетевую область.
func Network() Scope {
	return Scope{network: true}
}

// IsNetwork сообщает, что область сетевая.
func (s Scope) IsNetwork() bool {
	return s.network
}

// BlogID возвращает идентификатор блога, 0 для сетевой области.
func (s Scope) BlogID() int64 {
	return s.blogID
}

func (s Scope) String() string {
	if s.network {
		return "network"
	}
	return "blog:" + strconv.FormatInt(s.blogID, 10)
}

// Store типизированные аксессоры сущностей одного модуля.
type Store struct {
	backend       Backend
	prefix        string
	slug          string
	moduleID      int64
	networkActive bool
	log           *slog.Logger
}

// Options параметры Store.
type Options struct {
	Prefix        string
	Slug          string
	ModuleID      int64
	NetworkActive bool
}

// New создаёт Store над backend.
func New(backend Backend, opts Options, log *slog.Logger) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "fs"
	}
	return &Store{
		backend:       backend,
		prefix:        prefix,
		slug:          opts.Slug,
		moduleID:      opts.ModuleID,
		networkActive: opts.NetworkActive,
		log:           log,
	}
}

// ModuleID идентификатор модуля.
func (s *Store) ModuleID() int64 {
	return s.moduleID
}

// Slug слаг модуля.
func (s *Store) Slug() string {
	return s.slug
}

// IsNetworkActive сообщает, активирован ли модуль на всю сеть.
func (s *Store) IsNetworkActive() bool {
	return s.networkActive
}

// AccountScope возвращает область аккаунта для блога.
func (s *Store) AccountScope(blogID int64) Scope {
	if s.networkActive {
		return Network()
	}
	return Blog(blogID)
}

// Key строит ключ опции name в области scope.
func (s *Store) Key(scope Scope, name string) string {
	if scope.network {
		return fmt.Sprintf("%s:%s:network:%s", s.prefix, s.slug, name)
	}
	return fmt.Sprintf("%s:%s:blog:%d:%s", s.prefix, s.slug, scope.blogID, name)
}

// Get читает опцию name. Возвращает false, если опции нет.
func (s *Store) Get(ctx context.Context, scope Scope, name string, dest any) (bool, error) {
	const op = "store.Get"
	found, err := s.backend.Get(ctx, s.Key(scope, name), dest)
	if err != nil {
		return false, fmt.Errorf("%s: %s: %w", op, name, err)
	}
	return found, nil
}

// Set записывает опцию name.
func (s *Store) Set(ctx context.Context, scope Scope, name string, value any) error {
	const op = "store.Set"
	if err := s.backend.Set(ctx, s.Key(scope, name), value); err != nil {
		return fmt.Errorf("%s: %s: %w", op, name, err)
	}
	return nil
}

// Delete удаляет опции.
func (s *Store) Delete(ctx context.Context, scope Scope, names ...string) error {
	const op = "store.Delete"
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, s.Key(scope, n))
	}
	if err := s.backend.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Bool читает флаг. Отсутствующий флаг равен false.
func (s *Store) Bool(ctx context.Context, scope Scope, name string) (bool, error) {
	var v bool
	if _, err := s.Get(ctx, scope, name, &v); err != nil {
		return false, err
	}
	return v, nil
}

// Int64 читает числовую опцию. Отсутствующая опция равна 0.
func (s *Store) Int64(ctx context.Context, scope Scope, name string) (int64, error) {
	var v int64
	if _, err := s.Get(ctx, scope, name, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Lock берёт рекомендательную блокировку name на ttl. Если блокировка занята,
// возвращает ok=false. unlock безопасно вызывать несколько раз.
func (s *Store) Lock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error) {
	const op = "store.Lock"
	lockName := s.prefix + ":" + s.slug + ":" + name
	token, ok, err := s.backend.TryLock(ctx, lockName, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if err := s.backend.Unlock(context.WithoutCancel(ctx), lockName, token); err != nil {
			s.log.Warn("failed to release lock", slog.String("lock", name), sl.Err(err))
		}
	}, true, nil
}
