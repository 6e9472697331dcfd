// Package redis реализует хранилище опций поверх Redis: JSON значения по
// ключам, атомарная запись нескольких ключей и рекомендательные блокировки.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/license-sync/internal/config"
)

const lockPrefix = "lock:"

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Storage хранилище опций в Redis.
type Storage struct {
	Db *goredis.Client
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Storage, error) {
	const op = "storage.redis.InitServer"
	db := goredis.NewClient(&goredis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{Db: db}, nil
}

// Get читает значение key в result. Возвращает false, если ключа нет.
func (s *Storage) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "storage.redis.Get"
	val, err := s.Db.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = json.Unmarshal(val, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Set записывает значение без срока жизни.
func (s *Storage) Set(ctx context.Context, key string, value any) error {
	const op = "storage.redis.Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.Db.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete удаляет ключи.
func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	const op = "storage.redis.Delete"
	if len(keys) == 0 {
		return nil
	}
	if err := s.Db.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Commit атомарно записывает set и удаляет del в одной транзакции MULTI/EXEC.
func (s *Storage) Commit(ctx context.Context, set map[string]any, del []string) error {
	const op = "storage.redis.Commit"
	encoded := make(map[string][]byte, len(set))
	for k, v := range set {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", op, k, err)
		}
		encoded[k] = data
	}
	_, err := s.Db.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for k, data := range encoded {
			pipe.Set(ctx, k, data, 0)
		}
		if len(del) > 0 {
			pipe.Del(ctx, del...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TryLock пытается взять блокировку name на ttl. Возвращает токен владельца.
func (s *Storage) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	const op = "storage.redis.TryLock"
	token := uuid.NewString()
	ok, err := s.Db.SetNX(ctx, lockPrefix+name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock снимает блокировку, только если она всё ещё принадлежит token.
func (s *Storage) Unlock(ctx context.Context, name, token string) error {
	const op = "storage.redis.Unlock"
	if err := unlockScript.Run(ctx, s.Db, []string{lockPrefix + name}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение.
func (s *Storage) Close() error {
	return s.Db.Close()
}
