// Package postgresql реализует хранилище опций на PostgreSQL: таблица
// options с JSONB значениями и таблица locks для рекомендательных блокировок.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.postgresql.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{DB: db}, nil
}

// CheckDatabaseReady проверяет, что миграции применены.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_name = 'options'
	)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check options table: %w", err)
	}
	if !exists {
		return errors.New("required table options missing")
	}
	return nil
}

// Get читает значение key в result. Возвращает false, если ключа нет.
func (s *Storage) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "storage.postgresql.Get"
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM options WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

const upsertOption = `
	INSERT INTO options (key, value, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

// Set записывает значение.
func (s *Storage) Set(ctx context.Context, key string, value any) error {
	const op = "storage.postgresql.Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.DB.ExecContext(ctx, upsertOption, key, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete удаляет ключи.
func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	const op = "storage.postgresql.Delete"
	for _, k := range keys {
		if _, err := s.DB.ExecContext(ctx, `DELETE FROM options WHERE key = $1`, k); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Commit атомарно записывает set и удаляет del в одной транзакции.
func (s *Storage) Commit(ctx context.Context, set map[string]any, del []string) (err error) {
	const op = "storage.postgresql.Commit"
	encoded := make(map[string][]byte, len(set))
	for k, v := range set {
		data, mErr := json.Marshal(v)
		if mErr != nil {
			return fmt.Errorf("%s: %s: %w", op, k, mErr)
		}
		encoded[k] = data
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for k, data := range encoded {
		if _, err = tx.ExecContext(ctx, upsertOption, k, data); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	for _, k := range del {
		if _, err = tx.ExecContext(ctx, `DELETE FROM options WHERE key = $1`, k); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TryLock берёт блокировку name, если её нет или она истекла.
func (s *Storage) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	const op = "storage.postgresql.TryLock"
	token := uuid.NewString()
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO locks (name, token, expires_at) VALUES ($1, $2, NOW() + ($3::bigint * INTERVAL '1 millisecond'))
		ON CONFLICT (name) DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at < NOW()`,
		name, token, ttl.Milliseconds())
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock снимает блокировку, только если она принадлежит token.
func (s *Storage) Unlock(ctx context.Context, name, token string) error {
	const op = "storage.postgresql.Unlock"
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM locks WHERE name = $1 AND token = $2`, name, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение.
func (s *Storage) Close() error {
	return s.DB.Close()
}
