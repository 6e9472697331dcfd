package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// MigrateToNetworkScope копирует данные аккаунта главного блога в сетевую
// область. Уже существующие сетевые значения не перезаписываются, повторный
// вызов ничего не меняет.
func (s *Store) MigrateToNetworkScope(ctx context.Context, mainBlogID int64, userIDs []int64) error {
	const op = "store.MigrateToNetworkScope"
	done, err := s.Bool(ctx, Network(), KeyNetworkMigrated)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if done {
		return nil
	}

	names := accountKeys(s.moduleID)
	for _, id := range userIDs {
		names = append(names, KeyUser(id), KeyUserLicenses(id))
	}

	batch := s.Batch()
	for _, name := range names {
		var existing json.RawMessage
		found, err := s.Get(ctx, Network(), name, &existing)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if found {
			continue
		}
		var value json.RawMessage
		found, err = s.Get(ctx, Blog(mainBlogID), name, &value)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if found {
			batch.Set(Network(), name, value)
		}
	}
	batch.Set(Network(), KeyNetworkMigrated, true)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("migrated account data to network scope", slog.Int64("main_blog_id", mainBlogID))
	return nil
}
