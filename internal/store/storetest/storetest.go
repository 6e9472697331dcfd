// Package storetest собирает Store поверх miniredis для тестов.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/storage/redis"
	"github.com/magabrotheeeer/license-sync/internal/store"
)

// Logger логгер, который ничего не пишет.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// New возвращает Store поверх нового miniredis и сам miniredis.
func New(t *testing.T, opts store.Options) (*store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	backend, err := redis.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	if opts.Slug == "" {
		opts.Slug = "my-module"
	}
	if opts.ModuleID == 0 {
		opts.ModuleID = 10
	}
	return store.New(backend, opts, Logger()), mr
}
