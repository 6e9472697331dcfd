package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-sync/internal/config"
)

type testStruct struct {
	Name string
	Age  int
}

func setupTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSetAndGet(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()

	expected := testStruct{Name: "Alice", Age: 30}
	require.NoError(t, s.Set(ctx, "user:1", expected))

	var actual testStruct
	found, err := s.Get(ctx, "user:1", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected, actual)
}

func TestGetNotFound(t *testing.T) {
	s, _ := setupTestStorage(t)

	var out testStruct
	found, err := s.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	s, mr := setupTestStorage(t)
	require.NoError(t, mr.Set("bad", "not-json"))

	var out testStruct
	found, err := s.Get(context.Background(), "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	s, mr := setupTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", 1))
	require.NoError(t, s.Set(ctx, "b", 2))

	require.NoError(t, s.Delete(ctx, "a", "b"))
	require.NoError(t, s.Delete(ctx))
	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestCommit(t *testing.T) {
	s, mr := setupTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "stale", "x"))

	err := s.Commit(ctx, map[string]any{
		"user": testStruct{Name: "Bob"},
		"site": testStruct{Name: "Site", Age: 1},
	}, []string{"stale"})
	require.NoError(t, err)

	var user testStruct
	found, err := s.Get(ctx, "user", &user)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Bob", user.Name)
	assert.True(t, mr.Exists("site"))
	assert.False(t, mr.Exists("stale"))
}

func TestCommitEncodeErrorWritesNothing(t *testing.T) {
	s, mr := setupTestStorage(t)

	err := s.Commit(context.Background(), map[string]any{
		"good": 1,
		"bad":  make(chan int),
	}, nil)
	assert.Error(t, err)
	assert.False(t, mr.Exists("good"))
}

func TestLock(t *testing.T) {
	s, mr := setupTestStorage(t)
	ctx := context.Background()

	token, ok, err := s.TryLock(ctx, "gc", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLock(ctx, "gc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Unlock(ctx, "gc", "someone-else"))
	assert.True(t, mr.Exists(lockPrefix+"gc"))

	require.NoError(t, s.Unlock(ctx, "gc", token))
	assert.False(t, mr.Exists(lockPrefix+"gc"))
}

func TestLockExpires(t *testing.T) {
	s, mr := setupTestStorage(t)
	ctx := context.Background()

	_, ok, err := s.TryLock(ctx, "gc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = s.TryLock(ctx, "gc", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitServerInvalidAddr(t *testing.T) {
	s, err := InitServer(context.Background(), config.RedisConnection{AddressRedis: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Nil(t, s)
	assert.Error(t, err)
}
