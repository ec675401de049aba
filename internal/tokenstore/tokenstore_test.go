package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStoreForTest(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("state is single-use", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		ctx := context.Background()
		rec := StateRecord{State: "s1", ClientID: "c1", ExpiresAt: time.Now().Add(time.Minute)}
		require.NoError(t, store.PutState(ctx, rec))

		got, err := store.ConsumeState(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ClientID)

		_, err = store.ConsumeState(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired state is rejected", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		ctx := context.Background()
		rec := StateRecord{State: "s2", ExpiresAt: time.Now().Add(-time.Second)}
		require.NoError(t, store.PutState(ctx, rec))

		_, err := store.ConsumeState(ctx, "s2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("authorization code is single-use", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		ctx := context.Background()
		rec := AuthorizationCode{Code: "code1", SessionID: "sess1", ExpiresAt: time.Now().Add(time.Minute)}
		require.NoError(t, store.PutAuthorizationCode(ctx, rec))

		got, err := store.ConsumeAuthorizationCode(ctx, "code1")
		require.NoError(t, err)
		assert.Equal(t, "sess1", got.SessionID)

		_, err = store.ConsumeAuthorizationCode(ctx, "code1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("session CRUD and listing", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		ctx := context.Background()
		sess := Session{ID: "sess2", Subject: "alice", ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, store.PutSession(ctx, sess))

		got, err := store.GetSession(ctx, "sess2")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Subject)

		all, err := store.ListSessions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		now := time.Now()
		require.NoError(t, store.TouchSession(ctx, "sess2", now))
		got, err = store.GetSession(ctx, "sess2")
		require.NoError(t, err)
		assert.WithinDuration(t, now, got.LastUsedAt, time.Second)

		require.NoError(t, store.DeleteSession(ctx, "sess2"))
		_, err = store.GetSession(ctx, "sess2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("access token round trip", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		ctx := context.Background()
		rec := AccessTokenRecord{TokenHash: "hash1", SessionID: "sess3", ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, store.PutAccessToken(ctx, rec))

		got, err := store.GetAccessToken(ctx, "hash1")
		require.NoError(t, err)
		assert.Equal(t, "sess3", got.SessionID)

		require.NoError(t, store.DeleteAccessToken(ctx, "hash1"))
		_, err = store.GetAccessToken(ctx, "hash1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreTests(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreCleanup(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutState(ctx, StateRecord{State: "expired", ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, store.PutState(ctx, StateRecord{State: "fresh", ExpiresAt: time.Now().Add(time.Minute)}))

	removed, err := store.Cleanup(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	runStoreTests(t, func(t *testing.T) Store { return newRedisStoreForTest(t) })
}
