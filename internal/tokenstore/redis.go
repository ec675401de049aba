package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the clustered Store backend (spec.md §4.5), letting state,
// codes and sessions survive across MXCP instances and restarts. Consuming
// a state or code uses Redis's GETDEL so the compare-and-delete is atomic
// even with multiple MXCP instances racing on the same key.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key RedisStore writes, letting one Redis
// deployment be shared across MXCP instances.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.keyPrefix = prefix }
}

// NewRedisStore wraps an existing redis.Cmdable (a *redis.Client or
// *redis.ClusterClient, or a miniredis-backed client in tests).
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	r := &RedisStore{client: client, keyPrefix: "mxcp:auth:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(parts ...string) string {
	k := r.keyPrefix
	for _, p := range parts {
		k += p + ":"
	}
	return k[:len(k)-1]
}

func ttlUntil(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt)
	if d <= 0 {
		d = time.Second
	}
	return d
}

func (r *RedisStore) PutState(ctx context.Context, rec StateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal state: %w", err)
	}
	return r.client.Set(ctx, r.key("state", rec.State), data, ttlUntil(rec.ExpiresAt)).Err()
}

func (r *RedisStore) ConsumeState(ctx context.Context, state string) (StateRecord, error) {
	var rec StateRecord
	data, err := r.client.GetDel(ctx, r.key("state", state)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("tokenstore: consume state: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("tokenstore: unmarshal state: %w", err)
	}
	if time.Now().After(rec.ExpiresAt) {
		return StateRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *RedisStore) PutAuthorizationCode(ctx context.Context, rec AuthorizationCode) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal code: %w", err)
	}
	return r.client.Set(ctx, r.key("code", rec.Code), data, ttlUntil(rec.ExpiresAt)).Err()
}

func (r *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error) {
	var rec AuthorizationCode
	data, err := r.client.GetDel(ctx, r.key("code", code)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("tokenstore: consume code: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("tokenstore: unmarshal code: %w", err)
	}
	return rec, nil
}

func (r *RedisStore) PutSession(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal session: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key("session", sess.ID), data, ttlUntil(sess.ExpiresAt))
	pipe.SAdd(ctx, r.key("sessions"), sess.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	data, err := r.client.Get(ctx, r.key("session", id)).Result()
	if errors.Is(err, redis.Nil) {
		return sess, ErrNotFound
	}
	if err != nil {
		return sess, fmt.Errorf("tokenstore: get session: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return sess, fmt.Errorf("tokenstore: unmarshal session: %w", err)
	}
	return sess, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key("session", id))
	pipe.SRem(ctx, r.key("sessions"), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) ListSessions(ctx context.Context) ([]Session, error) {
	ids, err := r.client.SMembers(ctx, r.key("sessions")).Result()
	if err != nil {
		return nil, fmt.Errorf("tokenstore: list session ids: %w", err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = r.client.SRem(ctx, r.key("sessions"), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (r *RedisStore) TouchSession(ctx context.Context, id string, lastUsedAt time.Time) error {
	sess, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.LastUsedAt = lastUsedAt
	return r.PutSession(ctx, sess)
}

func (r *RedisStore) PutAccessToken(ctx context.Context, rec AccessTokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal access token: %w", err)
	}
	return r.client.Set(ctx, r.key("token", rec.TokenHash), data, ttlUntil(rec.ExpiresAt)).Err()
}

func (r *RedisStore) GetAccessToken(ctx context.Context, tokenHash string) (AccessTokenRecord, error) {
	var rec AccessTokenRecord
	data, err := r.client.Get(ctx, r.key("token", tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("tokenstore: get access token: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("tokenstore: unmarshal access token: %w", err)
	}
	return rec, nil
}

func (r *RedisStore) DeleteAccessToken(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, r.key("token", tokenHash)).Err()
}

func (r *RedisStore) PutRefreshToken(ctx context.Context, rec RefreshTokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal refresh token: %w", err)
	}
	return r.client.Set(ctx, r.key("refresh", rec.TokenHash), data, ttlUntil(rec.ExpiresAt)).Err()
}

func (r *RedisStore) ConsumeRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	data, err := r.client.GetDel(ctx, r.key("refresh", tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("tokenstore: consume refresh token: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("tokenstore: unmarshal refresh token: %w", err)
	}
	return rec, nil
}

// Cleanup is a near no-op for Redis: TTLs already expire state, codes,
// sessions and access tokens on their own. It only prunes the sessions
// index of ids whose key already expired.
func (r *RedisStore) Cleanup(ctx context.Context, _ time.Time) (int, error) {
	ids, err := r.client.SMembers(ctx, r.key("sessions")).Result()
	if err != nil {
		return 0, fmt.Errorf("tokenstore: cleanup: listing sessions: %w", err)
	}
	removed := 0
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, r.key("session", id)).Result()
		if err != nil {
			return removed, err
		}
		if exists == 0 {
			if err := r.client.SRem(ctx, r.key("sessions"), id).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*RedisStore)(nil)
