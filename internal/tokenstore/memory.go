package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-instance Store backend (spec.md §4.5: "suitable
// for a single-instance deployment; a clustered deployment uses the Redis
// backend so state survives across instances and restarts").
type MemoryStore struct {
	mu sync.Mutex

	states        map[string]StateRecord
	codes         map[string]AuthorizationCode
	sessions      map[string]Session
	accessTokens  map[string]AccessTokenRecord
	refreshTokens map[string]RefreshTokenRecord
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:        map[string]StateRecord{},
		codes:         map[string]AuthorizationCode{},
		sessions:      map[string]Session{},
		accessTokens:  map[string]AccessTokenRecord{},
		refreshTokens: map[string]RefreshTokenRecord{},
	}
}

func (m *MemoryStore) PutState(_ context.Context, rec StateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[rec.State] = rec
	return nil
}

func (m *MemoryStore) ConsumeState(_ context.Context, state string) (StateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.states[state]
	if !ok {
		return StateRecord{}, ErrNotFound
	}
	delete(m.states, state)
	if time.Now().After(rec.ExpiresAt) {
		return StateRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) PutAuthorizationCode(_ context.Context, rec AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[rec.Code] = rec
	return nil
}

func (m *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.codes[code]
	if !ok {
		return AuthorizationCode{}, ErrNotFound
	}
	delete(m.codes, code)
	if time.Now().After(rec.ExpiresAt) {
		return AuthorizationCode{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) PutSession(_ context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) TouchSession(_ context.Context, id string, lastUsedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastUsedAt = lastUsedAt
	m.sessions[id] = sess
	return nil
}

func (m *MemoryStore) PutAccessToken(_ context.Context, rec AccessTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTokens[rec.TokenHash] = rec
	return nil
}

func (m *MemoryStore) GetAccessToken(_ context.Context, tokenHash string) (AccessTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.accessTokens[tokenHash]
	if !ok {
		return AccessTokenRecord{}, ErrNotFound
	}
	if time.Now().After(rec.ExpiresAt) {
		return AccessTokenRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) DeleteAccessToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accessTokens, tokenHash)
	return nil
}

func (m *MemoryStore) PutRefreshToken(_ context.Context, rec RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[rec.TokenHash] = rec
	return nil
}

func (m *MemoryStore) ConsumeRefreshToken(_ context.Context, tokenHash string) (RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.refreshTokens[tokenHash]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	delete(m.refreshTokens, tokenHash)
	if time.Now().After(rec.ExpiresAt) {
		return RefreshTokenRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, v := range m.states {
		if now.After(v.ExpiresAt) {
			delete(m.states, k)
			removed++
		}
	}
	for k, v := range m.codes {
		if now.After(v.ExpiresAt) {
			delete(m.codes, k)
			removed++
		}
	}
	for k, v := range m.accessTokens {
		if now.After(v.ExpiresAt) {
			delete(m.accessTokens, k)
			removed++
		}
	}
	for k, v := range m.refreshTokens {
		if now.After(v.ExpiresAt) {
			delete(m.refreshTokens, k)
			removed++
		}
	}
	for k, v := range m.sessions {
		if now.After(v.ExpiresAt) {
			delete(m.sessions, k)
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
