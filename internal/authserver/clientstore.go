package authserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mxcp-io/mxcp-core/internal/oauthclient"
)

// ClientStore persists RegisteredClient records created via Dynamic Client
// Registration (spec.md §4.6 / RFC 7591), separately from tokenstore.Store
// since clients are long-lived configuration, not per-handshake state.
type ClientStore interface {
	Put(ctx context.Context, client *oauthclient.RegisteredClient) error
	Get(ctx context.Context, id string) (*oauthclient.RegisteredClient, bool, error)
}

// MemoryClientStore is the single-instance ClientStore backend.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*oauthclient.RegisteredClient
}

// NewMemoryClientStore returns an empty MemoryClientStore, pre-seeded with
// any statically configured clients.
func NewMemoryClientStore(staticClients ...*oauthclient.RegisteredClient) *MemoryClientStore {
	s := &MemoryClientStore{clients: map[string]*oauthclient.RegisteredClient{}}
	for _, c := range staticClients {
		s.clients[c.GetID()] = c
	}
	return s
}

func (s *MemoryClientStore) Put(_ context.Context, client *oauthclient.RegisteredClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.GetID()] = client
	return nil
}

func (s *MemoryClientStore) Get(_ context.Context, id string) (*oauthclient.RegisteredClient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok, nil
}

// redisClientRecord is the JSON-serializable projection of a
// RegisteredClient, since fosite.DefaultClient itself round-trips through
// encoding/json cleanly via its exported fields.
type redisClientRecord struct {
	ID              string   `json:"id"`
	Secret          []byte   `json:"secret"`
	RedirectURIs    []string `json:"redirect_uris"`
	GrantTypes      []string `json:"grant_types"`
	ResponseTypes   []string `json:"response_types"`
	Scopes          []string `json:"scopes"`
	Public          bool     `json:"public"`
	Name            string   `json:"name"`
	SoftwareID      string   `json:"software_id"`
	SoftwareVersion string   `json:"software_version"`
}

// RedisClientStore is the clustered ClientStore backend.
type RedisClientStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisClientStore wraps an existing redis.Cmdable.
func NewRedisClientStore(client redis.Cmdable) *RedisClientStore {
	return &RedisClientStore{client: client, keyPrefix: "mxcp:auth:client:"}
}

func (s *RedisClientStore) Put(ctx context.Context, client *oauthclient.RegisteredClient) error {
	rec := redisClientRecord{
		ID: client.GetID(), Secret: client.GetHashedSecret(),
		RedirectURIs: client.GetRedirectURIs(), GrantTypes: client.GetGrantTypes(),
		ResponseTypes: client.GetResponseTypes(), Scopes: client.GetScopes(),
		Public: client.IsPublic(), Name: client.Name,
		SoftwareID: client.SoftwareID, SoftwareVersion: client.SoftwareVersion,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("authserver: marshal client: %w", err)
	}
	return s.client.Set(ctx, s.keyPrefix+client.GetID(), data, 0).Err()
}

func (s *RedisClientStore) Get(ctx context.Context, id string) (*oauthclient.RegisteredClient, bool, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("authserver: get client: %w", err)
	}
	var rec redisClientRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, false, fmt.Errorf("authserver: unmarshal client: %w", err)
	}
	c := oauthclient.New(rec.ID, rec.Secret, rec.RedirectURIs, rec.Scopes, rec.Public)
	c.GrantTypes = rec.GrantTypes
	c.ResponseTypes = rec.ResponseTypes
	c.Name = rec.Name
	c.SoftwareID = rec.SoftwareID
	c.SoftwareVersion = rec.SoftwareVersion
	return c, true, nil
}
