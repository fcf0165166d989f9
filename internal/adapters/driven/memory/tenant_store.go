package memory

import (
	"context"
	"sync"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.TenantStore = (*TenantStore)(nil)
	_ driven.APIKeyStore = (*APIKeyStore)(nil)
)

// TenantStore keeps tenants by id.
type TenantStore struct {
	mu      sync.RWMutex
	tenants map[string]domain.Tenant
}

// NewTenantStore creates an empty store
func NewTenantStore() *TenantStore {
	return &TenantStore{tenants: make(map[string]domain.Tenant)}
}

func (s *TenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (s *TenantStore) GetByLegacyKeyHash(ctx context.Context, hash string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if hash != "" && t.LegacyKeyHash == hash {
			t := t
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *TenantStore) Save(ctx context.Context, t *domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = *t
	return nil
}

// APIKeyStore is the in-memory key registry.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]domain.APIKey
}

// NewAPIKeyStore creates an empty store
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]domain.APIKey)}
}

func (s *APIKeyStore) Get(ctx context.Context, id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &k, nil
}

func (s *APIKeyStore) Save(ctx context.Context, k *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = *k
	return nil
}

func (s *APIKeyStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := timeNow()
	k.RevokedAt = &now
	s.keys[id] = k
	return nil
}

func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := timeNow()
	k.LastUsed = &now
	s.keys[id] = k
	return nil
}
