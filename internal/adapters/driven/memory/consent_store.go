// Package memory provides in-process implementations of the driven ports.
// They back the memory storage mode and service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.ConsentStore = (*ConsentStore)(nil)

// ConsentStore keeps consents in a map guarded by one mutex.
type ConsentStore struct {
	mu       sync.RWMutex
	consents map[string]domain.Consent
}

// NewConsentStore creates an empty store
func NewConsentStore() *ConsentStore {
	return &ConsentStore{consents: make(map[string]domain.Consent)}
}

func (s *ConsentStore) Create(ctx context.Context, c *domain.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[c.ID]; ok {
		return domain.ErrConflict
	}
	s.consents[c.ID] = cloneConsent(*c)
	return nil
}

func (s *ConsentStore) Get(ctx context.Context, id string) (*domain.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneConsent(c)
	return &out, nil
}

func (s *ConsentStore) List(ctx context.Context, tenantID string) ([]*domain.Consent, error) {
	return s.filter(func(c domain.Consent) bool { return c.TenantID == tenantID }), nil
}

func (s *ConsentStore) ListByStatus(ctx context.Context, status domain.ConsentStatus) ([]*domain.Consent, error) {
	return s.filter(func(c domain.Consent) bool { return c.Status == status }), nil
}

func (s *ConsentStore) filter(keep func(domain.Consent) bool) []*domain.Consent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Consent, 0)
	for _, c := range s.consents {
		if keep(c) {
			cc := cloneConsent(c)
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *ConsentStore) Update(ctx context.Context, id, etag string, patch domain.ConsentPatch) (*domain.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if etag != "" && etag != c.Etag {
		return nil, &domain.EtagMismatchError{ConsentID: id, Expected: etag, Actual: c.Etag}
	}
	updated := cloneConsent(c)
	patch.Apply(&updated)
	s.consents[id] = updated
	out := cloneConsent(updated)
	return &out, nil
}

func (s *ConsentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.consents, id)
	return nil
}

func (s *ConsentStore) CountForTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.consents {
		if c.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func cloneConsent(c domain.Consent) domain.Consent {
	if c.Provider != nil {
		p := *c.Provider
		c.Provider = &p
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}
