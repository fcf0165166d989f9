package memory

import (
	"context"
	"sync"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.TokenStore            = (*TokenStore)(nil)
	_ driven.OneTimeCodeStore      = (*OneTimeCodeStore)(nil)
	_ driven.ProviderSettingsStore = (*ProviderSettingsStore)(nil)
)

// TokenStore keeps one token per consent.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.ConsentToken

	// Saves counts successful writes; tests use it to observe persistence
	Saves int
}

// NewTokenStore creates an empty store
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]domain.ConsentToken)}
}

func (s *TokenStore) Get(ctx context.Context, consentID string) (*domain.ConsentToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[consentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		t.ExpiresAt = &exp
	}
	return &t, nil
}

func (s *TokenStore) Save(ctx context.Context, token *domain.ConsentToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *token
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		t.ExpiresAt = &exp
	}
	s.tokens[token.ConsentID] = t
	s.Saves++
	return nil
}

func (s *TokenStore) Delete(ctx context.Context, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, consentID)
	return nil
}

// OneTimeCodeStore keeps onboarding codes.
type OneTimeCodeStore struct {
	mu    sync.Mutex
	codes map[string]domain.OneTimeCode
}

// NewOneTimeCodeStore creates an empty store
func NewOneTimeCodeStore() *OneTimeCodeStore {
	return &OneTimeCodeStore{codes: make(map[string]domain.OneTimeCode)}
}

func (s *OneTimeCodeStore) Create(ctx context.Context, code *domain.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = *code
	return nil
}

func (s *OneTimeCodeStore) Consume(ctx context.Context, code string) (*domain.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	now := timeNow()
	if !ok || !c.Usable(now) {
		return nil, domain.ErrNotFound
	}
	c.UsedAt = &now
	s.codes[code] = c
	return &c, nil
}

func (s *OneTimeCodeStore) DeleteForConsent(ctx context.Context, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.codes {
		if c.ConsentID == consentID {
			delete(s.codes, k)
		}
	}
	return nil
}

// ProviderSettingsStore keeps provider settings by id.
type ProviderSettingsStore struct {
	mu       sync.RWMutex
	settings map[string]domain.ProviderSettings
}

// NewProviderSettingsStore creates an empty store
func NewProviderSettingsStore() *ProviderSettingsStore {
	return &ProviderSettingsStore{settings: make(map[string]domain.ProviderSettings)}
}

func (s *ProviderSettingsStore) Get(ctx context.Context, id string) (*domain.ProviderSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.settings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ps, nil
}

func (s *ProviderSettingsStore) Save(ctx context.Context, ps *domain.ProviderSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[ps.ID] = *ps
	return nil
}

func (s *ProviderSettingsStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, id)
	return nil
}
