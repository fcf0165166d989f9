package mocks

import (
	"context"
	"sync"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

// MockOAuthAdapter implements every capability; wrap it in ExchangeOnly or
// ExchangeRefresh to withhold the ones a variant does not offer.
type MockOAuthAdapter struct {
	mu       sync.Mutex
	provider domain.ProviderType

	ExchangeFn func(in domain.ExchangeInput) (*domain.TokenResponse, error)
	RefreshFn  func(token *domain.ConsentToken) (*domain.TokenResponse, error)
	RevokeFn   func(token string) error

	// RefreshCtxFn takes precedence over RefreshFn and sees the call context
	RefreshCtxFn func(ctx context.Context, token *domain.ConsentToken) (*domain.TokenResponse, error)

	AuthURLCalls  int
	ExchangeCalls int
	RefreshCalls  int
	RevokeCalls   int
	RevokedTokens []string
}

// NewMockOAuthAdapter creates an adapter for provider with default success responses
func NewMockOAuthAdapter(provider domain.ProviderType) *MockOAuthAdapter {
	return &MockOAuthAdapter{provider: provider}
}

func (m *MockOAuthAdapter) Provider() domain.ProviderType { return m.provider }
func (m *MockOAuthAdapter) Variant() domain.GrantVariant  { return m.provider.Variant() }

func (m *MockOAuthAdapter) AuthorizationURL(state string) (string, error) {
	m.mu.Lock()
	m.AuthURLCalls++
	m.mu.Unlock()
	return "https://auth.example.test/authorize?state=" + state, nil
}

func (m *MockOAuthAdapter) Exchange(ctx context.Context, in domain.ExchangeInput, cfg driven.ProviderConfig) (*domain.TokenResponse, error) {
	m.mu.Lock()
	m.ExchangeCalls++
	fn := m.ExchangeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return &domain.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (m *MockOAuthAdapter) Refresh(ctx context.Context, token *domain.ConsentToken, cfg driven.ProviderConfig) (*domain.TokenResponse, error) {
	m.mu.Lock()
	m.RefreshCalls++
	fn, ctxFn := m.RefreshFn, m.RefreshCtxFn
	m.mu.Unlock()
	if ctxFn != nil {
		return ctxFn(ctx, token)
	}
	if fn != nil {
		return fn(token)
	}
	return &domain.TokenResponse{AccessToken: "access-refreshed", RefreshToken: "refresh-rotated", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (m *MockOAuthAdapter) Revoke(ctx context.Context, token string, cfg driven.ProviderConfig) error {
	m.mu.Lock()
	m.RevokeCalls++
	m.RevokedTokens = append(m.RevokedTokens, token)
	fn := m.RevokeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(token)
	}
	return nil
}

// Counts returns a snapshot of the call counters
func (m *MockOAuthAdapter) Counts() (authURL, exchange, refresh, revoke int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AuthURLCalls, m.ExchangeCalls, m.RefreshCalls, m.RevokeCalls
}

// ExchangeOnly exposes only Exchange, like the private-token variant.
// The adapter is a named field so no other capability is promoted.
type ExchangeOnly struct{ M *MockOAuthAdapter }

func (e ExchangeOnly) Provider() domain.ProviderType { return e.M.Provider() }
func (e ExchangeOnly) Variant() domain.GrantVariant  { return e.M.Variant() }
func (e ExchangeOnly) Exchange(ctx context.Context, in domain.ExchangeInput, cfg driven.ProviderConfig) (*domain.TokenResponse, error) {
	return e.M.Exchange(ctx, in, cfg)
}

// ExchangeRefresh exposes Exchange and Refresh, like the client-credentials variant.
type ExchangeRefresh struct{ M *MockOAuthAdapter }

func (e ExchangeRefresh) Provider() domain.ProviderType { return e.M.Provider() }
func (e ExchangeRefresh) Variant() domain.GrantVariant  { return e.M.Variant() }
func (e ExchangeRefresh) Exchange(ctx context.Context, in domain.ExchangeInput, cfg driven.ProviderConfig) (*domain.TokenResponse, error) {
	return e.M.Exchange(ctx, in, cfg)
}
func (e ExchangeRefresh) Refresh(ctx context.Context, token *domain.ConsentToken, cfg driven.ProviderConfig) (*domain.TokenResponse, error) {
	return e.M.Refresh(ctx, token, cfg)
}
