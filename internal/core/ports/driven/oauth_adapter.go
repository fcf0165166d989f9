package driven

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// OAuthAdapter is the base every provider adapter implements. A variant
// supports an operation exactly when it also implements the matching
// capability interface below.
type OAuthAdapter interface {
	Provider() domain.ProviderType
	Variant() domain.GrantVariant
}

// AuthURLBuilder builds the browser authorization URL.
type AuthURLBuilder interface {
	AuthorizationURL(state string) (string, error)
}

// Exchanger turns variant-specific input into tokens.
type Exchanger interface {
	Exchange(ctx context.Context, in domain.ExchangeInput, cfg ProviderConfig) (*domain.TokenResponse, error)
}

// Refresher renews an access token.
type Refresher interface {
	Refresh(ctx context.Context, token *domain.ConsentToken, cfg ProviderConfig) (*domain.TokenResponse, error)
}

// Revoker invalidates a token upstream.
type Revoker interface {
	Revoke(ctx context.Context, token string, cfg ProviderConfig) error
}

// ProviderConfig is the per-consent provider context passed to adapters and fetchers.
type ProviderConfig struct {
	Provider  domain.ProviderType
	ConsentID string
	CompanyID string
	BaseURL   string
}

// ProviderRegistry resolves providers to capabilities. Capability lookups
// return domain.ErrUnsupportedOperation when the variant lacks the operation.
type ProviderRegistry interface {
	Resolve(raw string) (OAuthAdapter, error)
	Lookup(p domain.ProviderType) (OAuthAdapter, error)
	AuthURLBuilder(p domain.ProviderType) (AuthURLBuilder, error)
	Exchanger(p domain.ProviderType) (Exchanger, error)
	Refresher(p domain.ProviderType) (Refresher, error)
	Revoker(p domain.ProviderType) (Revoker, error)
	Describe(p domain.ProviderType) domain.ProviderCapabilities
}
