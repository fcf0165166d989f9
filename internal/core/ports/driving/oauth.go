package driving

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// OAuthService drives the per-provider token flows for consents
type OAuthService interface {
	// AuthorizationURL starts a browser flow; only authorization-code providers support it
	AuthorizationURL(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)

	// Exchange obtains a token and moves the consent to Accepted
	Exchange(ctx context.Context, req ExchangeRequest) (*domain.Consent, error)

	// Refresh forces a token refresh
	Refresh(ctx context.Context, req TokenRequest) error

	// Revoke revokes upstream best-effort and marks the consent Revoked
	Revoke(ctx context.Context, req TokenRequest) (*domain.Consent, error)

	// Providers lists the provider catalog with each adapter's capabilities
	Providers(ctx context.Context) []domain.ProviderDescription
}

// AuthorizeRequest represents a request to start an OAuth flow.
type AuthorizeRequest struct {
	Provider  string `json:"provider"`
	TenantID  string `json:"-"`
	ConsentID string `json:"consentId"`
}

// AuthorizeResponse contains the authorization URL and state.
// @Description Response containing the OAuth authorization URL
type AuthorizeResponse struct {
	AuthorizationURL string `json:"url" example:"https://apps.fortnox.se/oauth-v1/auth?client_id=..."`
	State            string `json:"state"`
	ExpiresAt        string `json:"expiresAt" example:"2024-01-15T10:10:00Z"`
}

// ExchangeRequest carries variant-specific exchange input.
// @Description Token exchange request
type ExchangeRequest struct {
	Provider  string `json:"-"`
	TenantID  string `json:"-"`
	ConsentID string `json:"consentId"`
	domain.ExchangeInput
}

// TokenRequest targets the token of one consent.
type TokenRequest struct {
	Provider  string `json:"-"`
	TenantID  string `json:"-"`
	ConsentID string `json:"consentId"`
}
