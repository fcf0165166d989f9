package driving

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// AuthService is the authentication boundary in front of the core
type AuthService interface {
	// Authenticate resolves an API key, legacy tenant key or session token
	Authenticate(ctx context.Context, credential string) (*domain.Identity, error)

	// RedeemOneTimeCode consumes an onboarding code and issues a scoped session
	RedeemOneTimeCode(ctx context.Context, code string) (*domain.SessionToken, error)

	// IssueAPIKey stores a new registry entry and returns the plaintext key once
	IssueAPIKey(ctx context.Context, tenantID, name string) (string, *domain.APIKey, error)

	RevokeAPIKey(ctx context.Context, tenantID, keyID string) error
}
