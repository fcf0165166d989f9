package driven

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// ConsentStore owns consent identity, status and etag.
type ConsentStore interface {
	Create(ctx context.Context, consent *domain.Consent) error

	// Get returns domain.ErrNotFound when absent
	Get(ctx context.Context, id string) (*domain.Consent, error)

	List(ctx context.Context, tenantID string) ([]*domain.Consent, error)

	// ListByStatus is used by the scheduler across tenants
	ListByStatus(ctx context.Context, status domain.ConsentStatus) ([]*domain.Consent, error)

	// Update applies patch when etag is empty or equals the stored etag and
	// returns the stored row with a fresh etag. A mismatch returns
	// *domain.EtagMismatchError and leaves the row untouched.
	Update(ctx context.Context, id, etag string, patch domain.ConsentPatch) (*domain.Consent, error)

	Delete(ctx context.Context, id string) error

	// CountForTenant backs the plan limit check
	CountForTenant(ctx context.Context, tenantID string) (int, error)
}

// TokenStore persists the consent's token, encrypted at rest.
type TokenStore interface {
	// Get returns domain.ErrNotFound when the consent has no token
	Get(ctx context.Context, consentID string) (*domain.ConsentToken, error)
	Save(ctx context.Context, token *domain.ConsentToken) error
	Delete(ctx context.Context, consentID string) error
}

// OneTimeCodeStore manages onboarding codes.
type OneTimeCodeStore interface {
	Create(ctx context.Context, code *domain.OneTimeCode) error

	// Consume marks the code used if it is unused and unexpired, atomically.
	// Returns domain.ErrNotFound otherwise.
	Consume(ctx context.Context, code string) (*domain.OneTimeCode, error)

	DeleteForConsent(ctx context.Context, consentID string) error
}

// ProviderSettingsStore holds provider-specific configuration linked from consents.
type ProviderSettingsStore interface {
	Get(ctx context.Context, id string) (*domain.ProviderSettings, error)
	Save(ctx context.Context, settings *domain.ProviderSettings) error
	Delete(ctx context.Context, id string) error
}

// TenantStore resolves tenants.
type TenantStore interface {
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	GetByLegacyKeyHash(ctx context.Context, hash string) (*domain.Tenant, error)
	Save(ctx context.Context, tenant *domain.Tenant) error
}

// APIKeyStore is the revocable key registry.
type APIKeyStore interface {
	Get(ctx context.Context, id string) (*domain.APIKey, error)
	Save(ctx context.Context, key *domain.APIKey) error
	Revoke(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string) error
}
