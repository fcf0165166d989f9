package driving

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// ConsentService manages consent records for a tenant
type ConsentService interface {
	Create(ctx context.Context, tenantID string, req CreateConsentRequest) (*domain.Consent, error)
	Get(ctx context.Context, tenantID, consentID string) (*domain.Consent, error)
	List(ctx context.Context, tenantID string) ([]*domain.Consent, error)

	// Update fails with domain.ErrConflict when etag is stale
	Update(ctx context.Context, tenantID, consentID, etag string, patch domain.ConsentPatch) (*domain.Consent, error)

	// Delete revokes upstream best-effort and removes everything the consent owns
	Delete(ctx context.Context, tenantID, consentID string) error

	CreateOneTimeCode(ctx context.Context, tenantID, consentID string) (*domain.OneTimeCode, error)
}

// CreateConsentRequest represents a request to create a consent.
// @Description Create consent request
type CreateConsentRequest struct {
	Name        string  `json:"name" example:"Acme AB"`
	Provider    *string `json:"provider,omitempty" example:"fortnox"`
	OrgNumber   string  `json:"orgNumber,omitempty" example:"556677-8899"`
	CompanyName string  `json:"companyName,omitempty" example:"Acme AB"`
	CompanyID   string  `json:"companyId,omitempty"`
}
