package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsentStatus is the lifecycle state of a consent
type ConsentStatus string

const (
	ConsentCreated  ConsentStatus = "Created"
	ConsentAccepted ConsentStatus = "Accepted"
	ConsentRevoked  ConsentStatus = "Revoked"
	ConsentInactive ConsentStatus = "Inactive"
)

// Valid reports whether s is a known status
func (s ConsentStatus) Valid() bool {
	switch s {
	case ConsentCreated, ConsentAccepted, ConsentRevoked, ConsentInactive:
		return true
	}
	return false
}

// Consent represents a tenant's permission to sync one accounting backend
type Consent struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenantId"`
	Name               string        `json:"name"`
	Status             ConsentStatus `json:"status"`
	Provider           *ProviderType `json:"provider,omitempty"`
	OrgNumber          string        `json:"orgNumber,omitempty"`
	CompanyName        string        `json:"companyName,omitempty"`
	ProviderSettingsID string        `json:"providerSettingsId,omitempty"`

	// Etag is regenerated on every accepted mutation; only equality is meaningful.
	Etag string `json:"etag"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NewConsent creates a consent in the Created state
func NewConsent(tenantID, name string, provider *ProviderType) *Consent {
	now := time.Now()
	return &Consent{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Status:    ConsentCreated,
		Provider:  provider,
		Etag:      NewEtag(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewEtag returns a fresh opaque version token
func NewEtag() string {
	return uuid.NewString()
}

// ProviderType returns the bound provider or "" when none is set
func (c *Consent) ProviderType() ProviderType {
	if c.Provider == nil {
		return ""
	}
	return *c.Provider
}

// ConsentPatch holds the mutable consent fields; nil means unchanged.
type ConsentPatch struct {
	Name               *string        `json:"name,omitempty"`
	Status             *ConsentStatus `json:"status,omitempty"`
	Provider           *ProviderType  `json:"provider,omitempty"`
	OrgNumber          *string        `json:"orgNumber,omitempty"`
	CompanyName        *string        `json:"companyName,omitempty"`
	ProviderSettingsID *string        `json:"providerSettingsId,omitempty"`
	ExpiresAt          *time.Time     `json:"expiresAt,omitempty"`
}

// Validate checks patch values before they reach storage
func (p *ConsentPatch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return Validationf("name must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return Validationf("unknown status %q", *p.Status)
	}
	if p.Provider != nil {
		if _, err := ParseProviderType(string(*p.Provider)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateClientChange rejects patches a caller may not apply to c directly.
// A bound provider is fixed, Accepted is only reached through the token
// flows and a revoked consent stays revoked.
func (p *ConsentPatch) ValidateClientChange(c *Consent) error {
	if p.Provider != nil && c.Provider != nil && *p.Provider != *c.Provider {
		return Validationf("consent %s is already bound to %s", c.ID, *c.Provider)
	}
	if p.Status == nil || *p.Status == c.Status {
		return nil
	}
	if c.Status == ConsentRevoked {
		return Validationf("consent %s is revoked", c.ID)
	}
	if *p.Status == ConsentAccepted {
		return Validationf("status %s is set by completing the provider authorization", ConsentAccepted)
	}
	return nil
}

// Apply mutates c with the patch, rotates the etag and bumps UpdatedAt.
func (p *ConsentPatch) Apply(c *Consent) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Provider != nil {
		prov := *p.Provider
		c.Provider = &prov
	}
	if p.OrgNumber != nil {
		c.OrgNumber = *p.OrgNumber
	}
	if p.CompanyName != nil {
		c.CompanyName = *p.CompanyName
	}
	if p.ProviderSettingsID != nil {
		c.ProviderSettingsID = *p.ProviderSettingsID
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	c.Etag = NewEtag()
	c.UpdatedAt = time.Now()
}

// StatusPatch is a patch that only changes the status
func StatusPatch(s ConsentStatus) ConsentPatch {
	return ConsentPatch{Status: &s}
}

// ProviderSettings links a consent to provider-specific configuration
type ProviderSettings struct {
	ID        string       `json:"id"`
	Provider  ProviderType `json:"provider"`
	CompanyID string       `json:"companyId,omitempty"`
	BaseURL   string       `json:"baseUrl,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
