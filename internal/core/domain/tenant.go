package domain

import "time"

// Tenant owns consents and API keys
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	MaxConsents        int       `json:"maxConsents"`
	RateLimitPerMinute int       `json:"rateLimitPerMinute"`
	LegacyKeyHash      string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
}

// APIKey is an entry in the revocable key registry
type APIKey struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	Name      string     `json:"name"`
	Hash      string     `json:"-"` // bcrypt
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	LastUsed  *time.Time `json:"lastUsedAt,omitempty"`
}

// IsRevoked reports whether the key can no longer be used
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// APIKeyPrefix is prepended to issued keys
const APIKeyPrefix = "use_"

// CredentialKind is how a caller authenticated
type CredentialKind string

const (
	CredentialAPIKey     CredentialKind = "api_key"
	CredentialLegacyKey  CredentialKind = "legacy_key"
	CredentialSession    CredentialKind = "session"
	CredentialOnboarding CredentialKind = "onboarding"
)

// Identity is the trusted output of the authentication boundary
type Identity struct {
	TenantID string         `json:"tenantId"`
	Tenant   *Tenant        `json:"tenant,omitempty"`
	Kind     CredentialKind `json:"kind"`

	// ConsentScope restricts onboarding identities to a single consent
	ConsentScope string `json:"consentScope,omitempty"`
}

// CanAccessConsent reports whether the identity may act on consentID
func (i *Identity) CanAccessConsent(consentID string) bool {
	return i.ConsentScope == "" || i.ConsentScope == consentID
}

// OneTimeCode grants anonymous onboarding access to one consent
type OneTimeCode struct {
	Code      string     `json:"code"`
	ConsentID string     `json:"consentId"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// DefaultOneTimeCodeTTL is how long an onboarding code stays redeemable
const DefaultOneTimeCodeTTL = 24 * time.Hour

// Usable reports whether the code is unused and unexpired at now
func (c *OneTimeCode) Usable(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}

// SessionToken is returned to a caller after login or onboarding
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ConsentID string    `json:"consentId,omitempty"`
}

// SessionClaims is the signed session or onboarding token payload
type SessionClaims struct {
	TenantID  string         `json:"tenant_id"`
	ConsentID string         `json:"consent_id,omitempty"`
	Kind      CredentialKind `json:"kind"`
	IssuedAt  int64          `json:"iat"`
	ExpiresAt int64          `json:"exp"`
}
