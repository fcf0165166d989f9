package domain

import "time"

// DefaultRefreshSkew is how close to expiry a token is refreshed before use
const DefaultRefreshSkew = 60 * time.Second

// TokenResponse is the normalized result of every exchange and refresh
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`

	// ExpiresIn is in seconds; 0 means the token does not expire.
	ExpiresIn int64 `json:"expiresIn"`
}

// ConsentToken is the stored credential owned 1:1 by a consent
type ConsentToken struct {
	ConsentID    string       `json:"consentId"`
	Provider     ProviderType `json:"provider"`
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	TokenType    string       `json:"tokenType"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NewConsentToken builds a stored token from a normalized response
func NewConsentToken(consentID string, provider ProviderType, resp *TokenResponse, now time.Time) *ConsentToken {
	tok := &ConsentToken{
		ConsentID: consentID,
		Provider:  provider,
		CreatedAt: now,
	}
	tok.Apply(resp, now)
	return tok
}

// Apply overwrites the token with a refresh result. An empty refresh
// token in resp keeps the current one.
func (t *ConsentToken) Apply(resp *TokenResponse, now time.Time) {
	t.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		t.RefreshToken = resp.RefreshToken
	}
	t.TokenType = resp.TokenType
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if resp.ExpiresIn > 0 {
		exp := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
		t.ExpiresAt = &exp
	} else {
		t.ExpiresAt = nil
	}
	t.UpdatedAt = now
}

// NeedsRefresh reports whether the token expires within skew of now
func (t *ConsentToken) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*t.ExpiresAt)
}

// ExchangeInput carries whatever a grant variant needs to obtain a token.
type ExchangeInput struct {
	// Code is the authorization code (authorization_code)
	Code string `json:"code,omitempty"`
	// State is the value issued with the authorization URL
	State string `json:"state,omitempty"`
	// ApplicationToken is the pre-issued token (application_token)
	ApplicationToken string `json:"applicationToken,omitempty"`
	// APIToken and CompanyID stand in for OAuth (private_token)
	APIToken  string `json:"apiToken,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
}

// OAuthState is the short-lived authorization request record
type OAuthState struct {
	State     string       `json:"state"`
	ConsentID string       `json:"consentId"`
	TenantID  string       `json:"tenantId"`
	Provider  ProviderType `json:"provider"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// IsExpired checks if the state is past its expiry
func (s *OAuthState) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
