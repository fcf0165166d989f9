// Package apptoken implements the application-token flow used by Briox.
// The tenant pastes a pre-issued application token which is traded once for
// an access token; neither expires, so refresh and revoke do nothing.
package apptoken

import (
	"context"
	"net/http"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/tokenhttp"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.Exchanger = (*Adapter)(nil)
	_ driven.Refresher = (*Adapter)(nil)
	_ driven.Revoker   = (*Adapter)(nil)
)

// Config holds the client id and token endpoint
type Config struct {
	ClientID string
	TokenURL string
}

// Adapter has no authorization URL.
type Adapter struct {
	provider domain.ProviderType
	cfg      Config
	http     *tokenhttp.Client
}

// New creates an application-token adapter. hc may be nil.
func New(provider domain.ProviderType, cfg Config, hc *http.Client) *Adapter {
	return &Adapter{provider: provider, cfg: cfg, http: tokenhttp.New(hc)}
}

func (a *Adapter) Provider() domain.ProviderType { return a.provider }
func (a *Adapter) Variant() domain.GrantVariant  { return domain.GrantApplicationToken }

// Exchange trades the application token for an access token.
func (a *Adapter) Exchange(ctx context.Context, in domain.ExchangeInput, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	if in.ApplicationToken == "" {
		return nil, domain.Validationf("applicationToken is required")
	}
	body, err := a.http.PostJSON(ctx, a.cfg.TokenURL, map[string]string{
		"clientid": a.cfg.ClientID,
		"token":    in.ApplicationToken,
	}, nil)
	if err != nil {
		return nil, err
	}
	tok, err := tokenhttp.DecodeToken(body)
	if err != nil {
		return nil, err
	}
	tok.ExpiresIn = 0
	// The application token is kept so a lost access token can be re-derived.
	tok.RefreshToken = in.ApplicationToken
	return tok, nil
}

// Refresh returns the current token unchanged.
func (a *Adapter) Refresh(_ context.Context, token *domain.ConsentToken, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	return &domain.TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}, nil
}

// Revoke is a no-op; the tenant revokes application tokens in the provider UI.
func (a *Adapter) Revoke(context.Context, string, driven.ProviderConfig) error {
	return nil
}
