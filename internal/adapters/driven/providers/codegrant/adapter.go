// Package codegrant implements the authorization-code grant used by Fortnox and Visma.
package codegrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/tokenhttp"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.AuthURLBuilder = (*Adapter)(nil)
	_ driven.Exchanger      = (*Adapter)(nil)
	_ driven.Refresher      = (*Adapter)(nil)
	_ driven.Revoker        = (*Adapter)(nil)
)

// Config holds client credentials and endpoints for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	Scopes       []string
}

// Adapter supports all four capabilities.
type Adapter struct {
	provider domain.ProviderType
	oauth    *oauth2.Config
	cfg      Config
	http     *tokenhttp.Client
}

// New creates an authorization-code adapter. hc may be nil.
func New(provider domain.ProviderType, cfg Config, hc *http.Client) *Adapter {
	return &Adapter{
		provider: provider,
		cfg:      cfg,
		http:     tokenhttp.New(hc),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
}

func (a *Adapter) Provider() domain.ProviderType { return a.provider }
func (a *Adapter) Variant() domain.GrantVariant  { return domain.GrantAuthorizationCode }

// AuthorizationURL builds the consent screen URL carrying state.
func (a *Adapter) AuthorizationURL(state string) (string, error) {
	if a.cfg.ClientID == "" {
		return "", domain.Validationf("%s client id is not configured", a.provider)
	}
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange redeems an authorization code.
func (a *Adapter) Exchange(ctx context.Context, in domain.ExchangeInput, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	if in.Code == "" {
		return nil, domain.Validationf("code is required")
	}
	tok, err := a.oauth.Exchange(a.clientContext(ctx), in.Code)
	if err != nil {
		return nil, upstream("exchange", err)
	}
	return normalize(tok), nil
}

// Refresh redeems the stored refresh token.
func (a *Adapter) Refresh(ctx context.Context, token *domain.ConsentToken, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: consent %s has no refresh token", domain.ErrUpstreamProvider, token.ConsentID)
	}
	// An empty access token forces the source to hit the token endpoint.
	src := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{
		RefreshToken: token.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, upstream("refresh", err)
	}
	return normalize(tok), nil
}

// Revoke calls the RFC 7009 revocation endpoint.
func (a *Adapter) Revoke(ctx context.Context, token string, _ driven.ProviderConfig) error {
	if a.cfg.RevokeURL == "" {
		return nil
	}
	form := url.Values{
		"token":           {token},
		"token_type_hint": {"refresh_token"},
	}
	_, err := a.http.PostForm(ctx, a.cfg.RevokeURL, form, a.cfg.ClientID, a.cfg.ClientSecret)
	return err
}

func (a *Adapter) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http.HTTP)
}

func normalize(tok *oauth2.Token) *domain.TokenResponse {
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return &domain.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn,
	}
}

func upstream(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" && re.Response != nil {
			code = re.Response.Status
		}
		return fmt.Errorf("%w: %s: %s", domain.ErrUpstreamProvider, op, code)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamProvider, op, err)
}
