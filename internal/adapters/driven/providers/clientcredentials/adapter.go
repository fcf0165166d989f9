// Package clientcredentials implements the client-credentials grant used by
// Björn Lundén. Refresh is a fresh token request; there is nothing to revoke.
package clientcredentials

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/tokenhttp"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.Exchanger = (*Adapter)(nil)
	_ driven.Refresher = (*Adapter)(nil)
)

// Config holds client credentials and the token endpoint
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Adapter implements Exchange and Refresh.
type Adapter struct {
	provider domain.ProviderType
	cc       *clientcredentials.Config
	http     *http.Client
}

// New creates a client-credentials adapter. hc may be nil.
func New(provider domain.ProviderType, cfg Config, hc *http.Client) *Adapter {
	return &Adapter{
		provider: provider,
		http:     tokenhttp.New(hc).HTTP,
		cc: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

func (a *Adapter) Provider() domain.ProviderType { return a.provider }
func (a *Adapter) Variant() domain.GrantVariant  { return domain.GrantClientCredentials }

// Exchange requests the first token; the input carries nothing the grant needs.
func (a *Adapter) Exchange(ctx context.Context, _ domain.ExchangeInput, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	return a.request(ctx)
}

// Refresh requests a new token without the stored one.
func (a *Adapter) Refresh(ctx context.Context, _ *domain.ConsentToken, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	return a.request(ctx)
}

func (a *Adapter) request(ctx context.Context) (*domain.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.http)
	tok, err := a.cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: client credentials: %v", domain.ErrUpstreamProvider, err)
	}
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return &domain.TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   expiresIn,
	}, nil
}
