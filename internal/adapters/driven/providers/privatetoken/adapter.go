// Package privatetoken implements Bokio's private API token. There is no
// OAuth: the token and company id are verified once and stored as-is.
package privatetoken

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/tokenhttp"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.Exchanger = (*Adapter)(nil)

// Config holds the API base used to verify tokens
type Config struct {
	BaseURL string
}

// Adapter only implements Exchange.
type Adapter struct {
	provider domain.ProviderType
	cfg      Config
	http     *tokenhttp.Client
}

// New creates a private-token adapter. hc may be nil.
func New(provider domain.ProviderType, cfg Config, hc *http.Client) *Adapter {
	return &Adapter{provider: provider, cfg: cfg, http: tokenhttp.New(hc)}
}

func (a *Adapter) Provider() domain.ProviderType { return a.provider }
func (a *Adapter) Variant() domain.GrantVariant  { return domain.GrantPrivateToken }

// Exchange verifies the token by reading the company and returns it unchanged.
func (a *Adapter) Exchange(ctx context.Context, in domain.ExchangeInput, _ driven.ProviderConfig) (*domain.TokenResponse, error) {
	if in.APIToken == "" || in.CompanyID == "" {
		return nil, domain.Validationf("apiToken and companyId are required")
	}
	if a.cfg.BaseURL != "" {
		endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/companies/" + url.PathEscape(in.CompanyID)
		if _, err := a.http.Get(ctx, endpoint, in.APIToken, nil); err != nil {
			return nil, err
		}
	}
	return &domain.TokenResponse{
		AccessToken: in.APIToken,
		TokenType:   "Bearer",
	}, nil
}
