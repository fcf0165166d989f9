package providers

import (
	"net/http"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/apptoken"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/clientcredentials"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/codegrant"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/privatetoken"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// Endpoints is the per-provider part of the configuration
type Endpoints struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RevokeURL    string   `yaml:"revoke_url"`
	APIBaseURL   string   `yaml:"api_base_url"`
	Scopes       []string `yaml:"scopes"`
}

// DefaultEndpoints returns the production endpoints of each provider.
func DefaultEndpoints() map[domain.ProviderType]Endpoints {
	return map[domain.ProviderType]Endpoints{
		domain.ProviderFortnox: {
			AuthURL:    "https://apps.fortnox.se/oauth-v1/auth",
			TokenURL:   "https://apps.fortnox.se/oauth-v1/token",
			RevokeURL:  "https://apps.fortnox.se/oauth-v1/revoke",
			APIBaseURL: "https://api.fortnox.se/3",
			Scopes:     []string{"companyinformation", "invoice", "supplierinvoice", "customer", "supplier", "bookkeeping"},
		},
		domain.ProviderVisma: {
			AuthURL:    "https://identity.vismaonline.com/connect/authorize",
			TokenURL:   "https://identity.vismaonline.com/connect/token",
			RevokeURL:  "https://identity.vismaonline.com/connect/revocation",
			APIBaseURL: "https://eaccountingapi.vismaonline.com/v2",
			Scopes:     []string{"ea:api", "offline_access", "ea:sales_readonly", "ea:accounting_readonly", "ea:purchase_readonly"},
		},
		domain.ProviderBriox: {
			TokenURL:   "https://api-se.briox.services/v2/token",
			APIBaseURL: "https://api-se.briox.services/v2",
		},
		domain.ProviderBokio: {
			APIBaseURL: "https://api.bokio.se/v1",
		},
		domain.ProviderBjornLunden: {
			TokenURL:   "https://apigateway.blinfo.se/auth/oauth/v2/token",
			APIBaseURL: "https://apigateway.blinfo.se/bla-api/v1/sp",
		},
	}
}

// MergeEndpoints overlays non-empty fields of override onto base
func MergeEndpoints(base, override Endpoints) Endpoints {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.ClientID, override.ClientID)
	set(&base.ClientSecret, override.ClientSecret)
	set(&base.RedirectURL, override.RedirectURL)
	set(&base.AuthURL, override.AuthURL)
	set(&base.TokenURL, override.TokenURL)
	set(&base.RevokeURL, override.RevokeURL)
	set(&base.APIBaseURL, override.APIBaseURL)
	if len(override.Scopes) > 0 {
		base.Scopes = override.Scopes
	}
	return base
}

// NewAdapters builds the standard adapter set from endpoints.
func NewAdapters(ep map[domain.ProviderType]Endpoints, hc *http.Client) Adapters {
	code := func(p domain.ProviderType) *codegrant.Adapter {
		e := ep[p]
		return codegrant.New(p, codegrant.Config{
			ClientID:     e.ClientID,
			ClientSecret: e.ClientSecret,
			RedirectURL:  e.RedirectURL,
			AuthURL:      e.AuthURL,
			TokenURL:     e.TokenURL,
			RevokeURL:    e.RevokeURL,
			Scopes:       e.Scopes,
		}, hc)
	}
	briox := ep[domain.ProviderBriox]
	bokio := ep[domain.ProviderBokio]
	bl := ep[domain.ProviderBjornLunden]

	return Adapters{
		Fortnox: code(domain.ProviderFortnox),
		Visma:   code(domain.ProviderVisma),
		Briox: apptoken.New(domain.ProviderBriox, apptoken.Config{
			ClientID: briox.ClientID,
			TokenURL: briox.TokenURL,
		}, hc),
		Bokio: privatetoken.New(domain.ProviderBokio, privatetoken.Config{
			BaseURL: bokio.APIBaseURL,
		}, hc),
		BjornLunden: clientcredentials.New(domain.ProviderBjornLunden, clientcredentials.Config{
			ClientID:     bl.ClientID,
			ClientSecret: bl.ClientSecret,
			TokenURL:     bl.TokenURL,
			Scopes:       bl.Scopes,
		}, hc),
	}
}
