package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
)

func newTestOAuthService(h *harness) driving.OAuthService {
	return NewOAuthService(OAuthServiceConfig{
		Registry:        h.registry,
		Consents:        h.consents,
		Settings:        h.settings,
		OAuthStateStore: h.states,
		Manager:         h.tokenManager,
	})
}

// createdConsent stores an unbound consent in the Created state
func createdConsent(t *testing.T, h *harness, id string) *domain.Consent {
	t.Helper()
	c := domain.NewConsent(testTenant, "Acme AB", nil)
	c.ID = id
	require.NoError(t, h.consents.Create(context.Background(), c))
	return c
}

func TestOAuth_AuthorizeAndExchange(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	ctx := context.Background()
	createdConsent(t, h, "c1")

	auth, err := svc.AuthorizationURL(ctx, driving.AuthorizeRequest{Provider: "fortnox", TenantID: testTenant, ConsentID: "c1"})
	require.NoError(t, err)
	assert.NotEmpty(t, auth.State)
	assert.Contains(t, auth.AuthorizationURL, auth.State)

	consent, err := svc.Exchange(ctx, driving.ExchangeRequest{
		Provider: "fortnox", TenantID: testTenant, ConsentID: "c1",
		ExchangeInput: domain.ExchangeInput{Code: "code-1", State: auth.State},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentAccepted, consent.Status)
	require.NotNil(t, consent.Provider)
	assert.Equal(t, domain.ProviderFortnox, *consent.Provider)

	tok, err := h.tokens.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	require.NotNil(t, tok.ExpiresAt)

	// the state is single-use
	_, err = svc.Exchange(ctx, driving.ExchangeRequest{
		Provider: "fortnox", TenantID: testTenant, ConsentID: "c1",
		ExchangeInput: domain.ExchangeInput{Code: "code-1", State: auth.State},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOAuth_ExchangeStateErrors(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	ctx := context.Background()
	createdConsent(t, h, "c1")
	createdConsent(t, h, "c2")

	require.NoError(t, h.states.Save(ctx, &domain.OAuthState{
		State: "expired", ConsentID: "c1", TenantID: testTenant,
		Provider: domain.ProviderFortnox, ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, h.states.Save(ctx, &domain.OAuthState{
		State: "other-consent", ConsentID: "c2", TenantID: testTenant,
		Provider: domain.ProviderFortnox, ExpiresAt: time.Now().Add(time.Minute),
	}))

	tests := []struct {
		name  string
		state string
	}{
		{"missing", ""},
		{"unknown", "nope"},
		{"expired", "expired"},
		{"issued for another consent", "other-consent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Exchange(ctx, driving.ExchangeRequest{
				Provider: "fortnox", TenantID: testTenant, ConsentID: "c1",
				ExchangeInput: domain.ExchangeInput{Code: "code-1", State: tt.state},
			})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, exchanges, _, _ := h.adapters[domain.ProviderFortnox].Counts()
	assert.Zero(t, exchanges)
	c, _ := h.consents.Get(ctx, "c1")
	assert.Equal(t, domain.ConsentCreated, c.Status)
}

func TestOAuth_AuthorizationURLUnsupported(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	createdConsent(t, h, "c1")

	_, err := svc.AuthorizationURL(context.Background(), driving.AuthorizeRequest{Provider: "bokio", TenantID: testTenant, ConsentID: "c1"})

	var unsupported *domain.UnsupportedError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, domain.ProviderBokio, unsupported.Provider)
}

func TestOAuth_UnknownProvider(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)

	_, err := svc.AuthorizationURL(context.Background(), driving.AuthorizeRequest{Provider: "quickbooks", TenantID: testTenant, ConsentID: "c1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOAuth_PrivateTokenExchangeLinksCompany(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	ctx := context.Background()
	createdConsent(t, h, "c1")
	h.adapters[domain.ProviderBokio].ExchangeFn = func(in domain.ExchangeInput) (*domain.TokenResponse, error) {
		return &domain.TokenResponse{AccessToken: in.APIToken}, nil
	}

	consent, err := svc.Exchange(ctx, driving.ExchangeRequest{
		Provider: "bokio", TenantID: testTenant, ConsentID: "c1",
		ExchangeInput: domain.ExchangeInput{APIToken: "bokio-token", CompanyID: "company-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentAccepted, consent.Status)
	require.NotEmpty(t, consent.ProviderSettingsID)

	ps, err := h.settings.Get(ctx, consent.ProviderSettingsID)
	require.NoError(t, err)
	assert.Equal(t, "company-9", ps.CompanyID)

	tok, err := h.tokens.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "bokio-token", tok.AccessToken)
	assert.Nil(t, tok.ExpiresAt)
}

func TestOAuth_ExchangeInputValidation(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	createdConsent(t, h, "c1")

	tests := []struct {
		provider string
		in       domain.ExchangeInput
	}{
		{"fortnox", domain.ExchangeInput{State: "s"}},
		{"briox", domain.ExchangeInput{}},
		{"bokio", domain.ExchangeInput{APIToken: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			_, err := svc.Exchange(context.Background(), driving.ExchangeRequest{
				Provider: tt.provider, TenantID: testTenant, ConsentID: "c1", ExchangeInput: tt.in,
			})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestOAuth_ProviderMismatch(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	_, err := svc.Exchange(context.Background(), driving.ExchangeRequest{
		Provider: "briox", TenantID: testTenant, ConsentID: "c1",
		ExchangeInput: domain.ExchangeInput{ApplicationToken: "app"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOAuth_OtherTenantIsNotFound(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	err := svc.Refresh(context.Background(), driving.TokenRequest{Provider: "fortnox", TenantID: "tenant-2", ConsentID: "c1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOAuth_RefreshUnsupported(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	h.seedConsent(t, "c1", domain.ProviderBokio, 0)

	err := svc.Refresh(context.Background(), driving.TokenRequest{Provider: "bokio", TenantID: testTenant, ConsentID: "c1"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	_, _, refreshes, _ := h.adapters[domain.ProviderBokio].Counts()
	assert.Zero(t, refreshes)
}

func TestOAuth_Refresh(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	require.NoError(t, svc.Refresh(context.Background(), driving.TokenRequest{Provider: "fortnox", TenantID: testTenant, ConsentID: "c1"}))

	tok, err := h.tokens.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", tok.AccessToken)
}

func TestOAuth_RevokeUnsupported(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	h.seedConsent(t, "c1", domain.ProviderBjornLunden, time.Hour)

	_, err := svc.Revoke(context.Background(), driving.TokenRequest{Provider: "bjornlunden", TenantID: testTenant, ConsentID: "c1"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	c, _ := h.consents.Get(context.Background(), "c1")
	assert.Equal(t, domain.ConsentAccepted, c.Status)
}

func TestOAuth_Revoke(t *testing.T) {
	h := newHarness(t)
	svc := newTestOAuthService(h)
	before := h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	consent, err := svc.Revoke(context.Background(), driving.TokenRequest{Provider: "fortnox", TenantID: testTenant, ConsentID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentRevoked, consent.Status)
	assert.NotEqual(t, before.Etag, consent.Etag)

	_, _, _, revokes := h.adapters[domain.ProviderFortnox].Counts()
	assert.Equal(t, 1, revokes)
	_, err = h.tokens.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOAuth_ProvidersDescribeWiredAdapters(t *testing.T) {
	h := newHarness(t)
	list := newTestOAuthService(h).Providers(context.Background())
	require.Len(t, list, len(domain.AllProviders()))

	assert.Equal(t, domain.ProviderFortnox, list[0].Type)
	assert.Equal(t, domain.ProviderCapabilities{AuthURL: true, Exchange: true, Refresh: true, Revoke: true}, list[0].Capabilities)

	for _, d := range list {
		switch d.Type {
		case domain.ProviderBokio:
			assert.Equal(t, domain.ProviderCapabilities{Exchange: true}, d.Capabilities)
		case domain.ProviderBjornLunden:
			assert.Equal(t, domain.ProviderCapabilities{Exchange: true, Refresh: true}, d.Capabilities)
		}
		assert.NotEmpty(t, d.Resources, d.Type)
	}
}
