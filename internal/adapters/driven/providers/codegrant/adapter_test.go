package codegrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

type fakeProvider struct {
	*httptest.Server
	revoked []url.Values
}

func newFakeProvider(t *testing.T) *fakeProvider {
	fp := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "client", user)

		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "a1", "refresh_token": "r1", "token_type": "bearer", "expires_in": 3600,
			})
		case "refresh_token":
			assert.Equal(t, "r1", r.Form.Get("refresh_token"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "a2", "refresh_token": "r2", "token_type": "bearer", "expires_in": 3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fp.revoked = append(fp.revoked, r.Form)
		w.WriteHeader(http.StatusOK)
	})
	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func newAdapter(fp *fakeProvider) *Adapter {
	return New(domain.ProviderFortnox, Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.test/callback",
		AuthURL:      fp.URL + "/auth",
		TokenURL:     fp.URL + "/token",
		RevokeURL:    fp.URL + "/revoke",
		Scopes:       []string{"invoice", "bookkeeping"},
	}, fp.Client())
}

func TestAuthorizationURL(t *testing.T) {
	a := newAdapter(newFakeProvider(t))

	raw, err := a.AuthorizationURL("state-123")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "invoice bookkeeping", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
}

func TestAuthorizationURL_MissingClient(t *testing.T) {
	a := New(domain.ProviderVisma, Config{}, nil)
	_, err := a.AuthorizationURL("s")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestExchangeAndRefresh(t *testing.T) {
	a := newAdapter(newFakeProvider(t))
	ctx := context.Background()

	tok, err := a.Exchange(ctx, domain.ExchangeInput{Code: "good-code"}, driven.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.InDelta(t, 3600, tok.ExpiresIn, 2)

	stored := domain.NewConsentToken("c1", domain.ProviderFortnox, tok, time.Now())
	refreshed, err := a.Refresh(ctx, stored, driven.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "a2", refreshed.AccessToken)
	assert.Equal(t, "r2", refreshed.RefreshToken)
}

func TestExchange_Errors(t *testing.T) {
	a := newAdapter(newFakeProvider(t))

	_, err := a.Exchange(context.Background(), domain.ExchangeInput{}, driven.ProviderConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = a.Exchange(context.Background(), domain.ExchangeInput{Code: "bad"}, driven.ProviderConfig{})
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	a := newAdapter(newFakeProvider(t))
	_, err := a.Refresh(context.Background(), &domain.ConsentToken{ConsentID: "c1"}, driven.ProviderConfig{})
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
}

func TestRevoke(t *testing.T) {
	fp := newFakeProvider(t)
	a := newAdapter(fp)

	require.NoError(t, a.Revoke(context.Background(), "r1", driven.ProviderConfig{}))
	require.Len(t, fp.revoked, 1)
	assert.Equal(t, "r1", fp.revoked[0].Get("token"))
	assert.Equal(t, "refresh_token", fp.revoked[0].Get("token_type_hint"))
}
