package privatetoken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

func TestExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/companies/comp-1", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"comp-1"}`))
	}))
	defer srv.Close()

	a := New(domain.ProviderBokio, Config{BaseURL: srv.URL}, srv.Client())

	tok, err := a.Exchange(context.Background(), domain.ExchangeInput{APIToken: "good", CompanyID: "comp-1"}, driven.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "good", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
	assert.Zero(t, tok.ExpiresIn)

	_, err = a.Exchange(context.Background(), domain.ExchangeInput{APIToken: "bad", CompanyID: "comp-1"}, driven.ProviderConfig{})
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
}

func TestExchange_RequiresCompany(t *testing.T) {
	a := New(domain.ProviderBokio, Config{}, nil)
	_, err := a.Exchange(context.Background(), domain.ExchangeInput{APIToken: "t"}, driven.ProviderConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCapabilities(t *testing.T) {
	var a any = New(domain.ProviderBokio, Config{}, nil)
	_, refresh := a.(driven.Refresher)
	_, revoke := a.(driven.Revoker)
	_, authURL := a.(driven.AuthURLBuilder)
	assert.False(t, refresh)
	assert.False(t, revoke)
	assert.False(t, authURL)
}
