package apptoken

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

func TestAdapter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cid", body["clientid"])
		assert.Equal(t, "app-token", body["token"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"access_token": "briox-access", "expires_in": 86400},
		})
	}))
	defer srv.Close()

	a := New(domain.ProviderBriox, Config{ClientID: "cid", TokenURL: srv.URL}, srv.Client())
	ctx := context.Background()

	tok, err := a.Exchange(ctx, domain.ExchangeInput{ApplicationToken: "app-token"}, driven.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "briox-access", tok.AccessToken)
	assert.Zero(t, tok.ExpiresIn)

	stored := &domain.ConsentToken{AccessToken: "briox-access", TokenType: "Bearer"}
	refreshed, err := a.Refresh(ctx, stored, driven.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "briox-access", refreshed.AccessToken)

	require.NoError(t, a.Revoke(ctx, "x", driven.ProviderConfig{}))
	assert.Equal(t, int32(1), calls.Load(), "refresh and revoke must not call the provider")
}

func TestExchange_RequiresToken(t *testing.T) {
	a := New(domain.ProviderBriox, Config{}, nil)
	_, err := a.Exchange(context.Background(), domain.ExchangeInput{}, driven.ProviderConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
