package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

func TestEnsureValidToken_FreshTokenUnchanged(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	tok, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "access-0", tok.AccessToken)
	assert.Equal(t, 0, h.adapters[domain.ProviderFortnox].RefreshCalls)
}

func TestEnsureValidToken_RefreshesWithinSkew(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderFortnox, 30*time.Second)

	tok, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", tok.AccessToken)
	assert.Equal(t, 1, h.adapters[domain.ProviderFortnox].RefreshCalls)

	stored, err := h.tokens.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-rotated", stored.RefreshToken)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(50*time.Minute)))
}

func TestEnsureValidToken_NonExpiringVariantsSkipRefresh(t *testing.T) {
	for _, p := range []domain.ProviderType{domain.ProviderBriox, domain.ProviderBokio} {
		t.Run(string(p), func(t *testing.T) {
			h := newHarness(t)
			// even a past expiry is ignored for variants without expiry
			h.seedConsent(t, "c1", p, -time.Minute)

			tok, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
			require.NoError(t, err)
			assert.Equal(t, "access-0", tok.AccessToken)
			assert.Equal(t, 0, h.adapters[p].RefreshCalls)
		})
	}
}

func TestEnsureValidToken_MissingToken(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)
	require.NoError(t, h.tokens.Delete(context.Background(), "c1"))

	_, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnsureValidToken_RefreshFailure(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderVisma, 10*time.Second)
	h.adapters[domain.ProviderVisma].RefreshFn = func(*domain.ConsentToken) (*domain.TokenResponse, error) {
		return nil, domain.Upstreamf("invalid_grant")
	}

	_, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)

	stored, err := h.tokens.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-0", stored.RefreshToken)
}

func TestEnsureValidToken_ConcurrentCallersRefreshOnce(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderFortnox, 5*time.Second)

	var seen sync.Map
	h.adapters[domain.ProviderFortnox].RefreshFn = func(tok *domain.ConsentToken) (*domain.TokenResponse, error) {
		if _, dup := seen.LoadOrStore(tok.RefreshToken, true); dup {
			return nil, errors.New("refresh token reused")
		}
		time.Sleep(20 * time.Millisecond)
		return &domain.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
			if err == nil && tok.AccessToken != "access-2" {
				err = errors.New("unexpected access token " + tok.AccessToken)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, h.adapters[domain.ProviderFortnox].RefreshCalls)
}

func TestEnsureValidToken_CancelledLeaderDoesNotFailJoinedCaller(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderFortnox, 5*time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	h.adapters[domain.ProviderFortnox].RefreshCtxFn = func(ctx context.Context, tok *domain.ConsentToken) (*domain.TokenResponse, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &domain.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := h.tokenManager.EnsureValidToken(leaderCtx, "c1")
		leaderErr <- err
	}()
	<-started

	joined := make(chan *domain.ConsentToken, 1)
	go func() {
		tok, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
		assert.NoError(t, err)
		joined <- tok
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	tok := <-joined
	require.NotNil(t, tok)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, 1, h.adapters[domain.ProviderFortnox].RefreshCalls)
}

func TestEnsureValidToken_ReusesTokenRefreshedByOtherInstance(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderFortnox, 5*time.Second)

	// another instance holds the refresh lock and writes a fresh token
	other := h.lock.Shared("other")
	ok, err := other.Acquire(context.Background(), "token-refresh:c1:fortnox", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(150 * time.Millisecond)
		exp := time.Now().Add(time.Hour)
		_ = h.tokens.Save(context.Background(), &domain.ConsentToken{
			ConsentID: "c1", Provider: domain.ProviderFortnox,
			AccessToken: "access-other", RefreshToken: "refresh-other", ExpiresAt: &exp,
		})
	}()

	tok, err := h.tokenManager.EnsureValidToken(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "access-other", tok.AccessToken)
	assert.Equal(t, 0, h.adapters[domain.ProviderFortnox].RefreshCalls)
}

func TestForceRefresh_PrivateTokenUnsupported(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderBokio, 0)

	_, err := h.tokenManager.ForceRefresh(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	var unsupported *domain.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, domain.ProviderBokio, unsupported.Provider)
	assert.Equal(t, 0, h.adapters[domain.ProviderBokio].RefreshCalls)

	states, err := h.syncStore.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestForceRefresh_ClientCredentials(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderBjornLunden, time.Hour)

	tok, err := h.tokenManager.ForceRefresh(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", tok.AccessToken)
	assert.Equal(t, 1, h.adapters[domain.ProviderBjornLunden].RefreshCalls)
}

func TestRevoke_CallsAdapterOnceAndMarksRevoked(t *testing.T) {
	h := newHarness(t)
	before := h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	consent, err := h.tokenManager.Revoke(context.Background(), "c1")
	require.NoError(t, err)

	m := h.adapters[domain.ProviderFortnox]
	assert.Equal(t, 1, m.RevokeCalls)
	assert.Equal(t, []string{"refresh-0"}, m.RevokedTokens)
	assert.Equal(t, domain.ConsentRevoked, consent.Status)
	assert.NotEqual(t, before.Etag, consent.Etag)

	_, err = h.tokens.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevoke_AdapterFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	before := h.seedConsent(t, "c1", domain.ProviderVisma, time.Hour)
	h.adapters[domain.ProviderVisma].RevokeFn = func(string) error {
		return domain.Upstreamf("revocation endpoint returned 500")
	}

	consent, err := h.tokenManager.Revoke(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, 1, h.adapters[domain.ProviderVisma].RevokeCalls)
	assert.Equal(t, domain.ConsentRevoked, consent.Status)
	assert.NotEqual(t, before.Etag, consent.Etag)

	_, err = h.tokens.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevoke_UnsupportedVariantSkipsUpstream(t *testing.T) {
	h := newHarness(t)
	h.seedConsent(t, "c1", domain.ProviderBokio, 0)

	consent, err := h.tokenManager.Revoke(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentRevoked, consent.Status)
	assert.Equal(t, 0, h.adapters[domain.ProviderBokio].RevokeCalls)
}

func TestStoreExchange_AcceptsConsent(t *testing.T) {
	h := newHarness(t)
	c := domain.NewConsent(testTenant, "Acme AB", nil)
	require.NoError(t, h.consents.Create(context.Background(), c))

	updated, err := h.tokenManager.StoreExchange(context.Background(), c, domain.ProviderBriox,
		&domain.TokenResponse{AccessToken: "app", ExpiresIn: 3600})
	require.NoError(t, err)

	assert.Equal(t, domain.ConsentAccepted, updated.Status)
	assert.Equal(t, domain.ProviderBriox, updated.ProviderType())
	assert.NotEqual(t, c.Etag, updated.Etag)

	tok, err := h.tokens.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Nil(t, tok.ExpiresAt, "application tokens do not expire")
}
