package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/metrics"
)

// TokenManager keeps consent tokens usable. Refresh of one (consent, provider)
// pair is serialized in-process by singleflight and across processes by the
// distributed lock, because providers may rotate refresh tokens on use.
type TokenManager struct {
	tokens   driven.TokenStore
	consents driven.ConsentStore
	settings driven.ProviderSettingsStore
	registry driven.ProviderRegistry
	lock     driven.DistributedLock
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	group    singleflight.Group
	skew     time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

// TokenManagerConfig holds dependencies for TokenManager.
type TokenManagerConfig struct {
	Tokens   driven.TokenStore
	Consents driven.ConsentStore
	Settings driven.ProviderSettingsStore // Optional
	Registry driven.ProviderRegistry
	Lock     driven.DistributedLock // Optional: cross-instance refresh serialization
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	RefreshSkew time.Duration // default: 60s
	LockTTL     time.Duration // default: 30s
	LockWait    time.Duration // how long to wait for another refresher (default: 10s)
	Now         func() time.Time
}

// NewTokenManager creates a token manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &TokenManager{
		tokens:   cfg.Tokens,
		consents: cfg.Consents,
		settings: cfg.Settings,
		registry: cfg.Registry,
		lock:     cfg.Lock,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer("unified-se/tokens"),
		logger:   logger,
		skew:     cfg.RefreshSkew,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
		now:      cfg.Now,
	}
	if m.skew == 0 {
		m.skew = domain.DefaultRefreshSkew
	}
	if m.lockTTL == 0 {
		m.lockTTL = 30 * time.Second
	}
	if m.lockWait == 0 {
		m.lockWait = 10 * time.Second
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// EnsureValidToken returns a token safe to use for at least the refresh skew.
func (m *TokenManager) EnsureValidToken(ctx context.Context, consentID string) (*domain.ConsentToken, error) {
	consent, err := m.consents.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	provider, err := boundProvider(consent)
	if err != nil {
		return nil, err
	}

	tok, err := m.tokens.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("get token for consent %s: %w", consentID, err)
	}
	if !provider.Variant().HasExpiry() || !tok.NeedsRefresh(m.now(), m.skew) {
		return tok, nil
	}
	return m.refresh(ctx, consent, provider, false)
}

// ForceRefresh refreshes regardless of expiry. Variants without refresh fail
// with domain.ErrUnsupportedOperation before any network call.
func (m *TokenManager) ForceRefresh(ctx context.Context, consentID string) (*domain.ConsentToken, error) {
	consent, err := m.consents.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	provider, err := boundProvider(consent)
	if err != nil {
		return nil, err
	}
	if _, err := m.registry.Refresher(provider); err != nil {
		return nil, err
	}
	return m.refresh(ctx, consent, provider, true)
}

// refresh runs one refresh per key. The shared call is detached from the
// caller that started it and bounded by the lock wait plus the lock TTL, so
// cancelling one caller never fails the callers joined to it.
func (m *TokenManager) refresh(ctx context.Context, consent *domain.Consent, provider domain.ProviderType, force bool) (*domain.ConsentToken, error) {
	key := consent.ID + ":" + string(provider)
	ch := m.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lockWait+m.lockTTL)
		defer cancel()
		return m.refreshLocked(rctx, consent, provider, key, force)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		m.logger.Debug("joined in-flight token refresh", "consent_id", consent.ID)
	}
	tok := *res.Val.(*domain.ConsentToken)
	return &tok, nil
}

func (m *TokenManager) refreshLocked(ctx context.Context, consent *domain.Consent, provider domain.ProviderType, key string, force bool) (*domain.ConsentToken, error) {
	ctx, span := m.tracer.Start(ctx, "token.refresh", trace.WithAttributes(
		attribute.String("consent_id", consent.ID),
		attribute.String("provider", string(provider)),
	))
	defer span.End()

	refresher, err := m.registry.Refresher(provider)
	if err != nil {
		return nil, err
	}

	if m.lock != nil {
		tok, release, err := m.acquireRefreshLock(ctx, consent.ID, "token-refresh:"+key, force)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if tok != nil {
			// another instance refreshed while we waited
			return tok, nil
		}
		defer release()
	}

	// Re-read under the lock so a stale refresh token is never redeemed twice.
	tok, err := m.tokens.Get(ctx, consent.ID)
	if err != nil {
		return nil, fmt.Errorf("get token for consent %s: %w", consent.ID, err)
	}
	if !force && !tok.NeedsRefresh(m.now(), m.skew) {
		return tok, nil
	}

	resp, err := refresher.Refresh(ctx, tok, m.ProviderConfig(ctx, consent))
	if err != nil {
		m.metrics.IncrementTokenRefresh(string(provider), "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("token refresh failed", "consent_id", consent.ID, "provider", provider, "error", err)
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	tok.Apply(resp, m.now())
	if err := m.tokens.Save(ctx, tok); err != nil {
		return nil, fmt.Errorf("%w: persist refreshed token: %v", domain.ErrInternal, err)
	}
	m.metrics.IncrementTokenRefresh(string(provider), "ok")
	m.logger.Info("token refreshed", "consent_id", consent.ID, "provider", provider, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// acquireRefreshLock waits up to lockWait for the lock. When another holder
// leaves a fresh token behind it is returned instead of a release func.
func (m *TokenManager) acquireRefreshLock(ctx context.Context, consentID, name string, force bool) (*domain.ConsentToken, func(), error) {
	deadline := time.Now().Add(m.lockWait)
	for {
		ok, err := m.lock.Acquire(ctx, name, m.lockTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: acquire refresh lock: %v", domain.ErrInternal, err)
		}
		if ok {
			release := func() {
				if err := m.lock.Release(context.WithoutCancel(ctx), name); err != nil {
					m.logger.Warn("failed to release refresh lock", "lock", name, "error", err)
				}
			}
			return nil, release, nil
		}

		if !force {
			if tok, err := m.tokens.Get(ctx, consentID); err == nil && !tok.NeedsRefresh(m.now(), m.skew) {
				return tok, nil, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("%w: token refresh for consent %s is held by another instance", domain.ErrConflict, consentID)
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// StoreExchange persists a freshly exchanged token and accepts the consent.
func (m *TokenManager) StoreExchange(ctx context.Context, consent *domain.Consent, provider domain.ProviderType, resp *domain.TokenResponse) (*domain.Consent, error) {
	if !provider.Variant().HasExpiry() {
		resp.ExpiresIn = 0
	}
	tok := domain.NewConsentToken(consent.ID, provider, resp, m.now())
	if err := m.tokens.Save(ctx, tok); err != nil {
		return nil, fmt.Errorf("%w: save token: %v", domain.ErrInternal, err)
	}

	status := domain.ConsentAccepted
	patch := domain.ConsentPatch{Status: &status}
	if consent.Provider == nil {
		patch.Provider = &provider
	}
	updated, err := m.consents.Update(ctx, consent.ID, "", patch)
	if err != nil {
		return nil, fmt.Errorf("accept consent: %w", err)
	}
	return updated, nil
}

// Revoke revokes upstream best-effort, deletes the local token regardless and
// marks the consent Revoked with a new etag.
func (m *TokenManager) Revoke(ctx context.Context, consentID string) (*domain.Consent, error) {
	consent, err := m.consents.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}

	m.RevokeUpstream(ctx, consent)
	if err := m.tokens.Delete(ctx, consentID); err != nil {
		return nil, fmt.Errorf("%w: delete token: %v", domain.ErrInternal, err)
	}

	updated, err := m.consents.Update(ctx, consentID, "", domain.StatusPatch(domain.ConsentRevoked))
	if err != nil {
		return nil, fmt.Errorf("mark consent revoked: %w", err)
	}
	m.logger.Info("consent revoked", "consent_id", consentID)
	return updated, nil
}

// RevokeUpstream calls the provider's revoke when the consent has a token and
// the variant supports it. Failures are logged, never returned.
func (m *TokenManager) RevokeUpstream(ctx context.Context, consent *domain.Consent) {
	provider := consent.ProviderType()
	if provider == "" {
		return
	}
	tok, err := m.tokens.Get(ctx, consent.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("read token before revoke", "consent_id", consent.ID, "error", err)
		}
		return
	}
	revoker, err := m.registry.Revoker(provider)
	if err != nil {
		m.logger.Debug("provider has no upstream revoke", "consent_id", consent.ID, "provider", provider)
		return
	}

	credential := tok.RefreshToken
	if credential == "" {
		credential = tok.AccessToken
	}
	if err := revoker.Revoke(ctx, credential, m.ProviderConfig(ctx, consent)); err != nil {
		m.metrics.IncrementRevocation(string(provider), "failed")
		m.logger.Warn("upstream revoke failed, continuing", "consent_id", consent.ID, "provider", provider, "error", err)
		return
	}
	m.metrics.IncrementRevocation(string(provider), "ok")
}

// ProviderConfig builds the adapter context for a consent.
func (m *TokenManager) ProviderConfig(ctx context.Context, consent *domain.Consent) driven.ProviderConfig {
	cfg := driven.ProviderConfig{
		Provider:  consent.ProviderType(),
		ConsentID: consent.ID,
	}
	if m.settings == nil || consent.ProviderSettingsID == "" {
		return cfg
	}
	ps, err := m.settings.Get(ctx, consent.ProviderSettingsID)
	if err != nil {
		m.logger.Warn("provider settings unavailable", "consent_id", consent.ID, "settings_id", consent.ProviderSettingsID, "error", err)
		return cfg
	}
	cfg.CompanyID = ps.CompanyID
	cfg.BaseURL = ps.BaseURL
	return cfg
}

func boundProvider(c *domain.Consent) (domain.ProviderType, error) {
	p := c.ProviderType()
	if p == "" {
		return "", domain.Validationf("consent %s has no provider", c.ID)
	}
	return domain.ParseProviderType(string(p))
}
