package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
)

// Ensure oauthService implements OAuthService
var _ driving.OAuthService = (*oauthService)(nil)

// DefaultStateTTL is how long an authorization state stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// OAuthServiceConfig holds configuration for the OAuth service.
type OAuthServiceConfig struct {
	Registry driven.ProviderRegistry
	Consents driven.ConsentStore
	Settings driven.ProviderSettingsStore

	// OAuthStateStore manages authorization flow state.
	OAuthStateStore driven.OAuthStateStore

	Manager *TokenManager
	Logger  *slog.Logger

	StateTTL time.Duration
}

// oauthService implements the OAuthService interface.
type oauthService struct {
	registry driven.ProviderRegistry
	consents driven.ConsentStore
	settings driven.ProviderSettingsStore
	states   driven.OAuthStateStore
	manager  *TokenManager
	logger   *slog.Logger
	stateTTL time.Duration
}

// NewOAuthService creates a new OAuth service.
func NewOAuthService(cfg OAuthServiceConfig) driving.OAuthService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &oauthService{
		registry: cfg.Registry,
		consents: cfg.Consents,
		settings: cfg.Settings,
		states:   cfg.OAuthStateStore,
		manager:  cfg.Manager,
		logger:   logger,
		stateTTL: ttl,
	}
}

// Providers describes every provider in catalog order.
func (s *oauthService) Providers(ctx context.Context) []domain.ProviderDescription {
	all := domain.AllProviders()
	out := make([]domain.ProviderDescription, 0, len(all))
	for _, p := range all {
		out = append(out, domain.ProviderDescription{
			ProviderInfo: p.Info(),
			Capabilities: s.registry.Describe(p),
		})
	}
	return out
}

// AuthorizationURL issues a single-use state and builds the provider URL.
func (s *oauthService) AuthorizationURL(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	provider, err := domain.ParseProviderType(req.Provider)
	if err != nil {
		return nil, err
	}
	builder, err := s.registry.AuthURLBuilder(provider)
	if err != nil {
		return nil, err
	}
	consent, err := s.consentFor(ctx, req.TenantID, req.ConsentID, provider)
	if err != nil {
		return nil, err
	}

	state := &domain.OAuthState{
		State:     uuid.NewString(),
		ConsentID: consent.ID,
		TenantID:  consent.TenantID,
		Provider:  provider,
		ExpiresAt: time.Now().Add(s.stateTTL),
	}
	url, err := builder.AuthorizationURL(state.State)
	if err != nil {
		return nil, err
	}
	if err := s.states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("%w: save oauth state: %v", domain.ErrInternal, err)
	}

	return &driving.AuthorizeResponse{
		AuthorizationURL: url,
		State:            state.State,
		ExpiresAt:        state.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Exchange obtains a token through the provider's variant and accepts the consent.
func (s *oauthService) Exchange(ctx context.Context, req driving.ExchangeRequest) (*domain.Consent, error) {
	provider, err := domain.ParseProviderType(req.Provider)
	if err != nil {
		return nil, err
	}
	exchanger, err := s.registry.Exchanger(provider)
	if err != nil {
		return nil, err
	}
	if err := validateExchangeInput(provider, req.ExchangeInput); err != nil {
		return nil, err
	}
	consent, err := s.consentFor(ctx, req.TenantID, req.ConsentID, provider)
	if err != nil {
		return nil, err
	}

	if provider.Variant() == domain.GrantAuthorizationCode {
		if err := s.consumeState(ctx, req.State, consent, provider); err != nil {
			return nil, err
		}
	}

	cfg := s.manager.ProviderConfig(ctx, consent)
	cfg.Provider = provider
	if req.CompanyID != "" {
		cfg.CompanyID = req.CompanyID
	}

	resp, err := exchanger.Exchange(ctx, req.ExchangeInput, cfg)
	if err != nil {
		s.logger.Warn("token exchange failed", "consent_id", consent.ID, "provider", provider, "error", err)
		return nil, fmt.Errorf("exchange: %w", err)
	}

	if req.CompanyID != "" {
		consent, err = s.linkCompany(ctx, consent, provider, req.CompanyID)
		if err != nil {
			return nil, err
		}
	}

	accepted, err := s.manager.StoreExchange(ctx, consent, provider, resp)
	if err != nil {
		return nil, err
	}
	s.logger.Info("consent accepted", "consent_id", consent.ID, "provider", provider)
	return accepted, nil
}

// Refresh forces a refresh. Variants without refresh fail before any lookup.
func (s *oauthService) Refresh(ctx context.Context, req driving.TokenRequest) error {
	provider, err := domain.ParseProviderType(req.Provider)
	if err != nil {
		return err
	}
	if _, err := s.registry.Refresher(provider); err != nil {
		return err
	}
	consent, err := s.consentFor(ctx, req.TenantID, req.ConsentID, provider)
	if err != nil {
		return err
	}
	if consent.Provider == nil {
		return domain.Validationf("consent %s has no token", consent.ID)
	}
	_, err = s.manager.ForceRefresh(ctx, consent.ID)
	return err
}

// Revoke revokes upstream best-effort and marks the consent Revoked.
func (s *oauthService) Revoke(ctx context.Context, req driving.TokenRequest) (*domain.Consent, error) {
	provider, err := domain.ParseProviderType(req.Provider)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.Revoker(provider); err != nil {
		return nil, err
	}
	consent, err := s.consentFor(ctx, req.TenantID, req.ConsentID, provider)
	if err != nil {
		return nil, err
	}
	return s.manager.Revoke(ctx, consent.ID)
}

// consentFor loads a consent owned by tenantID that is unbound or bound to provider.
func (s *oauthService) consentFor(ctx context.Context, tenantID, consentID string, provider domain.ProviderType) (*domain.Consent, error) {
	if consentID == "" {
		return nil, domain.Validationf("consentId is required")
	}
	consent, err := s.consents.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	if consent.TenantID != tenantID {
		return nil, fmt.Errorf("consent %s: %w", consentID, domain.ErrNotFound)
	}
	if consent.Provider != nil && *consent.Provider != provider {
		return nil, domain.Validationf("consent %s is bound to %s, not %s", consentID, *consent.Provider, provider)
	}
	return consent, nil
}

func (s *oauthService) consumeState(ctx context.Context, raw string, consent *domain.Consent, provider domain.ProviderType) error {
	if raw == "" {
		return domain.Validationf("state is required")
	}
	st, err := s.states.GetAndDelete(ctx, raw)
	if err != nil {
		return fmt.Errorf("%w: read oauth state: %v", domain.ErrInternal, err)
	}
	if st == nil {
		return domain.Validationf("invalid or expired state")
	}
	if st.ConsentID != consent.ID || st.TenantID != consent.TenantID || st.Provider != provider {
		return domain.Validationf("state was issued for a different consent")
	}
	return nil
}

// linkCompany stores the company id in provider settings and links them.
func (s *oauthService) linkCompany(ctx context.Context, consent *domain.Consent, provider domain.ProviderType, companyID string) (*domain.Consent, error) {
	var ps *domain.ProviderSettings
	if consent.ProviderSettingsID != "" {
		existing, err := s.settings.Get(ctx, consent.ProviderSettingsID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: get provider settings: %v", domain.ErrInternal, err)
		}
		ps = existing
	}
	if ps == nil {
		ps = &domain.ProviderSettings{ID: uuid.NewString(), Provider: provider, CreatedAt: time.Now()}
	}
	ps.CompanyID = companyID
	if err := s.settings.Save(ctx, ps); err != nil {
		return nil, fmt.Errorf("%w: save provider settings: %v", domain.ErrInternal, err)
	}
	if consent.ProviderSettingsID == ps.ID {
		return consent, nil
	}
	updated, err := s.consents.Update(ctx, consent.ID, "", domain.ConsentPatch{ProviderSettingsID: &ps.ID})
	if err != nil {
		return nil, fmt.Errorf("link provider settings: %w", err)
	}
	return updated, nil
}

func validateExchangeInput(p domain.ProviderType, in domain.ExchangeInput) error {
	switch p.Variant() {
	case domain.GrantAuthorizationCode:
		if in.Code == "" {
			return domain.Validationf("code is required")
		}
	case domain.GrantApplicationToken:
		if in.ApplicationToken == "" {
			return domain.Validationf("applicationToken is required")
		}
	case domain.GrantPrivateToken:
		if in.APIToken == "" || in.CompanyID == "" {
			return domain.Validationf("apiToken and companyId are required")
		}
	}
	return nil
}
