package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
)

// Ensure consentService implements the interface
var _ driving.ConsentService = (*consentService)(nil)

// ConsentServiceConfig holds dependencies for the consent service.
type ConsentServiceConfig struct {
	Consents  driven.ConsentStore
	Tenants   driven.TenantStore // Optional: plan limits are skipped without it
	Tokens    driven.TokenStore
	Codes     driven.OneTimeCodeStore
	Settings  driven.ProviderSettingsStore
	SyncStore driven.SyncStateStore
	Steps     driven.StepStore
	Records   driven.RecordStore
	Manager   *TokenManager
	Logger    *slog.Logger

	CodeTTL time.Duration // default: domain.DefaultOneTimeCodeTTL
}

type consentService struct {
	consents  driven.ConsentStore
	tenants   driven.TenantStore
	tokens    driven.TokenStore
	codes     driven.OneTimeCodeStore
	settings  driven.ProviderSettingsStore
	syncStore driven.SyncStateStore
	steps     driven.StepStore
	records   driven.RecordStore
	manager   *TokenManager
	logger    *slog.Logger
	codeTTL   time.Duration
}

// NewConsentService creates a new consent service.
func NewConsentService(cfg ConsentServiceConfig) driving.ConsentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codeTTL := cfg.CodeTTL
	if codeTTL <= 0 {
		codeTTL = domain.DefaultOneTimeCodeTTL
	}
	return &consentService{
		consents:  cfg.Consents,
		tenants:   cfg.Tenants,
		tokens:    cfg.Tokens,
		codes:     cfg.Codes,
		settings:  cfg.Settings,
		syncStore: cfg.SyncStore,
		steps:     cfg.Steps,
		records:   cfg.Records,
		manager:   cfg.Manager,
		logger:    logger,
		codeTTL:   codeTTL,
	}
}

// Create stores a consent in the Created state.
func (s *consentService) Create(ctx context.Context, tenantID string, req driving.CreateConsentRequest) (*domain.Consent, error) {
	if req.Name == "" {
		return nil, domain.Validationf("name is required")
	}

	var provider *domain.ProviderType
	if req.Provider != nil && *req.Provider != "" {
		p, err := domain.ParseProviderType(*req.Provider)
		if err != nil {
			return nil, err
		}
		provider = &p
	}

	if err := s.checkPlanLimit(ctx, tenantID); err != nil {
		return nil, err
	}

	consent := domain.NewConsent(tenantID, req.Name, provider)
	consent.OrgNumber = req.OrgNumber
	consent.CompanyName = req.CompanyName

	if req.CompanyID != "" {
		if provider == nil {
			return nil, domain.Validationf("companyId requires a provider")
		}
		ps := &domain.ProviderSettings{
			ID:        uuid.NewString(),
			Provider:  *provider,
			CompanyID: req.CompanyID,
			CreatedAt: time.Now(),
		}
		if err := s.settings.Save(ctx, ps); err != nil {
			return nil, fmt.Errorf("%w: save provider settings: %v", domain.ErrInternal, err)
		}
		consent.ProviderSettingsID = ps.ID
	}

	if err := s.consents.Create(ctx, consent); err != nil {
		return nil, fmt.Errorf("create consent: %w", err)
	}
	s.logger.Info("consent created", "consent_id", consent.ID, "tenant_id", tenantID, "provider", consent.ProviderType())
	return consent, nil
}

func (s *consentService) checkPlanLimit(ctx context.Context, tenantID string) error {
	if s.tenants == nil {
		return nil
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: get tenant: %v", domain.ErrInternal, err)
	}
	if tenant.MaxConsents <= 0 {
		return nil
	}
	n, err := s.consents.CountForTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("%w: count consents: %v", domain.ErrInternal, err)
	}
	if n >= tenant.MaxConsents {
		return fmt.Errorf("%w: tenant allows %d consents", domain.ErrPlanLimit, tenant.MaxConsents)
	}
	return nil
}

// Get returns a consent owned by tenantID.
func (s *consentService) Get(ctx context.Context, tenantID, consentID string) (*domain.Consent, error) {
	consent, err := s.consents.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	if consent.TenantID != tenantID {
		return nil, fmt.Errorf("consent %s: %w", consentID, domain.ErrNotFound)
	}
	return consent, nil
}

func (s *consentService) List(ctx context.Context, tenantID string) ([]*domain.Consent, error) {
	consents, err := s.consents.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return consents, nil
}

// Update applies patch when etag is empty or current. Provider rebinding,
// manual acceptance and leaving Revoked are rejected.
func (s *consentService) Update(ctx context.Context, tenantID, consentID, etag string, patch domain.ConsentPatch) (*domain.Consent, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, tenantID, consentID)
	if err != nil {
		return nil, err
	}
	if err := patch.ValidateClientChange(current); err != nil {
		return nil, err
	}

	updated, err := s.consents.Update(ctx, consentID, etag, patch)
	if err != nil {
		return nil, fmt.Errorf("update consent: %w", err)
	}
	return updated, nil
}

// Delete revokes upstream best-effort, then removes everything the consent
// owns before the consent row itself.
func (s *consentService) Delete(ctx context.Context, tenantID, consentID string) error {
	consent, err := s.Get(ctx, tenantID, consentID)
	if err != nil {
		return err
	}

	if s.manager != nil {
		s.manager.RevokeUpstream(ctx, consent)
	}

	cascade := []struct {
		what string
		fn   func(context.Context, string) error
	}{
		{"token", s.tokens.Delete},
		{"one-time codes", s.codes.DeleteForConsent},
		{"sync states", s.syncStore.DeleteForConsent},
		{"records", s.records.DeleteForConsent},
	}
	if s.steps != nil {
		cascade = append(cascade, struct {
			what string
			fn   func(context.Context, string) error
		}{"step memos", s.steps.DeleteForConsent})
	}
	for _, c := range cascade {
		if err := c.fn(ctx, consentID); err != nil {
			return fmt.Errorf("%w: delete %s: %v", domain.ErrInternal, c.what, err)
		}
	}

	if consent.ProviderSettingsID != "" {
		if err := s.settings.Delete(ctx, consent.ProviderSettingsID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: delete provider settings: %v", domain.ErrInternal, err)
		}
	}

	if err := s.consents.Delete(ctx, consentID); err != nil {
		return fmt.Errorf("delete consent: %w", err)
	}
	s.logger.Info("consent deleted", "consent_id", consentID, "tenant_id", tenantID)
	return nil
}

// CreateOneTimeCode issues a single-use onboarding code for the consent.
func (s *consentService) CreateOneTimeCode(ctx context.Context, tenantID, consentID string) (*domain.OneTimeCode, error) {
	if _, err := s.Get(ctx, tenantID, consentID); err != nil {
		return nil, err
	}

	code, err := generateCode(24)
	if err != nil {
		return nil, fmt.Errorf("%w: generate code: %v", domain.ErrInternal, err)
	}
	now := time.Now()
	otc := &domain.OneTimeCode{
		Code:      code,
		ConsentID: consentID,
		ExpiresAt: now.Add(s.codeTTL),
		CreatedAt: now,
	}
	if err := s.codes.Create(ctx, otc); err != nil {
		return nil, fmt.Errorf("%w: save one-time code: %v", domain.ErrInternal, err)
	}
	return otc, nil
}

// generateCode returns n random bytes, URL-safe encoded.
func generateCode(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
