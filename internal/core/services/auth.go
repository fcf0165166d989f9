package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// authService resolves credentials to tenant identities
type authService struct {
	tenants     driven.TenantStore
	apiKeys     driven.APIKeyStore
	consents    driven.ConsentStore
	codes       driven.OneTimeCodeStore
	authAdapter driven.AuthAdapter
	onboardTTL  time.Duration
	logger      *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	tenants driven.TenantStore,
	apiKeys driven.APIKeyStore,
	consents driven.ConsentStore,
	codes driven.OneTimeCodeStore,
	authAdapter driven.AuthAdapter,
) driving.AuthService {
	return &authService{
		tenants:     tenants,
		apiKeys:     apiKeys,
		consents:    consents,
		codes:       codes,
		authAdapter: authAdapter,
		onboardTTL:  time.Hour,
		logger:      slog.Default(),
	}
}

// Authenticate tries, in order: a registry API key, a session token, the
// tenant's legacy key.
func (s *authService) Authenticate(ctx context.Context, credential string) (*domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, domain.ErrUnauthorized
	}

	if strings.HasPrefix(credential, domain.APIKeyPrefix) {
		return s.authenticateAPIKey(ctx, credential)
	}
	if claims, err := s.authAdapter.ParseToken(credential); err == nil {
		return s.authenticateSession(ctx, claims)
	}
	return s.authenticateLegacy(ctx, credential)
}

func (s *authService) authenticateAPIKey(ctx context.Context, credential string) (*domain.Identity, error) {
	keyID, secret, ok := strings.Cut(strings.TrimPrefix(credential, domain.APIKeyPrefix), ".")
	if !ok || keyID == "" || secret == "" {
		// legacy keys may share the prefix
		return s.authenticateLegacy(ctx, credential)
	}

	key, err := s.apiKeys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.authenticateLegacy(ctx, credential)
		}
		return nil, fmt.Errorf("%w: get api key: %v", domain.ErrInternal, err)
	}
	if key.IsRevoked() || !s.authAdapter.VerifySecret(secret, key.Hash) {
		return nil, domain.ErrUnauthorized
	}

	tenant, err := s.tenants.Get(ctx, key.TenantID)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	if err := s.apiKeys.TouchLastUsed(ctx, key.ID); err != nil {
		s.logger.Warn("failed to record api key use", "key_id", key.ID, "tenant_id", key.TenantID, "error", err)
	}

	return &domain.Identity{TenantID: tenant.ID, Tenant: tenant, Kind: domain.CredentialAPIKey}, nil
}

func (s *authService) authenticateLegacy(ctx context.Context, credential string) (*domain.Identity, error) {
	tenant, err := s.tenants.GetByLegacyKeyHash(ctx, s.authAdapter.LegacyDigest(credential))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: get tenant: %v", domain.ErrInternal, err)
	}
	return &domain.Identity{TenantID: tenant.ID, Tenant: tenant, Kind: domain.CredentialLegacyKey}, nil
}

func (s *authService) authenticateSession(ctx context.Context, claims *domain.SessionClaims) (*domain.Identity, error) {
	if claims.TenantID == "" || claims.ExpiresAt < time.Now().Unix() {
		return nil, domain.ErrUnauthorized
	}

	id := &domain.Identity{TenantID: claims.TenantID, Kind: claims.Kind}
	if claims.Kind == domain.CredentialOnboarding {
		if claims.ConsentID == "" {
			return nil, domain.ErrUnauthorized
		}
		id.ConsentScope = claims.ConsentID
	}
	if tenant, err := s.tenants.Get(ctx, claims.TenantID); err == nil {
		id.Tenant = tenant
	}
	return id, nil
}

// RedeemOneTimeCode consumes the code and issues a session scoped to its consent
func (s *authService) RedeemOneTimeCode(ctx context.Context, code string) (*domain.SessionToken, error) {
	if code == "" {
		return nil, domain.Validationf("code is required")
	}
	otc, err := s.codes.Consume(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: consume code: %v", domain.ErrInternal, err)
	}

	consent, err := s.consents.Get(ctx, otc.ConsentID)
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(s.onboardTTL)
	token, err := s.authAdapter.GenerateToken(&domain.SessionClaims{
		TenantID:  consent.TenantID,
		ConsentID: consent.ID,
		Kind:      domain.CredentialOnboarding,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sign session: %v", domain.ErrInternal, err)
	}
	return &domain.SessionToken{Token: token, ExpiresAt: expiresAt, ConsentID: consent.ID}, nil
}

// IssueAPIKey stores a hashed key and returns the plaintext form once
func (s *authService) IssueAPIKey(ctx context.Context, tenantID, name string) (string, *domain.APIKey, error) {
	if name == "" {
		return "", nil, domain.Validationf("name is required")
	}
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return "", nil, fmt.Errorf("get tenant: %w", err)
	}

	secret := generateSecret()
	hash, err := s.authAdapter.HashSecret(secret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: hash secret: %v", domain.ErrInternal, err)
	}
	key := &domain.APIKey{
		ID:        domain.GenerateID(),
		TenantID:  tenantID,
		Name:      name,
		Hash:      hash,
		CreatedAt: time.Now(),
	}
	if err := s.apiKeys.Save(ctx, key); err != nil {
		return "", nil, fmt.Errorf("%w: save api key: %v", domain.ErrInternal, err)
	}
	return domain.APIKeyPrefix + key.ID + "." + secret, key, nil
}

// RevokeAPIKey revokes a key owned by tenantID
func (s *authService) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	key, err := s.apiKeys.Get(ctx, keyID)
	if err != nil {
		return fmt.Errorf("get api key: %w", err)
	}
	if key.TenantID != tenantID {
		return fmt.Errorf("api key %s: %w", keyID, domain.ErrNotFound)
	}
	return s.apiKeys.Revoke(ctx, keyID)
}

// generateSecret creates the random part of an API key
func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
