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

func newTestConsentService(h *harness) driving.ConsentService {
	return NewConsentService(ConsentServiceConfig{
		Consents:  h.consents,
		Tenants:   h.tenants,
		Tokens:    h.tokens,
		Codes:     h.codes,
		Settings:  h.settings,
		SyncStore: h.syncStore,
		Steps:     h.steps,
		Records:   h.records,
		Manager:   h.tokenManager,
	})
}

func strPtr(s string) *string { return &s }

func TestConsent_Create(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)

	c, err := svc.Create(context.Background(), testTenant, driving.CreateConsentRequest{
		Name: "Acme AB", Provider: strPtr("Fortnox"), OrgNumber: "556677-8899",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentCreated, c.Status)
	assert.Equal(t, domain.ProviderFortnox, c.ProviderType())
	assert.NotEmpty(t, c.Etag)

	list, err := svc.List(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConsent_CreateValidation(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)

	tests := []struct {
		name string
		req  driving.CreateConsentRequest
	}{
		{"no name", driving.CreateConsentRequest{}},
		{"unknown provider", driving.CreateConsentRequest{Name: "x", Provider: strPtr("sage")}},
		{"company without provider", driving.CreateConsentRequest{Name: "x", CompanyID: "42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), testTenant, tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestConsent_CreateWithCompanyStoresSettings(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)

	c, err := svc.Create(context.Background(), testTenant, driving.CreateConsentRequest{
		Name: "Acme AB", Provider: strPtr("bjornlunden"), CompanyID: "bl-1",
	})
	require.NoError(t, err)
	ps, err := h.settings.Get(context.Background(), c.ProviderSettingsID)
	require.NoError(t, err)
	assert.Equal(t, "bl-1", ps.CompanyID)

	// the company id reaches provider calls
	cfg := h.tokenManager.ProviderConfig(context.Background(), c)
	assert.Equal(t, "bl-1", cfg.CompanyID)
}

func TestConsent_PlanLimit(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	require.NoError(t, h.tenants.Save(context.Background(), &domain.Tenant{ID: testTenant, MaxConsents: 1}))

	_, err := svc.Create(context.Background(), testTenant, driving.CreateConsentRequest{Name: "one"})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), testTenant, driving.CreateConsentRequest{Name: "two"})
	assert.ErrorIs(t, err, domain.ErrPlanLimit)
}

func TestConsent_GetOtherTenant(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	_, err := svc.Get(context.Background(), "tenant-2", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsent_UpdateEtag(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	ctx := context.Background()
	original := h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	updated, err := svc.Update(ctx, testTenant, "c1", original.Etag, domain.ConsentPatch{Name: strPtr("Renamed AB")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed AB", updated.Name)
	assert.NotEqual(t, original.Etag, updated.Etag)

	// the original etag is now stale
	_, err = svc.Update(ctx, testTenant, "c1", original.Etag, domain.ConsentPatch{Name: strPtr("Lost AB")})
	var mismatch *domain.EtagMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := svc.Get(ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestConsent_UpdateValidation(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	bad := domain.ConsentStatus("Paused")
	_, err := svc.Update(context.Background(), testTenant, "c1", "", domain.ConsentPatch{Status: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConsent_UpdateRejectsRebindAndResurrection(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	ctx := context.Background()
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	visma := domain.ProviderVisma
	_, err := svc.Update(ctx, testTenant, "c1", "", domain.ConsentPatch{Provider: &visma})
	assert.ErrorIs(t, err, domain.ErrValidation)

	revoked := domain.ConsentRevoked
	_, err = svc.Update(ctx, testTenant, "c1", "", domain.ConsentPatch{Status: &revoked})
	require.NoError(t, err)

	accepted := domain.ConsentAccepted
	_, err = svc.Update(ctx, testTenant, "c1", "", domain.ConsentPatch{Status: &accepted})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := h.consents.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentRevoked, stored.Status)
	assert.Equal(t, domain.ProviderFortnox, *stored.Provider)
}

func TestConsent_DeleteCascades(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	orchestrator := h.orchestrator
	ctx := context.Background()
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)
	h.fetcher.Counts[domain.ResourceInvoices] = 3

	_, err := orchestrator.Sync(ctx, driving.SyncRequest{ConsentID: "c1", TenantID: testTenant, ResourceTypes: []string{"invoices"}})
	require.NoError(t, err)
	_, err = svc.CreateOneTimeCode(ctx, testTenant, "c1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, testTenant, "c1"))

	_, err = h.consents.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.tokens.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	states, err := h.syncStore.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, states)
	n, err := h.records.Count(ctx, "c1", domain.ResourceInvoices)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, _, revokes := h.adapters[domain.ProviderFortnox].Counts()
	assert.Equal(t, 1, revokes)
}

func TestConsent_DeleteSurvivesRevokeFailure(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)
	h.adapters[domain.ProviderFortnox].RevokeFn = func(string) error {
		return domain.Upstreamf("revoke endpoint down")
	}

	require.NoError(t, svc.Delete(context.Background(), testTenant, "c1"))
	_, err := h.consents.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsent_OneTimeCode(t *testing.T) {
	h := newHarness(t)
	svc := newTestConsentService(h)
	ctx := context.Background()
	h.seedConsent(t, "c1", domain.ProviderFortnox, time.Hour)

	code, err := svc.CreateOneTimeCode(ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.WithinDuration(t, time.Now().Add(domain.DefaultOneTimeCodeTTL), code.ExpiresAt, time.Minute)

	_, err = svc.CreateOneTimeCode(ctx, "tenant-2", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
