package services

import (
	"context"
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/memory"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven/mocks"
)

const testTenant = "tenant-1"

// harness wires the services over memory stores and mock adapters.
type harness struct {
	consents  *memory.ConsentStore
	tokens    *memory.TokenStore
	codes     *memory.OneTimeCodeStore
	settings  *memory.ProviderSettingsStore
	syncStore *memory.SyncStateStore
	records   *memory.RecordStore
	steps     *memory.StepStore
	states    *memory.OAuthStateStore
	tenants   *memory.TenantStore
	apiKeys   *memory.APIKeyStore
	queue     *memory.Queue
	lock      *memory.Lock

	adapters map[domain.ProviderType]*mocks.MockOAuthAdapter
	registry *providers.Registry
	fetcher  *mocks.MockFetcher

	tokenManager *TokenManager
	orchestrator *SyncOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		consents:  memory.NewConsentStore(),
		tokens:    memory.NewTokenStore(),
		codes:     memory.NewOneTimeCodeStore(),
		settings:  memory.NewProviderSettingsStore(),
		syncStore: memory.NewSyncStateStore(),
		records:   memory.NewRecordStore(),
		steps:     memory.NewStepStore(),
		states:    memory.NewOAuthStateStore(),
		tenants:   memory.NewTenantStore(),
		apiKeys:   memory.NewAPIKeyStore(),
		queue:     memory.NewQueue(),
		lock:      memory.NewLock("test", gocache.New(gocache.NoExpiration, time.Minute)),
		adapters:  map[domain.ProviderType]*mocks.MockOAuthAdapter{},
		fetcher:   mocks.NewMockFetcher(map[domain.ResourceType]int{}),
	}
	t.Cleanup(func() { _ = h.queue.Close() })

	for _, p := range domain.AllProviders() {
		h.adapters[p] = mocks.NewMockOAuthAdapter(p)
	}
	registry, err := providers.NewRegistry(providers.Adapters{
		Fortnox:     h.adapters[domain.ProviderFortnox],
		Visma:       h.adapters[domain.ProviderVisma],
		Briox:       h.adapters[domain.ProviderBriox],
		Bokio:       mocks.ExchangeOnly{M: h.adapters[domain.ProviderBokio]},
		BjornLunden: mocks.ExchangeRefresh{M: h.adapters[domain.ProviderBjornLunden]},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h.registry = registry

	h.tokenManager = NewTokenManager(TokenManagerConfig{
		Tokens:   h.tokens,
		Consents: h.consents,
		Settings: h.settings,
		Registry: h.registry,
		Lock:     h.lock,
	})
	h.orchestrator = NewSyncOrchestrator(SyncOrchestratorConfig{
		Consents:  h.consents,
		SyncStore: h.syncStore,
		Records:   h.records,
		Steps:     h.steps,
		Fetcher:   h.fetcher,
		Tokens:    h.tokenManager,
		Queue:     h.queue,
	})
	return h
}

// seedConsent stores an accepted consent for provider with a token expiring
// in expiresIn. Zero expiresIn stores a non-expiring token.
func (h *harness) seedConsent(t *testing.T, id string, provider domain.ProviderType, expiresIn time.Duration) *domain.Consent {
	t.Helper()
	ctx := context.Background()

	c := domain.NewConsent(testTenant, "Acme AB", &provider)
	c.ID = id
	c.Status = domain.ConsentAccepted
	if err := h.consents.Create(ctx, c); err != nil {
		t.Fatalf("create consent: %v", err)
	}

	tok := &domain.ConsentToken{
		ConsentID:    id,
		Provider:     provider,
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		TokenType:    "Bearer",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if expiresIn != 0 {
		exp := time.Now().Add(expiresIn)
		tok.ExpiresAt = &exp
	}
	if err := h.tokens.Save(ctx, tok); err != nil {
		t.Fatalf("save token: %v", err)
	}
	return c
}
