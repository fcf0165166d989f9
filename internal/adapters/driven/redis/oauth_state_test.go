package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

func newState(id string, ttl time.Duration) *domain.OAuthState {
	return &domain.OAuthState{
		State:     id,
		ConsentID: "consent-1",
		TenantID:  "tenant-1",
		Provider:  domain.ProviderFortnox,
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestOAuthStateStore_SingleUse(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewOAuthStateStore(client)
	ctx := context.Background()

	if err := store.Save(ctx, newState("s1", 10*time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetAndDelete(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ConsentID != "consent-1" || got.Provider != domain.ProviderFortnox {
		t.Fatalf("unexpected state: %+v", got)
	}

	again, err := store.GetAndDelete(ctx, "s1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again != nil {
		t.Error("expected state to be consumed")
	}
}

func TestOAuthStateStore_Expiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewOAuthStateStore(client)
	ctx := context.Background()

	if err := store.Save(ctx, newState("expired", -time.Second)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if mr.Exists(statePrefix + "expired") {
		t.Error("expired state should not be written")
	}

	if err := store.Save(ctx, newState("short", time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := store.GetAndDelete(ctx, "short")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected state past its TTL to be gone")
	}
}

func TestOAuthStateStore_Unknown(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewOAuthStateStore(client)

	got, err := store.GetAndDelete(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("expected nil, nil; got %v, %v", got, err)
	}
	if err := store.Cleanup(context.Background()); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}
