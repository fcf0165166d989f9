package memory

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

// OAuthStateStore keeps authorization states in a TTL cache.
type OAuthStateStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewOAuthStateStore creates a store whose janitor runs every minute
func NewOAuthStateStore() *OAuthStateStore {
	return &OAuthStateStore{cache: gocache.New(10*time.Minute, time.Minute)}
}

func (s *OAuthStateStore) Save(ctx context.Context, state *domain.OAuthState) error {
	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(state.State, *state, ttl)
	return nil
}

func (s *OAuthStateStore) GetAndDelete(ctx context.Context, state string) (*domain.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(state)
	if !ok {
		return nil, nil
	}
	s.cache.Delete(state)
	st := v.(domain.OAuthState)
	if st.IsExpired() {
		return nil, nil
	}
	return &st, nil
}

func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	s.cache.DeleteExpired()
	return nil
}
