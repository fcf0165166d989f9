package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.ResourceFetcher = (*MockFetcher)(nil)

// MockFetcher returns Counts[rt] generated records per resource type, or
// Errors[rt] when set. FetchFn overrides both.
type MockFetcher struct {
	mu     sync.Mutex
	Counts map[domain.ResourceType]int
	Errors map[domain.ResourceType]error
	Calls  map[domain.ResourceType]int

	// Tokens records the access token seen per call, in order
	Tokens []string

	FetchFn func(ctx context.Context, rt domain.ResourceType, token *domain.ConsentToken) (*driven.FetchResult, error)
}

// NewMockFetcher creates a fetcher with the given per-type record counts
func NewMockFetcher(counts map[domain.ResourceType]int) *MockFetcher {
	return &MockFetcher{
		Counts: counts,
		Errors: map[domain.ResourceType]error{},
		Calls:  map[domain.ResourceType]int{},
	}
}

func (m *MockFetcher) Fetch(ctx context.Context, rt domain.ResourceType, token *domain.ConsentToken, cfg driven.ProviderConfig) (*driven.FetchResult, error) {
	m.mu.Lock()
	m.Calls[rt]++
	m.Tokens = append(m.Tokens, token.AccessToken)
	fn := m.FetchFn
	err := m.Errors[rt]
	n := m.Counts[rt]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, rt, token)
	}
	if err != nil {
		return nil, err
	}

	records := make([]*domain.Record, n)
	for i := range records {
		records[i] = &domain.Record{
			ConsentID:    cfg.ConsentID,
			ResourceType: rt,
			ExternalID:   fmt.Sprintf("%s-%d", rt, i+1),
			Data:         []byte("{}"),
			SyncedAt:     time.Now(),
		}
	}
	return &driven.FetchResult{Records: records, RecordsSynced: n}, nil
}

// CallCount returns how often rt was fetched
func (m *MockFetcher) CallCount(rt domain.ResourceType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[rt]
}
