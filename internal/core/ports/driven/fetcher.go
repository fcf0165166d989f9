package driven

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// ResourceFetcher pulls and normalizes one resource type from a provider.
type ResourceFetcher interface {
	Fetch(ctx context.Context, rt domain.ResourceType, token *domain.ConsentToken, cfg ProviderConfig) (*FetchResult, error)
}

// FetchResult is what a fetch produced for one resource type
type FetchResult struct {
	Records       []*domain.Record
	RecordsSynced int
}
