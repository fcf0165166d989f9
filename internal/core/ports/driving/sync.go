package driving

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// SyncOrchestrator coordinates resource synchronization for consents
type SyncOrchestrator interface {
	// Sync runs one cycle inline and returns the aggregate result
	Sync(ctx context.Context, req SyncRequest) (*domain.SyncResult, error)

	// Enqueue acquires the leases and hands the run to the background runner
	Enqueue(ctx context.Context, req SyncRequest) (*domain.SyncRun, error)

	// ResumeRun re-enters a run, skipping steps already memoized as completed
	ResumeRun(ctx context.Context, req SyncRequest, runID string) (*domain.SyncResult, error)

	// Status reports per-type states plus the overall status
	Status(ctx context.Context, consentID, tenantID string) (*domain.SyncStatusReport, error)

	// SyncAllAccepted enqueues a run for every accepted consent
	SyncAllAccepted(ctx context.Context) (int, error)

	// Records pages through the records synced for one resource type
	Records(ctx context.Context, q RecordsQuery) (*domain.RecordPage, error)
}

// RecordsQuery selects a page of synced records. Zero Limit selects
// domain.DefaultRecordPageSize.
type RecordsQuery struct {
	ConsentID    string
	TenantID     string
	ResourceType string
	Limit        int
	Offset       int
}

// SyncRequest identifies what to sync.
// @Description Request to sync resources of a consent
type SyncRequest struct {
	ConsentID     string   `json:"-"`
	TenantID      string   `json:"-"`
	ResourceTypes []string `json:"resourceTypes,omitempty" example:"invoices,accounts"`
	Async         bool     `json:"async,omitempty"`
}

// Scheduler manages periodic sync scheduling
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}
