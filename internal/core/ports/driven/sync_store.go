package driven

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// SyncStateStore persists per (consent, resource type) progress and leases.
type SyncStateStore interface {
	// Get returns every state recorded for the consent
	Get(ctx context.Context, consentID string) ([]*domain.SyncState, error)

	// TrySetSyncing marks all requested pairs syncing under lease, or none.
	// Returns false when any pair is held by another live lease.
	TrySetSyncing(ctx context.Context, consentID string, types []domain.ResourceType, lease domain.Lease) (bool, error)

	// Complete records a successful step and releases the pair. The write
	// applies only while the pair is still the lease set by token; otherwise
	// it returns domain.ErrLeaseLost and leaves the row untouched.
	Complete(ctx context.Context, consentID string, rt domain.ResourceType, token string, recordsSynced int) error

	// Fail records a failed step and releases the pair, fenced like Complete
	Fail(ctx context.Context, consentID string, rt domain.ResourceType, token string, errText string) error

	// DeleteForConsent removes every state of the consent
	DeleteForConsent(ctx context.Context, consentID string) error
}

// StepStore memoizes durable step outcomes keyed by (consent, resource type, run).
type StepStore interface {
	Get(ctx context.Context, consentID string, rt domain.ResourceType, runID string) (*domain.StepMemo, error)
	Save(ctx context.Context, memo *domain.StepMemo) error
	DeleteForConsent(ctx context.Context, consentID string) error
}

// RecordStore keeps normalized records; writes are upserts on natural identity.
type RecordStore interface {
	Upsert(ctx context.Context, records []*domain.Record) error
	Count(ctx context.Context, consentID string, rt domain.ResourceType) (int, error)
	List(ctx context.Context, consentID string, rt domain.ResourceType, limit, offset int) ([]*domain.Record, error)
	DeleteForConsent(ctx context.Context, consentID string) error
}
