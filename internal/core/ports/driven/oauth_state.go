package driven

import (
	"context"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// OAuthStateStore keeps authorization-request state for CSRF protection.
// States are single-use and expire after a short period.
type OAuthStateStore interface {
	// Save stores a new state.
	Save(ctx context.Context, state *domain.OAuthState) error

	// GetAndDelete atomically retrieves and deletes the state.
	// Returns nil, nil if the state doesn't exist or has expired.
	GetAndDelete(ctx context.Context, state string) (*domain.OAuthState, error)

	// Cleanup removes expired states.
	Cleanup(ctx context.Context) error
}
