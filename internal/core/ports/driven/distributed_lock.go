package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates work across instances: token refresh per
// (consent, provider) and the scheduler tick.
type DistributedLock interface {
	// Acquire attempts to take the named lock for ttl.
	// Returns false without error when another holder owns it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops the lock if this instance still owns it.
	// Safe to call when the lock already expired.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a held lock.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
