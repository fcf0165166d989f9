package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

// Lock is a single-process DistributedLock. Each Lock is its own owner.
type Lock struct {
	mu      sync.Mutex
	ownerID string
	cache   *gocache.Cache
}

// NewLock creates a lock owned by ownerID. Locks sharing a cache compete.
func NewLock(ownerID string, cache *gocache.Cache) *Lock {
	if cache == nil {
		cache = gocache.New(gocache.NoExpiration, time.Minute)
	}
	return &Lock{ownerID: ownerID, cache: cache}
}

// Shared returns a second lock with a different owner over the same cache.
func (l *Lock) Shared(ownerID string) *Lock {
	return &Lock{ownerID: ownerID, cache: l.cache}
}

func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	// Add fails while an unexpired item exists.
	if err := l.cache.Add(name, l.ownerID, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *Lock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.cache.Get(name); ok && v.(string) == l.ownerID {
		l.cache.Delete(name)
	}
	return nil
}

func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.cache.Get(name)
	if !ok || v.(string) != l.ownerID {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	l.cache.Set(name, l.ownerID, ttl)
	return nil
}

func (l *Lock) Ping(ctx context.Context) error { return nil }
