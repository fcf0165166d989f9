// Package redis holds the Redis-backed coordination adapters: the
// distributed lock used around token refresh and the OAuth state store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "unified:lock:"

// ErrLockNotHeld is returned by Extend when this owner does not hold the lock.
var ErrLockNotHeld = errors.New("lock not held by this owner")

// Lock implements driven.DistributedLock with SET NX PX. Each Lock carries
// its own owner token so one process cannot release another's lock.
type Lock struct {
	client  *redis.Client
	ownerID string
}

// NewLock creates a lock handle with a fresh owner token.
func NewLock(client *redis.Client) *Lock {
	host, _ := os.Hostname()
	return &Lock{
		client:  client,
		ownerID: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
	}
}

// Acquire returns false without error when someone else holds the lock.
// Locks are not reentrant.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockPrefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ownedScript runs DEL or PEXPIRE on KEYS[1] only while ARGV[1] owns it.
var ownedScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == "release" then
		return redis.call("del", KEYS[1])
	end
	return redis.call("pexpire", KEYS[1], ARGV[3])
`)

// Release drops the lock if this owner holds it. Releasing an unheld or
// expired lock is not an error.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := ownedScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID, "release", 0).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend resets the TTL of a lock this owner holds.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := ownedScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID, "extend", ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, ErrLockNotHeld)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID identifies this handle in logs.
func (l *Lock) OwnerID() string {
	return l.ownerID
}
