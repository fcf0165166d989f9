package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLock_OwnerIDUnique(t *testing.T) {
	client, _ := setupTestRedis(t)

	if NewLock(client).OwnerID() == NewLock(client).OwnerID() {
		t.Error("expected unique owner IDs")
	}
}

func TestLock_AcquireExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "token-refresh:c1:fortnox", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = b.Acquire(ctx, "token-refresh:c1:fortnox", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second owner to be refused")
	}

	ok, _ = a.Acquire(ctx, "token-refresh:c1:fortnox", 10*time.Second)
	if ok {
		t.Error("expected lock not to be reentrant")
	}

	ok, _ = b.Acquire(ctx, "token-refresh:c2:fortnox", 10*time.Second)
	if !ok {
		t.Error("expected an unrelated name to be free")
	}
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	if ok, _ := a.Acquire(ctx, "l", 10*time.Second); !ok {
		t.Fatal("expected to acquire")
	}

	if err := b.Release(ctx, "l"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := b.Acquire(ctx, "l", 10*time.Second); ok {
		t.Error("release by another owner must not drop the lock")
	}

	if err := a.Release(ctx, "l"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := b.Acquire(ctx, "l", 10*time.Second); !ok {
		t.Error("expected lock to be free after owner release")
	}
}

func TestLock_ReleaseUnheld(t *testing.T) {
	client, _ := setupTestRedis(t)

	if err := NewLock(client).Release(context.Background(), "never-held"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	if ok, _ := a.Acquire(ctx, "l", time.Second); !ok {
		t.Fatal("expected to acquire")
	}
	mr.FastForward(2 * time.Second)

	if ok, _ := b.Acquire(ctx, "l", time.Second); !ok {
		t.Error("expected expired lock to be free")
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	if ok, _ := a.Acquire(ctx, "l", time.Second); !ok {
		t.Fatal("expected to acquire")
	}
	if err := a.Extend(ctx, "l", 10*time.Second); err != nil {
		t.Fatalf("extend: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := b.Acquire(ctx, "l", time.Second); ok {
		t.Error("expected extended lock to survive the original TTL")
	}

	if err := b.Extend(ctx, "l", time.Second); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got %v", err)
	}
	if err := a.Extend(ctx, "other", time.Second); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld for unheld name, got %v", err)
	}
}

func TestLock_Ping(t *testing.T) {
	client, _ := setupTestRedis(t)

	if err := NewLock(client).Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
}
