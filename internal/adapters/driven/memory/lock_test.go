package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_Ownership(t *testing.T) {
	ctx := context.Background()
	a := NewLock("a", nil)
	b := a.Shared("b")

	ok, err := a.Acquire(ctx, "refresh:c1:fortnox", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = b.Acquire(ctx, "refresh:c1:fortnox", time.Minute)
	assert.False(t, ok)

	// b cannot release a's lock
	require.NoError(t, b.Release(ctx, "refresh:c1:fortnox"))
	ok, _ = b.Acquire(ctx, "refresh:c1:fortnox", time.Minute)
	assert.False(t, ok)

	assert.Error(t, b.Extend(ctx, "refresh:c1:fortnox", time.Minute))
	assert.NoError(t, a.Extend(ctx, "refresh:c1:fortnox", time.Minute))

	require.NoError(t, a.Release(ctx, "refresh:c1:fortnox"))
	ok, _ = b.Acquire(ctx, "refresh:c1:fortnox", time.Minute)
	assert.True(t, ok)
}

func TestLock_Expiry(t *testing.T) {
	ctx := context.Background()
	a := NewLock("a", nil)
	b := a.Shared("b")

	ok, _ := a.Acquire(ctx, "k", 20*time.Millisecond)
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)

	ok, _ = b.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}
