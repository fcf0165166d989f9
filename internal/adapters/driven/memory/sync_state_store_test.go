package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

func lease(run string) domain.Lease {
	return domain.Lease{RunID: run, Token: run + "-token", TTL: time.Minute}
}

func TestTrySetSyncing_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStateStore()

	ok, err := s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceInvoices}, lease("r1"))
	require.NoError(t, err)
	require.True(t, ok)

	// overlapping request must not acquire accounts either
	ok, err = s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceAccounts, domain.ResourceInvoices}, lease("r2"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.CountSyncing("c1", domain.ResourceAccounts))

	// same run re-enters
	ok, err = s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceInvoices}, lease("r1"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Complete(ctx, "c1", domain.ResourceInvoices, "r1-token", 12))
	ok, err = s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceAccounts, domain.ResourceInvoices}, lease("r2"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrySetSyncing_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStateStore()

	start := time.Now()
	timeNow = func() time.Time { return start }
	defer func() { timeNow = time.Now }()

	ok, _ := s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceJournals}, lease("crashed"))
	require.True(t, ok)

	ok, _ = s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceJournals}, lease("r2"))
	assert.False(t, ok)

	timeNow = func() time.Time { return start.Add(2 * time.Minute) }
	ok, _ = s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceJournals}, lease("r2"))
	assert.True(t, ok)

	states, _ := s.Get(ctx, "c1")
	require.Len(t, states, 1)
	assert.Equal(t, "r2", states[0].RunID)
}

func TestTrySetSyncing_ConcurrentAtMostOneWinner(t *testing.T) {
	ctx := context.Background()
	types := []domain.ResourceType{domain.ResourceInvoices, domain.ResourceAccounts, domain.ResourceCustomers}

	for round := 0; round < 50; round++ {
		s := NewSyncStateStore()
		var winners atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// each caller asks for a different overlapping subset
				subset := []domain.ResourceType{types[i%3], types[(i+1)%3]}
				ok, err := s.TrySetSyncing(ctx, "c1", subset, lease(fmt.Sprintf("run-%d", i)))
				assert.NoError(t, err)
				if ok {
					winners.Add(1)
				}
			}(i)
		}
		wg.Wait()

		// any two 2-of-3 subsets overlap, so exactly one caller wins
		assert.Equal(t, int32(1), winners.Load())
		for _, rt := range types {
			assert.LessOrEqual(t, s.CountSyncing("c1", rt), 1)
		}
	}
}

func TestFailAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStateStore()

	_, _ = s.TrySetSyncing(ctx, "c1", []domain.ResourceType{domain.ResourceInvoices}, lease("r1"))
	require.NoError(t, s.Fail(ctx, "c1", domain.ResourceInvoices, "r1-token", "upstream 503"))

	states, _ := s.Get(ctx, "c1")
	require.Len(t, states, 1)
	assert.Equal(t, domain.SyncStatusFailed, states[0].Status)
	assert.Equal(t, "upstream 503", states[0].LastError)

	require.NoError(t, s.DeleteForConsent(ctx, "c1"))
	states, _ = s.Get(ctx, "c1")
	assert.Empty(t, states)
}

func TestComplete_StaleRunCannotReleaseReclaimedLease(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStateStore()
	types := []domain.ResourceType{domain.ResourceInvoices}

	start := time.Now()
	timeNow = func() time.Time { return start }
	defer func() { timeNow = time.Now }()

	ok, _ := s.TrySetSyncing(ctx, "c1", types, domain.Lease{RunID: "a", Token: "a-1", TTL: time.Millisecond})
	require.True(t, ok)

	// a's lease expires and b reclaims the pair
	timeNow = func() time.Time { return start.Add(5 * time.Millisecond) }
	ok, _ = s.TrySetSyncing(ctx, "c1", types, domain.Lease{RunID: "b", Token: "b-1", TTL: time.Minute})
	require.True(t, ok)

	// a finishes late
	err := s.Complete(ctx, "c1", domain.ResourceInvoices, "a-1", 3)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	assert.ErrorIs(t, err, domain.ErrConflict)
	err = s.Fail(ctx, "c1", domain.ResourceInvoices, "a-1", "late")
	assert.ErrorIs(t, err, domain.ErrLeaseLost)

	// b still holds the pair
	ok, _ = s.TrySetSyncing(ctx, "c1", types, domain.Lease{RunID: "c", Token: "c-1", TTL: time.Minute})
	assert.False(t, ok)
	assert.Equal(t, 1, s.CountSyncing("c1", domain.ResourceInvoices))

	states, _ := s.Get(ctx, "c1")
	require.Len(t, states, 1)
	assert.Equal(t, "b", states[0].RunID)
	assert.Equal(t, domain.SyncStatusSyncing, states[0].Status)

	require.NoError(t, s.Complete(ctx, "c1", domain.ResourceInvoices, "b-1", 7))
	states, _ = s.Get(ctx, "c1")
	assert.Equal(t, 7, states[0].RecordsSynced)
}

func TestComplete_ReentryFencesEarlierAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStateStore()
	types := []domain.ResourceType{domain.ResourceAccounts}

	ok, _ := s.TrySetSyncing(ctx, "c1", types, domain.Lease{RunID: "r1", Token: "first", TTL: time.Minute})
	require.True(t, ok)
	// redelivery of the same run re-enters with a fresh token
	ok, _ = s.TrySetSyncing(ctx, "c1", types, domain.Lease{RunID: "r1", Token: "second", TTL: time.Minute})
	require.True(t, ok)

	assert.ErrorIs(t, s.Complete(ctx, "c1", domain.ResourceAccounts, "first", 1), domain.ErrLeaseLost)
	require.NoError(t, s.Complete(ctx, "c1", domain.ResourceAccounts, "second", 2))
}

func TestComplete_UnknownPair(t *testing.T) {
	s := NewSyncStateStore()
	err := s.Complete(context.Background(), "c1", domain.ResourceInvoices, "t", 1)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
}
