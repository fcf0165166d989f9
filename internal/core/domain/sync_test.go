package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStatus(t *testing.T) {
	ok := ResourceResult{Status: SyncStatusCompleted}
	bad := ResourceResult{Status: SyncStatusFailed}

	assert.Equal(t, SyncStatusCompleted, AggregateStatus([]ResourceResult{ok, ok}))
	assert.Equal(t, SyncStatusFailed, AggregateStatus([]ResourceResult{bad, bad}))
	assert.Equal(t, SyncStatusPartial, AggregateStatus([]ResourceResult{ok, bad, ok}))
}

func TestSyncResult_Aggregate(t *testing.T) {
	r := &SyncResult{Resources: []ResourceResult{
		{Type: ResourceInvoices, Status: SyncStatusCompleted, RecordsSynced: 12},
		{Type: ResourceAccounts, Status: SyncStatusCompleted, RecordsSynced: 4},
	}}
	r.Aggregate()

	assert.Equal(t, SyncStatusCompleted, r.Status)
	assert.Equal(t, 16, r.TotalRecordsSynced)
}

func TestSyncState_HeldAgainst(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name     string
		state    SyncState
		runID    string
		expected bool
	}{
		{"completed row", SyncState{Status: SyncStatusCompleted}, "r2", false},
		{"live lease other run", SyncState{Status: SyncStatusSyncing, RunID: "r1", LeaseExpiresAt: &future}, "r2", true},
		{"live lease same run", SyncState{Status: SyncStatusSyncing, RunID: "r1", LeaseExpiresAt: &future}, "r1", false},
		{"expired lease", SyncState{Status: SyncStatusSyncing, RunID: "r1", LeaseExpiresAt: &past}, "r2", false},
		{"syncing without expiry", SyncState{Status: SyncStatusSyncing, RunID: "r1"}, "r2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.HeldAgainst(tt.runID, now))
		})
	}
}

func TestSyncState_Transitions(t *testing.T) {
	now := time.Now()
	s := &SyncState{ConsentID: "c1", ResourceType: ResourceInvoices}

	s.MarkSyncing(Lease{RunID: "r1", TTL: time.Minute}, now)
	assert.Equal(t, SyncStatusSyncing, s.Status)
	assert.Equal(t, "r1", s.RunID)
	assert.NotNil(t, s.LeaseExpiresAt)

	s.MarkFailed("upstream 500", now)
	assert.Equal(t, SyncStatusFailed, s.Status)
	assert.Equal(t, "upstream 500", s.LastError)
	assert.Nil(t, s.LeaseExpiresAt)

	s.MarkSyncing(Lease{RunID: "r2", TTL: time.Minute}, now)
	s.MarkCompleted(7, now)
	assert.Equal(t, SyncStatusCompleted, s.Status)
	assert.Equal(t, 7, s.RecordsSynced)
	assert.Empty(t, s.LastError)
}

func TestSyncState_HeldBy(t *testing.T) {
	now := time.Now()
	s := &SyncState{ConsentID: "c1", ResourceType: ResourceInvoices}

	s.MarkSyncing(Lease{RunID: "r1", Token: "t1", TTL: time.Minute}, now)
	assert.True(t, s.HeldBy("t1"))
	assert.False(t, s.HeldBy(""))

	// same run re-enters with a new token
	s.MarkSyncing(Lease{RunID: "r1", Token: "t2", TTL: time.Minute}, now)
	assert.False(t, s.HeldBy("t1"))
	assert.True(t, s.HeldBy("t2"))

	s.MarkCompleted(3, now)
	assert.False(t, s.HeldBy("t2"))
}

func TestOverallStatus(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)

	assert.Equal(t, SyncStatusIdle, OverallStatus(nil, now))
	assert.Equal(t, SyncStatusSyncing, OverallStatus([]*SyncState{
		{Status: SyncStatusCompleted},
		{Status: SyncStatusSyncing, RunID: "r1", LeaseExpiresAt: &future},
	}, now))
	assert.Equal(t, SyncStatusPartial, OverallStatus([]*SyncState{
		{Status: SyncStatusCompleted},
		{Status: SyncStatusFailed},
	}, now))
	assert.Equal(t, SyncStatusCompleted, OverallStatus([]*SyncState{
		{Status: SyncStatusCompleted},
	}, now))
}
