package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// timeNow is swapped in tests that exercise lease expiry.
var timeNow = time.Now

type stateKey struct {
	consentID string
	rt        domain.ResourceType
}

// SyncStateStore holds all leases under one mutex, which makes TrySetSyncing
// atomic across the requested set.
type SyncStateStore struct {
	mu     sync.Mutex
	states map[stateKey]domain.SyncState
}

// NewSyncStateStore creates an empty store
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{states: make(map[stateKey]domain.SyncState)}
}

func (s *SyncStateStore) Get(ctx context.Context, consentID string) ([]*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SyncState, 0)
	for k, st := range s.states {
		if k.consentID == consentID {
			st := st
			out = append(out, &st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceType < out[j].ResourceType })
	return out, nil
}

func (s *SyncStateStore) TrySetSyncing(ctx context.Context, consentID string, types []domain.ResourceType, lease domain.Lease) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := timeNow()

	for _, rt := range types {
		if st, ok := s.states[stateKey{consentID, rt}]; ok && st.HeldAgainst(lease.RunID, now) {
			return false, nil
		}
	}
	for _, rt := range types {
		k := stateKey{consentID, rt}
		st, ok := s.states[k]
		if !ok {
			st = domain.SyncState{ConsentID: consentID, ResourceType: rt}
		}
		st.MarkSyncing(lease, now)
		s.states[k] = st
	}
	return true, nil
}

func (s *SyncStateStore) Complete(ctx context.Context, consentID string, rt domain.ResourceType, token string, recordsSynced int) error {
	return s.release(consentID, rt, token, func(st *domain.SyncState) { st.MarkCompleted(recordsSynced, timeNow()) })
}

func (s *SyncStateStore) Fail(ctx context.Context, consentID string, rt domain.ResourceType, token string, errText string) error {
	return s.release(consentID, rt, token, func(st *domain.SyncState) { st.MarkFailed(errText, timeNow()) })
}

func (s *SyncStateStore) release(consentID string, rt domain.ResourceType, token string, fn func(*domain.SyncState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey{consentID, rt}
	st, ok := s.states[k]
	if !ok || !st.HeldBy(token) {
		return domain.ErrLeaseLost
	}
	fn(&st)
	s.states[k] = st
	return nil
}

func (s *SyncStateStore) DeleteForConsent(ctx context.Context, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.states {
		if k.consentID == consentID {
			delete(s.states, k)
		}
	}
	return nil
}

// CountSyncing returns how many rows of the pair are currently syncing.
// It is always 0 or 1; tests assert on it.
func (s *SyncStateStore) CountSyncing(consentID string, rt domain.ResourceType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[stateKey{consentID, rt}]; ok && st.Status == domain.SyncStatusSyncing {
		return 1
	}
	return 0
}
