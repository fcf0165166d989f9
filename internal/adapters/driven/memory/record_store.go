package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.RecordStore = (*RecordStore)(nil)
	_ driven.StepStore   = (*StepStore)(nil)
)

type recordKey struct {
	consentID  string
	rt         domain.ResourceType
	externalID string
}

// RecordStore upserts records by natural identity.
type RecordStore struct {
	mu      sync.RWMutex
	records map[recordKey]domain.Record
}

// NewRecordStore creates an empty store
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[recordKey]domain.Record)}
}

func (s *RecordStore) Upsert(ctx context.Context, records []*domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[recordKey{r.ConsentID, r.ResourceType, r.ExternalID}] = *r
	}
	return nil
}

func (s *RecordStore) Count(ctx context.Context, consentID string, rt domain.ResourceType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.records {
		if k.consentID == consentID && (rt == "" || k.rt == rt) {
			n++
		}
	}
	return n, nil
}

func (s *RecordStore) List(ctx context.Context, consentID string, rt domain.ResourceType, limit, offset int) ([]*domain.Record, error) {
	s.mu.RLock()
	out := make([]*domain.Record, 0)
	for k, r := range s.records {
		if k.consentID == consentID && k.rt == rt {
			r := r
			out = append(out, &r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	if offset >= len(out) {
		return []*domain.Record{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *RecordStore) DeleteForConsent(ctx context.Context, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if k.consentID == consentID {
			delete(s.records, k)
		}
	}
	return nil
}

type stepKey struct {
	consentID string
	rt        domain.ResourceType
	runID     string
}

// StepStore memoizes durable step outcomes.
type StepStore struct {
	mu    sync.RWMutex
	steps map[stepKey]domain.StepMemo
}

// NewStepStore creates an empty store
func NewStepStore() *StepStore {
	return &StepStore{steps: make(map[stepKey]domain.StepMemo)}
}

func (s *StepStore) Get(ctx context.Context, consentID string, rt domain.ResourceType, runID string) (*domain.StepMemo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.steps[stepKey{consentID, rt, runID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (s *StepStore) Save(ctx context.Context, memo *domain.StepMemo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[stepKey{memo.ConsentID, memo.ResourceType, memo.RunID}] = *memo
	return nil
}

func (s *StepStore) DeleteForConsent(ctx context.Context, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.steps {
		if k.consentID == consentID {
			delete(s.steps, k)
		}
	}
	return nil
}
