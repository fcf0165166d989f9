package domain

import "time"

// SyncStatus represents the state of one (consent, resource type) pair
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	// SyncStatusPartial only appears in aggregates
	SyncStatusPartial SyncStatus = "partial"
)

// DefaultLeaseTTL bounds how long a syncing row blocks other runs
const DefaultLeaseTTL = 15 * time.Minute

// SyncState tracks progress for one (consent, resource type) pair and doubles as its lease
type SyncState struct {
	ConsentID     string       `json:"consentId"`
	ResourceType  ResourceType `json:"resourceType"`
	Status        SyncStatus   `json:"status"`
	RecordsSynced int          `json:"recordsSynced"`
	LastSyncedAt  *time.Time   `json:"lastSyncedAt,omitempty"`
	LastError     string       `json:"lastError,omitempty"`

	// Lease fields are set while Status is syncing
	RunID          string     `json:"runId,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	// LeaseToken fences terminal writes to the acquisition that set it
	LeaseToken string `json:"-"`
}

// Lease identifies one acquisition of a set of sync states. RunID groups
// acquisitions of the same durable run; Token is fresh per acquisition.
type Lease struct {
	RunID string
	Token string
	TTL   time.Duration
}

// HeldAgainst reports whether the row blocks a run with the given id at now.
// Rows held by the same run are re-entrant; expired leases are reclaimable.
func (s *SyncState) HeldAgainst(runID string, now time.Time) bool {
	if s.Status != SyncStatusSyncing {
		return false
	}
	if runID != "" && s.RunID == runID {
		return false
	}
	if s.LeaseExpiresAt != nil && !now.Before(*s.LeaseExpiresAt) {
		return false
	}
	return true
}

// MarkSyncing turns the row into a lease owned by l
func (s *SyncState) MarkSyncing(l Lease, now time.Time) {
	exp := now.Add(l.TTL)
	s.Status = SyncStatusSyncing
	s.RunID = l.RunID
	s.StartedAt = &now
	s.LeaseExpiresAt = &exp
	s.LeaseToken = l.Token
}

// HeldBy reports whether the row is still the lease set by token. A re-entry
// or reclamation replaces the token, fencing out the earlier holder.
func (s *SyncState) HeldBy(token string) bool {
	return s.Status == SyncStatusSyncing && token != "" && s.LeaseToken == token
}

// MarkCompleted releases the lease with a record count
func (s *SyncState) MarkCompleted(records int, now time.Time) {
	s.Status = SyncStatusCompleted
	s.RecordsSynced = records
	s.LastSyncedAt = &now
	s.LastError = ""
	s.LeaseExpiresAt = nil
	s.LeaseToken = ""
}

// MarkFailed releases the lease with the captured error
func (s *SyncState) MarkFailed(errText string, now time.Time) {
	s.Status = SyncStatusFailed
	s.LastError = errText
	s.LeaseExpiresAt = nil
	s.LeaseToken = ""
}

// ResourceResult is the per-type outcome of a sync run
type ResourceResult struct {
	Type          ResourceType `json:"type"`
	Status        SyncStatus   `json:"status"`
	RecordsSynced int          `json:"recordsSynced"`
	Error         string       `json:"error,omitempty"`
}

// SyncResult represents the outcome of a sync operation
type SyncResult struct {
	ConsentID          string           `json:"consentId"`
	RunID              string           `json:"runId"`
	Status             SyncStatus       `json:"status"`
	TotalRecordsSynced int              `json:"totalRecordsSynced"`
	Resources          []ResourceResult `json:"resources"`
	Duration           float64          `json:"durationSeconds"`
}

// Aggregate derives the overall status and total from the per-type results.
func (r *SyncResult) Aggregate() {
	r.Status = AggregateStatus(r.Resources)
	total := 0
	for _, res := range r.Resources {
		total += res.RecordsSynced
	}
	r.TotalRecordsSynced = total
}

// AggregateStatus is completed when every result completed, failed when every
// result failed and partial otherwise.
func AggregateStatus(results []ResourceResult) SyncStatus {
	if len(results) == 0 {
		return SyncStatusCompleted
	}
	completed, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case SyncStatusCompleted:
			completed++
		case SyncStatusFailed:
			failed++
		}
	}
	switch {
	case completed == len(results):
		return SyncStatusCompleted
	case failed == len(results):
		return SyncStatusFailed
	default:
		return SyncStatusPartial
	}
}

// SyncStatusReport is the read model behind the status endpoint
type SyncStatusReport struct {
	ConsentID string       `json:"consentId"`
	Overall   SyncStatus   `json:"overall"`
	States    []*SyncState `json:"states"`
}

// OverallStatus summarizes stored states: idle when none exist, syncing when
// any lease is live, otherwise the aggregate of terminal states.
func OverallStatus(states []*SyncState, now time.Time) SyncStatus {
	if len(states) == 0 {
		return SyncStatusIdle
	}
	results := make([]ResourceResult, 0, len(states))
	for _, s := range states {
		if s.HeldAgainst("", now) {
			return SyncStatusSyncing
		}
		status := s.Status
		switch status {
		case SyncStatusIdle:
			continue
		case SyncStatusSyncing:
			// lease expired without a terminal write
			status = SyncStatusFailed
		}
		results = append(results, ResourceResult{Type: s.ResourceType, Status: status})
	}
	if len(results) == 0 {
		return SyncStatusIdle
	}
	return AggregateStatus(results)
}

// SyncRun is returned when a sync is handed to the background runner
type SyncRun struct {
	RunID         string         `json:"runId"`
	ConsentID     string         `json:"consentId"`
	TaskID        string         `json:"taskId"`
	ResourceTypes []ResourceType `json:"resourceTypes"`
}

// Record is one normalized accounting entity keyed by natural identity
type Record struct {
	ConsentID    string       `json:"consentId"`
	ResourceType ResourceType `json:"resourceType"`
	ExternalID   string       `json:"externalId"`
	Data         []byte       `json:"data"`
	SyncedAt     time.Time    `json:"syncedAt"`
}

// Record page bounds
const (
	DefaultRecordPageSize = 100
	MaxRecordPageSize     = 1000
)

// RecordPage is one window of synced records of a single resource type.
// @Description Page of synced records
type RecordPage struct {
	ConsentID    string       `json:"consentId"`
	ResourceType ResourceType `json:"resourceType"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
	Total        int          `json:"total"`
	Records      []*Record    `json:"records"`
}

// StepMemo records the outcome of one durable step
type StepMemo struct {
	RunID         string       `json:"runId"`
	ConsentID     string       `json:"consentId"`
	ResourceType  ResourceType `json:"resourceType"`
	Status        SyncStatus   `json:"status"`
	RecordsSynced int          `json:"recordsSynced"`
	Error         string       `json:"error,omitempty"`
	FinishedAt    time.Time    `json:"finishedAt"`
}
