package domain

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeSyncConsent runs the remaining steps of one sync run
	TaskTypeSyncConsent TaskType = "sync_consent"
	// TaskTypeSyncAccepted enqueues a run for every accepted consent
	TaskTypeSyncAccepted TaskType = "sync_accepted"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers
type Task struct {
	ID       string   `json:"id"`
	Type     TaskType `json:"type"`
	TenantID string   `json:"tenant_id"`

	// Payload contains task-specific data
	// For sync_consent: {"consent_id", "run_id", "resource_types" (comma separated)}
	Payload map[string]string `json:"payload"`

	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, tenantID string, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		TenantID:     tenantID,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  5,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewSyncConsentTask creates a task that drives run runID for a consent
func NewSyncConsentTask(tenantID, consentID, runID string, types []ResourceType) *Task {
	names := make([]string, len(types))
	for i, rt := range types {
		names[i] = string(rt)
	}
	return NewTask(TaskTypeSyncConsent, tenantID, map[string]string{
		"consent_id":     consentID,
		"run_id":         runID,
		"resource_types": strings.Join(names, ","),
	})
}

// ConsentID extracts the consent_id from the payload
func (t *Task) ConsentID() string {
	return t.Payload["consent_id"]
}

// RunID extracts the run_id from the payload
func (t *Task) RunID() string {
	return t.Payload["run_id"]
}

// ResourceTypes extracts the requested resource types from the payload
func (t *Task) ResourceTypes() []string {
	raw := t.Payload["resource_types"]
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && time.Now().After(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	// Exponential backoff: 1s, 2s, 4s, 8s, etc.
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute // Cap at 5 minutes
	}
	t.ScheduledFor = now.Add(backoff)
}

// TaskResult represents the outcome of processing a task
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Records  int           `json:"records,omitempty"`
}
