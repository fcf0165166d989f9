package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - used across all layers
var (
	// ErrUnauthorized indicates a missing or invalid caller identity
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested resource was not found or belongs to another tenant
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a bad provider, resource type or missing field
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates a held sync lease or a stale etag
	ErrConflict = errors.New("conflict")

	// ErrUnsupportedOperation indicates the provider's grant variant does not offer the operation
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUpstreamProvider indicates a third-party provider call failed
	ErrUpstreamProvider = errors.New("upstream provider error")

	// ErrInternal indicates a storage or unexpected failure
	ErrInternal = errors.New("internal error")

	// ErrPlanLimit indicates the tenant reached a plan limit
	ErrPlanLimit = errors.New("plan limit reached")

	// ErrLeaseLost indicates a terminal write from a run whose lease was
	// reclaimed by another acquisition
	ErrLeaseLost = fmt.Errorf("%w: sync lease lost", ErrConflict)
)

// SyncConflictError is returned when at least one requested lease is held.
// It carries the states observed at rejection time.
type SyncConflictError struct {
	ConsentID string
	Held      []ResourceType
	States    []*SyncState
}

func (e *SyncConflictError) Error() string {
	held := make([]string, len(e.Held))
	for i, rt := range e.Held {
		held[i] = string(rt)
	}
	return fmt.Sprintf("sync already in progress for consent %s: %s", e.ConsentID, strings.Join(held, ", "))
}

func (e *SyncConflictError) Unwrap() error { return ErrConflict }

// EtagMismatchError is returned when a caller's etag differs from the stored one.
type EtagMismatchError struct {
	ConsentID string
	Expected  string
	Actual    string
}

func (e *EtagMismatchError) Error() string {
	return fmt.Sprintf("etag mismatch for consent %s", e.ConsentID)
}

func (e *EtagMismatchError) Unwrap() error { return ErrConflict }

// UnsupportedError describes which provider refused which operation.
type UnsupportedError struct {
	Provider  ProviderType
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Operation)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedOperation }

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Upstreamf builds an error wrapping ErrUpstreamProvider.
func Upstreamf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstreamProvider, fmt.Sprintf(format, args...))
}
