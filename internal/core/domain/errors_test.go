package domain

import (
	"errors"
	"testing"
)

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrUnauthorized,
		ErrNotFound,
		ErrValidation,
		ErrConflict,
		ErrUnsupportedOperation,
		ErrUpstreamProvider,
		ErrInternal,
		ErrPlanLimit,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"sync conflict", &SyncConflictError{ConsentID: "c1", Held: []ResourceType{ResourceInvoices}}, ErrConflict},
		{"etag mismatch", &EtagMismatchError{ConsentID: "c1"}, ErrConflict},
		{"unsupported", &UnsupportedError{Provider: ProviderBokio, Operation: "refresh"}, ErrUnsupportedOperation},
		{"validationf", Validationf("bad %s", "x"), ErrValidation},
		{"upstreamf", Upstreamf("status %d", 500), ErrUpstreamProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("expected %v to wrap %v", tt.err, tt.target)
			}
		})
	}
}

func TestSyncConflictError_Message(t *testing.T) {
	err := &SyncConflictError{ConsentID: "c1", Held: []ResourceType{ResourceInvoices, ResourceAccounts}}
	want := "sync already in progress for consent c1: invoices, accounts"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	var target *SyncConflictError
	if !errors.As(error(err), &target) {
		t.Fatal("expected errors.As to match")
	}
}
