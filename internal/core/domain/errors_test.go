// Package domain defines the core domain models for qumap.
package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("QM-TEST-1000", "test message"),
			expected: "[QM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("QM-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[QM-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("QM-TEST-1000", "message 1")
	err2 := NewDomainError("QM-TEST-1000", "message 2") // Same code, different message
	err3 := NewDomainError("QM-TEST-1001", "message 1") // Different code

	// Same code should match
	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}

	// Different code should not match
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}

	// Should not match non-DomainError
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("QM-TEST-1000", "wrapper").WithCause(cause)

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Without cause
	errNoCause := NewDomainError("QM-TEST-1000", "no cause")
	if errors.Unwrap(errNoCause) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestDomainError_WithDetails(t *testing.T) {
	original := NewDomainError("QM-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")

	// Check original is unchanged
	if original.Details != "" {
		t.Error("WithDetails should not modify original error")
	}

	// Check new error has details
	if withDetails.Details != "additional details" {
		t.Errorf("Details = %q, want %q", withDetails.Details, "additional details")
	}

	// Check code and message are preserved
	if withDetails.Code != original.Code {
		t.Errorf("Code = %q, want %q", withDetails.Code, original.Code)
	}
	if withDetails.Message != original.Message {
		t.Errorf("Message = %q, want %q", withDetails.Message, original.Message)
	}
}

func TestDomainError_WithCause(t *testing.T) {
	original := NewDomainError("QM-TEST-1000", "original message")
	cause := fmt.Errorf("root cause")
	withCause := original.WithCause(cause)

	// Check original is unchanged
	if original.Cause != nil {
		t.Error("WithCause should not modify original error")
	}

	// Check new error has cause
	if withCause.Cause != cause {
		t.Errorf("Cause = %v, want %v", withCause.Cause, cause)
	}

	// Check code and message are preserved
	if withCause.Code != original.Code {
		t.Errorf("Code = %q, want %q", withCause.Code, original.Code)
	}
}

func TestIsDomainError(t *testing.T) {
	err := ErrKeyNotFound

	if !IsDomainError(err, "QM-KEY-4040") {
		t.Error("IsDomainError should return true for matching code")
	}

	if IsDomainError(err, "QM-KEY-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}

	if IsDomainError(fmt.Errorf("regular error"), "QM-KEY-4040") {
		t.Error("IsDomainError should return false for non-DomainError")
	}

	// Test with wrapped error
	wrapped := fmt.Errorf("wrapped: %w", ErrKeyNotFound)
	if !IsDomainError(wrapped, "QM-KEY-4040") {
		t.Error("IsDomainError should work with wrapped errors")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "domain error",
			err:      ErrKeyNotFound,
			expected: "QM-KEY-4040",
		},
		{
			name:     "wrapped domain error",
			err:      fmt.Errorf("wrapped: %w", ErrWALCorruption),
			expected: "QM-WAL-5001",
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("regular error"),
			expected: "",
		},
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	// Verify all predefined errors have correct codes
	tests := []struct {
		err  *DomainError
		code string
	}{
		// Key and value errors
		{ErrInvalidParameters, "QM-KEY-4000"},
		{ErrKeyNotFound, "QM-KEY-4040"},
		{ErrKeyTooLong, "QM-KEY-4001"},
		{ErrKeyNotUTF8, "QM-KEY-4002"},
		{ErrValueTooLarge, "QM-VAL-4001"},
		{ErrInvalidValue, "QM-VAL-4002"},

		// Addressing and bucket errors
		{ErrCurveComputationFailed, "QM-CURV-5000"},
		{ErrBucketCapacityExceeded, "QM-BUCK-5070"},
		{ErrMemoryAllocation, "QM-SYS-5001"},

		// Locking errors
		{ErrLockTimeout, "QM-LOCK-4080"},
		{ErrWorkerStart, "QM-LOCK-5001"},

		// Persistence errors
		{ErrPersistenceDisabled, "QM-PERS-4090"},
		{ErrPersistenceClosed, "QM-PERS-4091"},
		{ErrDurableStore, "QM-PERS-5001"},
		{ErrWALCorruption, "QM-WAL-5001"},
		{ErrWALFull, "QM-WAL-5070"},
		{ErrCheckpointFailed, "QM-PERS-5002"},
		{ErrRecoveryFailed, "QM-PERS-5003"},
		{ErrStorageFull, "QM-PERS-5071"},

		// Transaction errors
		{ErrTransactionActive, "QM-TXN-4090"},
		{ErrNoTransaction, "QM-TXN-4040"},
		{ErrTransactionTooLarge, "QM-TXN-4131"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	// Test chaining WithDetails and WithCause
	cause := fmt.Errorf("root cause")
	err := ErrKeyNotFound.
		WithDetails("key: alpha").
		WithCause(cause)

	// Verify all properties are preserved
	if err.Code != "QM-KEY-4040" {
		t.Errorf("Code = %q, want %q", err.Code, "QM-KEY-4040")
	}
	if err.Details != "key: alpha" {
		t.Errorf("Details = %q", err.Details)
	}
	if err.Cause != cause {
		t.Error("Cause should be preserved")
	}

	// Verify errors.Is still works
	if !errors.Is(err, ErrKeyNotFound) {
		t.Error("errors.Is should work after chaining")
	}
}
