// Package domain defines the core domain models for qumap.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Error codes follow the format QM-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "QM-KEY-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Key and Value Errors (KEY / VAL)
// ============================================================================

var (
	// ErrInvalidParameters indicates a nil, empty, or oversized argument.
	ErrInvalidParameters = NewDomainError("QM-KEY-4000", "invalid parameters")

	// ErrKeyNotFound indicates the requested key is not present in the map.
	ErrKeyNotFound = NewDomainError("QM-KEY-4040", "key not found")

	// ErrKeyTooLong indicates the key exceeds the maximum key length.
	ErrKeyTooLong = NewDomainError("QM-KEY-4001", "key exceeds maximum length")

	// ErrKeyNotUTF8 indicates the key is not valid UTF-8.
	ErrKeyNotUTF8 = NewDomainError("QM-KEY-4002", "key is not valid utf-8")

	// ErrValueTooLarge indicates the value exceeds the maximum value size.
	ErrValueTooLarge = NewDomainError("QM-VAL-4001", "value exceeds maximum size")

	// ErrInvalidValue indicates the stored value does not match the requested type.
	ErrInvalidValue = NewDomainError("QM-VAL-4002", "value type mismatch")
)

// ============================================================================
// Curve and Bucket Errors (CURV / BUCK)
// ============================================================================

var (
	// ErrCurveComputationFailed indicates scalar multiplication or point
	// validation failed.
	ErrCurveComputationFailed = NewDomainError("QM-CURV-5000", "curve computation failed")

	// ErrBucketCapacityExceeded indicates the bucket cache is full.
	ErrBucketCapacityExceeded = NewDomainError("QM-BUCK-5070", "bucket capacity exceeded")

	// ErrMemoryAllocation indicates an internal allocation failure.
	ErrMemoryAllocation = NewDomainError("QM-SYS-5001", "memory allocation failed")
)

// ============================================================================
// Concurrency Errors (LOCK)
// ============================================================================

var (
	// ErrLockTimeout indicates a lock could not be acquired within the
	// configured timeout.
	ErrLockTimeout = NewDomainError("QM-LOCK-4080", "lock acquisition timed out")

	// ErrWorkerStart indicates the background persistence worker could not
	// be started.
	ErrWorkerStart = NewDomainError("QM-LOCK-5001", "persistence worker start failed")
)

// ============================================================================
// Persistence Errors (PERS / WAL)
// ============================================================================

var (
	// ErrPersistenceDisabled indicates a durability operation was requested
	// while persistence is disabled.
	ErrPersistenceDisabled = NewDomainError("QM-PERS-4090", "persistence is disabled")

	// ErrPersistenceClosed indicates the map has been closed.
	ErrPersistenceClosed = NewDomainError("QM-PERS-4091", "map is closed")

	// ErrDurableStore indicates the durable object store rejected an operation.
	ErrDurableStore = NewDomainError("QM-PERS-5001", "durable store operation failed")

	// ErrWALCorruption indicates WAL corruption before the log tail.
	ErrWALCorruption = NewDomainError("QM-WAL-5001", "write-ahead log corruption detected")

	// ErrWALFull indicates the WAL exceeded its configured size cap and
	// could not rotate.
	ErrWALFull = NewDomainError("QM-WAL-5070", "write-ahead log is full")

	// ErrCheckpointFailed indicates a checkpoint could not be completed.
	ErrCheckpointFailed = NewDomainError("QM-PERS-5002", "checkpoint failed")

	// ErrRecoveryFailed indicates crash recovery could not be completed.
	ErrRecoveryFailed = NewDomainError("QM-PERS-5003", "recovery failed")

	// ErrStorageFull indicates the underlying storage device is full.
	ErrStorageFull = NewDomainError("QM-PERS-5071", "storage is full")
)

// ============================================================================
// Transaction Errors (TXN)
// ============================================================================

var (
	// ErrTransactionActive indicates a transaction is already active on
	// the handle.
	ErrTransactionActive = NewDomainError("QM-TXN-4090", "transaction already active")

	// ErrNoTransaction indicates commit or rollback without an active
	// transaction.
	ErrNoTransaction = NewDomainError("QM-TXN-4040", "no active transaction")

	// ErrTransactionTooLarge indicates the buffered transaction exceeds the
	// maximum transaction size.
	ErrTransactionTooLarge = NewDomainError("QM-TXN-4131", "transaction exceeds maximum size")
)
