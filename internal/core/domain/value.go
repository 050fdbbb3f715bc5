// Package domain defines the core domain models for qumap.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling.
package domain

import (
	"crypto/rand"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Map constraints.
const (
	// MaxKeyLength is the maximum key length in bytes.
	MaxKeyLength = 4096

	// MaxValueSize is the maximum value size in bytes (1MB).
	MaxValueSize = 1 << 20

	// DefaultBucketCapacity is the default bucket cache capacity.
	DefaultBucketCapacity = 1024

	// EntryIDPrefix is the prefix for entry IDs.
	EntryIDPrefix = "qme-"
)

// ValueType classifies the payload stored in a value container.
//
// The numeric values are part of the on-disk format and must not change.
type ValueType uint8

const (
	ValueTypeNumeric ValueType = 1
	ValueTypeBinary  ValueType = 2
	ValueTypeString  ValueType = 3
	ValueTypeAST     ValueType = 4
	ValueTypeProof   ValueType = 5
	ValueTypeCustom  ValueType = 100
)

// String returns a human-readable name for the value type.
func (t ValueType) String() string {
	switch t {
	case ValueTypeNumeric:
		return "numeric"
	case ValueTypeBinary:
		return "binary"
	case ValueTypeString:
		return "string"
	case ValueTypeAST:
		return "ast"
	case ValueTypeProof:
		return "proof"
	case ValueTypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Valid reports whether the value type is one of the known types.
func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeNumeric, ValueTypeBinary, ValueTypeString, ValueTypeAST,
		ValueTypeProof, ValueTypeCustom:
		return true
	}
	return false
}

// Value is an immutable tagged byte payload.
//
// Payloads are opaque to the map. Strings are stored as raw UTF-8 bytes,
// numerics as caller-provided encodings.
type Value struct {
	// Data is the raw payload.
	Data []byte `json:"data"`

	// Type classifies the payload.
	Type ValueType `json:"type"`
}

// NewValue creates a value from a payload and a type tag.
func NewValue(data []byte, vt ValueType) (Value, error) {
	if data == nil {
		return Value{}, ErrInvalidParameters.WithDetails("value data is nil")
	}
	if len(data) > MaxValueSize {
		return Value{}, ErrValueTooLarge
	}
	if !vt.Valid() {
		return Value{}, ErrInvalidParameters.WithDetails("unknown value type")
	}
	// Copy so callers cannot mutate stored state.
	buf := make([]byte, len(data))
	copy(buf, data)
	return Value{Data: buf, Type: vt}, nil
}

// StringValue creates a string-typed value.
func StringValue(s string) (Value, error) {
	return NewValue([]byte(s), ValueTypeString)
}

// Size returns the payload size in bytes.
func (v Value) Size() int {
	return len(v.Data)
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	buf := make([]byte, len(v.Data))
	copy(buf, v.Data)
	return Value{Data: buf, Type: v.Type}
}

// ValidateKey checks a key against length and encoding constraints.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidParameters.WithDetails("key is empty")
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if !utf8.Valid(key) {
		return ErrKeyNotUTF8
	}
	return nil
}

// Entry is a stored key-value pair with its bucket placement and
// access bookkeeping.
type Entry struct {
	// ID is the unique identifier for the entry.
	// Format: qme-{ulid_lowercase}.
	ID string `json:"id"`

	// Key is the exact key bytes as provided by the caller.
	Key []byte `json:"key"`

	// Value is the stored payload.
	Value Value `json:"value"`

	// Address is the curve-derived bucket placement.
	Address BucketAddress `json:"address"`

	// CreatedAt is the entry creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// ModifiedAt is the last update timestamp (Unix milliseconds).
	ModifiedAt int64 `json:"modified_at"`

	// AccessCount is the number of successful reads.
	AccessCount uint64 `json:"access_count"`
}

// NewEntry creates an entry with a generated ID and initialized timestamps.
func NewEntry(key []byte, value Value, addr BucketAddress) (*Entry, error) {
	id, err := GenerateEntryID()
	if err != nil {
		return nil, err
	}

	k := make([]byte, len(key))
	copy(k, key)

	now := time.Now().UnixMilli()
	return &Entry{
		ID:         id,
		Key:        k,
		Value:      value,
		Address:    addr,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// GenerateEntryID generates a new entry ID using ULID.
// Format: qme-{ulid_lowercase}.
func GenerateEntryID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrMemoryAllocation.WithCause(err)
	}
	return EntryIDPrefix + strings.ToLower(id.String()), nil
}

// ValidateEntryID checks that an ID has the entry prefix and a parsable ULID.
func ValidateEntryID(id string) error {
	if !strings.HasPrefix(id, EntryIDPrefix) {
		return ErrInvalidParameters.WithDetails("missing entry id prefix")
	}
	ulidPart := strings.ToUpper(id[len(EntryIDPrefix):])
	if _, err := ulid.Parse(ulidPart); err != nil {
		return ErrInvalidParameters.WithDetails("malformed entry id").WithCause(err)
	}
	return nil
}

// Touch records a successful read. Readers holding only a shared lock
// may call it concurrently.
func (e *Entry) Touch() {
	atomic.AddUint64(&e.AccessCount, 1)
}

// Reads returns the access count.
func (e *Entry) Reads() uint64 {
	return atomic.LoadUint64(&e.AccessCount)
}

// SetValue replaces the payload and bumps the modification timestamp.
func (e *Entry) SetValue(v Value) {
	e.Value = v
	e.ModifiedAt = time.Now().UnixMilli()
}
