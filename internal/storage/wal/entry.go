// Package wal provides Write-Ahead Logging for durability.
package wal

import (
	"errors"
	"time"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
)

// File format constants.
const (
	// RecordMagic marks the start of every record ("QUMP").
	RecordMagic uint32 = 0x51554D50

	// lenFieldSize is the record length prefix: 4 bytes.
	lenFieldSize = 4

	// recordHeaderSize is the fixed portion after the length prefix:
	// crc (4) + magic (4) + txn (8) + timestamp (8) + op (1) +
	// value type (1) + key len (4) + value len (4).
	recordHeaderSize = 34
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
)

// OpType represents the type of operation in the WAL.
//
// The numeric values are part of the on-disk format and must not change.
type OpType uint8

const (
	OpTypeUnspecified OpType = iota
	OpTypePut
	OpTypeRemove
	OpTypeClear
	OpTypeCheckpoint
	OpTypeRollback
)

// String returns the operation name.
func (t OpType) String() string {
	switch t {
	case OpTypePut:
		return "put"
	case OpTypeRemove:
		return "remove"
	case OpTypeClear:
		return "clear"
	case OpTypeCheckpoint:
		return "checkpoint"
	case OpTypeRollback:
		return "rollback"
	default:
		return "unspecified"
	}
}

// Entry represents one durable operation written to the WAL.
//
// Timestamp uses Unix milliseconds.
type Entry struct {
	OpType    OpType
	TxnID     uint64
	Timestamp int64
	ValueType domain.ValueType
	Key       []byte
	Value     []byte
}

// NewPutEntry creates a PUT WAL entry.
func NewPutEntry(txnID uint64, key []byte, value domain.Value) *Entry {
	return &Entry{
		OpType:    OpTypePut,
		TxnID:     txnID,
		Timestamp: time.Now().UnixMilli(),
		ValueType: value.Type,
		Key:       key,
		Value:     value.Data,
	}
}

// NewRemoveEntry creates a REMOVE WAL entry.
func NewRemoveEntry(txnID uint64, key []byte) *Entry {
	return &Entry{
		OpType:    OpTypeRemove,
		TxnID:     txnID,
		Timestamp: time.Now().UnixMilli(),
		Key:       key,
	}
}

// NewClearEntry creates a CLEAR WAL entry.
func NewClearEntry(txnID uint64) *Entry {
	return &Entry{
		OpType:    OpTypeClear,
		TxnID:     txnID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewCheckpointEntry creates a CHECKPOINT marker entry.
func NewCheckpointEntry(txnID uint64) *Entry {
	return &Entry{
		OpType:    OpTypeCheckpoint,
		TxnID:     txnID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewRollbackEntry creates a ROLLBACK marker entry.
func NewRollbackEntry(txnID uint64) *Entry {
	return &Entry{
		OpType:    OpTypeRollback,
		TxnID:     txnID,
		Timestamp: time.Now().UnixMilli(),
	}
}
