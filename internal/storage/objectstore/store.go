package objectstore

import (
	"context"
	"errors"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
)

// Common errors.
var (
	ErrNotFound     = errors.New("objectstore: object not found")
	ErrNoCheckpoint = errors.New("objectstore: no checkpoint marker")
	ErrClosed       = errors.New("objectstore: store closed")
)

// Checkpoint anchors WAL replay after a restart.
type Checkpoint struct {
	// WALOffset is the composite WAL position
	// (segmentID<<32 | offsetWithinSegment) covered by this checkpoint.
	WALOffset uint64 `json:"wal_offset"`

	// TxnID is the last transaction id materialized.
	TxnID uint64 `json:"txn_id"`

	// Timestamp is when the checkpoint completed (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// Entries is the number of objects materialized at checkpoint time.
	Entries int `json:"entries"`
}

// Store persists materialized entries and the checkpoint marker.
//
// Implementations must be safe for concurrent use and survive process
// restarts.
type Store interface {
	// Put materializes an entry, overwriting any previous object for
	// the same key.
	Put(ctx context.Context, entry *domain.Entry) error

	// Get loads the object for a key.
	// Returns ErrNotFound if the key has never been materialized.
	Get(ctx context.Context, key []byte) (*domain.Entry, error)

	// Delete removes the object for a key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key []byte) error

	// Clear removes all materialized objects, keeping the checkpoint
	// marker slot.
	Clear(ctx context.Context) error

	// Scan iterates over all materialized entries.
	// The callback returns false to stop iteration.
	Scan(ctx context.Context, fn func(*domain.Entry) bool) error

	// SaveCheckpoint persists the checkpoint marker.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns the persisted checkpoint marker.
	// Returns ErrNoCheckpoint when the store has never checkpointed.
	LoadCheckpoint(ctx context.Context) (Checkpoint, error)

	// GC triggers storage garbage collection. Returns bytes reclaimed.
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Sync forces outstanding writes to durable media.
	Sync(ctx context.Context) error

	// Close gracefully shuts down the store.
	Close() error
}

// Stats contains object store statistics.
type Stats struct {
	// Objects is the approximate number of materialized objects.
	Objects uint64

	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size.
	LSMSize uint64

	// ValueLogSize is the value log size.
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}
