package storage

import (
	"context"

	"github.com/arbitrary-number/qumap-go/internal/storage/bucket"
	"github.com/arbitrary-number/qumap-go/internal/storage/objectstore"
	"github.com/arbitrary-number/qumap-go/internal/storage/wal"
)

// Statistics is a point-in-time snapshot across all engine components.
type Statistics struct {
	// Buckets covers the in-memory table.
	Buckets bucket.Stats

	// Mode is the durability mode at snapshot time.
	Mode Mode

	// Paused reports whether persistence is suspended.
	Paused bool

	// QueueDepth is the number of writes waiting in the async worker.
	QueueDepth int

	// AsyncFailures is the number of background WAL appends that
	// failed after the write already returned success.
	AsyncFailures uint64

	// Checkpoints is the number of checkpoints taken since start.
	Checkpoints uint64

	// LastCheckpoint is the Unix millisecond timestamp of the latest
	// checkpoint, zero if none has been taken.
	LastCheckpoint int64

	// RecoveredEntries is the number of entries restored by Recover.
	RecoveredEntries uint64

	// WALOffset is the current composite WAL offset.
	WALOffset uint64

	// WALFiles and WALBytes describe the on-disk log.
	WALFiles int
	WALBytes int64

	// Objects covers the durable object store. Nil when persistence
	// is disabled.
	Objects *objectstore.Stats
}

// Statistics gathers a snapshot from all components.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{
		Buckets:          e.buckets.Snapshot(),
		Mode:             e.Mode(),
		Paused:           e.paused.Load(),
		Checkpoints:      e.checkpoints.Load(),
		LastCheckpoint:   e.lastCheckpoint.Load(),
		RecoveredEntries: e.recovered.Load(),
	}

	if e.Mode() == ModeDisabled {
		return stats, nil
	}

	stats.QueueDepth = e.worker.depth()
	stats.AsyncFailures = e.worker.failureCount()
	stats.WALOffset = e.wal.CurrentOffset()

	compactor := wal.NewCompactor(e.cfg.WAL.Dir)
	if n, err := compactor.FileCount(); err == nil {
		stats.WALFiles = n
	}
	if size, err := compactor.TotalSize(); err == nil {
		stats.WALBytes = size
	}

	objStats, err := e.objects.Stats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Objects = objStats

	return stats, nil
}
