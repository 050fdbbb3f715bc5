package qumap

import (
	"context"
	"time"
)

// Stats is a read-only snapshot of map, operation, and persistence
// counters. Counters are monotonic for the lifetime of a Map handle.
type Stats struct {
	// In-memory table.
	Entries       int
	Buckets       int
	Capacity      int
	TotalBytes    int64
	Hits          uint64
	Misses        uint64
	Puts          uint64
	Removes       uint64
	Collisions    uint64
	HitRate       float64
	Utilization   float64
	DeepestChain  int
	LargestValue  int
	SmallestValue int

	// Operation counters.
	TotalOperations      uint64
	SuccessfulOperations uint64
	FailedOperations     uint64
	SyncOperations       uint64
	AsyncOperations      uint64
	BytesRead            uint64
	BytesWritten         uint64
	AvgSyncLatency       time.Duration
	AvgAsyncLatency      time.Duration
	ActiveTransactions   int

	// Persistence.
	Mode             Mode
	Paused           bool
	PendingWrites    int
	Checkpoints      uint64
	LastCheckpoint   time.Time
	RecoveredEntries uint64
	WALOffset        uint64
	WALFiles         int
	WALBytes         int64
	ObjectCount      uint64
	ObjectBytes      uint64
}

// Stats collects a point-in-time statistics snapshot.
func (m *Map) Stats(ctx context.Context) (Stats, error) {
	es, err := m.engine.Statistics(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Entries:       es.Buckets.Entries,
		Buckets:       es.Buckets.Buckets,
		Capacity:      es.Buckets.Capacity,
		TotalBytes:    es.Buckets.TotalBytes,
		Hits:          es.Buckets.Hits,
		Misses:        es.Buckets.Misses,
		Puts:          es.Buckets.Puts,
		Removes:       es.Buckets.Removes,
		Collisions:    es.Buckets.Collisions,
		HitRate:       es.Buckets.HitRate(),
		Utilization:   es.Buckets.Utilization(),
		DeepestChain:  es.Buckets.DeepestChain,
		LargestValue:  es.Buckets.LargestValue,
		SmallestValue: es.Buckets.SmallestValue,

		TotalOperations:      m.metrics.total.Load(),
		SuccessfulOperations: m.metrics.success.Load(),
		FailedOperations:     m.metrics.failed.Load() + es.AsyncFailures,
		SyncOperations:       m.metrics.syncOps.Load(),
		AsyncOperations:      m.metrics.asyncOps.Load(),
		BytesRead:            m.metrics.bytesRead.Load(),
		BytesWritten:         m.metrics.bytesWritten.Load(),

		Mode:             es.Mode,
		Paused:           es.Paused,
		PendingWrites:    es.QueueDepth,
		Checkpoints:      es.Checkpoints,
		RecoveredEntries: es.RecoveredEntries,
		WALOffset:        es.WALOffset,
		WALFiles:         es.WALFiles,
		WALBytes:         es.WALBytes,
	}

	if n := s.SyncOperations; n > 0 {
		s.AvgSyncLatency = time.Duration(m.metrics.syncLatencyNs.Load() / n)
	}
	if n := s.AsyncOperations; n > 0 {
		s.AvgAsyncLatency = time.Duration(m.metrics.asyncLatencyNs.Load() / n)
	}
	if es.LastCheckpoint > 0 {
		s.LastCheckpoint = time.UnixMilli(es.LastCheckpoint)
	}
	if es.Objects != nil {
		s.ObjectCount = es.Objects.Objects
		s.ObjectBytes = es.Objects.TotalSize
	}

	m.txnMu.Lock()
	if m.txn != nil {
		s.ActiveTransactions = 1
	}
	m.txnMu.Unlock()

	return s, nil
}
