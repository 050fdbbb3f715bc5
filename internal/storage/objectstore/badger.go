package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
)

// Badger key layout.
var (
	objectPrefix  = []byte("o:")
	checkpointKey = []byte("meta:checkpoint")
)

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// Dir is the storage directory.
	Dir string

	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// SyncWrites enables fsync after each write. The engine's own WAL
	// provides durability, so this defaults to false.
	SyncWrites bool
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		CacheSize:   64 << 20,
		SyncWrites:  false,
	}
}

// BadgerStore implements Store using Badger v3.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	codec  *Codec
	logger *slog.Logger

	lastGCTime       atomic.Int64
	gcBytesReclaimed atomic.Uint64

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsTotalSize    prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerStore creates a new Badger-backed object store.
func NewBadgerStore(cfg BadgerConfig, codec *Codec, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("objectstore: dir is required")
	}
	if codec == nil {
		codec = NewCodec()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold == 0 {
		cfg.GCThreshold = 0.5
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		codec:  codec,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go s.gcLoop()

	logger.Info("object store started",
		"dir", cfg.Dir,
		"cache_size", cfg.CacheSize,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

func objectKey(key []byte) []byte {
	k := make([]byte, len(objectPrefix)+len(key))
	copy(k, objectPrefix)
	copy(k[len(objectPrefix):], key)
	return k
}

// Put materializes an entry.
func (s *BadgerStore) Put(ctx context.Context, entry *domain.Entry) error {
	data, err := s.codec.Encode(entry)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(objectKey(entry.Key), data)
	})
	if err != nil {
		return domain.ErrDurableStore.WithCause(err)
	}
	return nil
}

// Get loads the object for a key.
func (s *BadgerStore) Get(ctx context.Context, key []byte) (*domain.Entry, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, domain.ErrDurableStore.WithCause(err)
	}

	return s.codec.Decode(key, data)
}

// Delete removes the object for a key.
func (s *BadgerStore) Delete(ctx context.Context, key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(objectKey(key))
	})
	if err != nil {
		return domain.ErrDurableStore.WithCause(err)
	}
	return nil
}

// Clear removes all materialized objects.
func (s *BadgerStore) Clear(ctx context.Context) error {
	err := s.db.DropPrefix(objectPrefix)
	if err != nil {
		return domain.ErrDurableStore.WithCause(err)
	}
	return nil
}

// Scan iterates over all materialized entries.
func (s *BadgerStore) Scan(ctx context.Context, fn func(*domain.Entry) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = objectPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			key := item.KeyCopy(nil)[len(objectPrefix):]
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			entry, err := s.codec.Decode(key, data)
			if err != nil {
				return err
			}

			if !fn(entry) {
				break
			}
		}

		return nil
	})
}

// SaveCheckpoint persists the checkpoint marker.
func (s *BadgerStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("objectstore: marshal checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey, data)
	})
	if err != nil {
		return domain.ErrDurableStore.WithCause(err)
	}

	// The marker below the replay floor must not be lost to a crash.
	return s.Sync(ctx)
}

// LoadCheckpoint returns the persisted checkpoint marker.
func (s *BadgerStore) LoadCheckpoint(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNoCheckpoint
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return cp, err
		}
		return cp, domain.ErrDurableStore.WithCause(err)
	}

	return cp, nil
}

// GC triggers garbage collection.
//
// Badger uses a value log that needs periodic GC to reclaim space.
// Returns bytes reclaimed (approximate).
func (s *BadgerStore) GC(ctx context.Context) (uint64, error) {
	startTime := time.Now()

	var totalReclaimed uint64
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return totalReclaimed, fmt.Errorf("objectstore: gc: %w", err)
		}

		// Badger does not report exact reclaim sizes; count cycles.
		totalReclaimed += 1 << 20
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.gcBytesReclaimed.Add(totalReclaimed)

	s.logger.Info("gc completed",
		"bytes_reclaimed", totalReclaimed,
		"elapsed", time.Since(startTime))

	return totalReclaimed, nil
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats(ctx context.Context) (*Stats, error) {
	lsm, vlog := s.db.Size()

	var objects uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = objectPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			objects++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Stats{
		Objects:          objects,
		TotalSize:        uint64(lsm + vlog),
		LSMSize:          uint64(lsm),
		ValueLogSize:     uint64(vlog),
		LastGCTime:       s.lastGCTime.Load(),
		GCBytesReclaimed: s.gcBytesReclaimed.Load(),
	}, nil
}

// Sync forces outstanding writes to durable media.
func (s *BadgerStore) Sync(ctx context.Context) error {
	if err := s.db.Sync(); err != nil {
		return domain.ErrDurableStore.WithCause(err)
	}
	return nil
}

// Close gracefully shuts down the store.
func (s *BadgerStore) Close() error {
	s.logger.Info("shutting down object store")

	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("objectstore: close db: %w", err)
	}

	s.logger.Info("object store shutdown complete")
	return nil
}

// RegisterMetrics registers object store metrics with Prometheus.
//
// This should be called once during initialization.
// Returns the store for method chaining.
func (s *BadgerStore) RegisterMetrics(registry *prometheus.Registry) *BadgerStore {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qumap",
		Subsystem: "objectstore",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})

	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qumap",
		Subsystem: "objectstore",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})

	s.metricsTotalSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qumap",
		Subsystem: "objectstore",
		Name:      "total_size_bytes",
		Help:      "Total storage size in bytes (LSM + value log)",
	})

	s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qumap",
		Subsystem: "objectstore",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last value log GC run",
	})

	registry.MustRegister(
		s.metricsLSMSize,
		s.metricsValueLogSize,
		s.metricsTotalSize,
		s.metricsLastGCTime,
	)

	go s.metricsUpdateLoop()

	return s
}

// metricsUpdateLoop periodically updates Prometheus metrics.
func (s *BadgerStore) metricsUpdateLoop() {
	if s.metricsLSMSize == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			s.metricsLSMSize.Set(float64(lsm))
			s.metricsValueLogSize.Set(float64(vlog))
			s.metricsTotalSize.Set(float64(lsm + vlog))
			if t := s.lastGCTime.Load(); t > 0 {
				s.metricsLastGCTime.Set(float64(t) / 1000.0)
			}

		case <-s.stopCh:
			return
		}
	}
}

// gcLoop runs periodic garbage collection.
func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()

		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
