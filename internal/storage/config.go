package storage

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/internal/storage/objectstore"
	"github.com/arbitrary-number/qumap-go/internal/storage/wal"
)

// Mode selects how writes reach durable storage.
type Mode string

const (
	// ModeDisabled keeps all data in memory only.
	ModeDisabled Mode = "disabled"

	// ModeSync flushes and fsyncs the WAL before every write returns.
	ModeSync Mode = "sync"

	// ModeAsync hands writes to a background worker.
	ModeAsync Mode = "async"

	// ModeHybrid persists critical values synchronously and the rest
	// through the async worker.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeDisabled, ModeSync, ModeAsync, ModeHybrid:
		return true
	}
	return false
}

// Default configuration values.
const (
	DefaultSyncInterval       = time.Second
	DefaultCheckpointInterval = 30 * time.Second
	DefaultLockTimeout        = 5 * time.Second
	DefaultMaxConcurrentOps   = 64
	DefaultMaxTxnBytes        = 64 << 20
	DefaultWALDir             = "wal"
	DefaultObjectDir          = "objects"
)

// Config configures the persistence engine.
type Config struct {
	// DataDir is the base directory for all storage files.
	DataDir string

	// Mode selects the durability mode.
	// Default: async
	Mode Mode

	// SyncInterval is the async flush interval.
	// Default: 1s
	SyncInterval time.Duration

	// CheckpointInterval is the interval between automatic checkpoints.
	// Zero disables automatic checkpoints.
	// Default: 30s
	CheckpointInterval time.Duration

	// LockTimeout bounds how long a write waits for the async worker
	// queue before it is rejected.
	// Default: 5s
	LockTimeout time.Duration

	// MaxTxnBytes caps the accumulated payload of a single transaction.
	// Default: 64MB
	MaxTxnBytes int64

	// BucketCapacity is the fixed bucket table capacity.
	// Default: domain.DefaultBucketCapacity
	BucketCapacity int

	// WAL configuration.
	WAL wal.Config

	// Badger configuration for the object store.
	Badger objectstore.BadgerConfig

	// CompressThreshold and CompressLevel tune object compression.
	// A level of 0 disables compression.
	CompressThreshold int
	CompressLevel     int

	// Encryption configures optional at-rest encryption.
	Encryption EncryptionConfig

	// HybridSync selects which writes hybrid mode persists
	// synchronously. Nil treats numeric values as critical.
	HybridSync func(vt domain.ValueType) bool

	// AddressFunc derives the bucket address for a raw key. Required
	// for WAL replay, where only key bytes are on disk.
	AddressFunc func(key []byte) (domain.BucketAddress, error)

	// SkipRecovery disables crash recovery when the engine starts.
	SkipRecovery bool

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		Mode:               ModeAsync,
		SyncInterval:       DefaultSyncInterval,
		CheckpointInterval: DefaultCheckpointInterval,
		LockTimeout:        DefaultLockTimeout,
		MaxTxnBytes:        DefaultMaxTxnBytes,
		WAL:                wal.DefaultConfig(filepath.Join(dataDir, DefaultWALDir)),
		Badger:             objectstore.DefaultBadgerConfig(filepath.Join(dataDir, DefaultObjectDir)),
		CompressThreshold:  objectstore.DefaultCompressThreshold,
		CompressLevel:      objectstore.DefaultCompressLevel,
		Logger:             slog.Default(),
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.MaxTxnBytes == 0 {
		cfg.MaxTxnBytes = DefaultMaxTxnBytes
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL = wal.DefaultConfig(filepath.Join(cfg.DataDir, DefaultWALDir))
	}
	if cfg.Badger.Dir == "" {
		cfg.Badger = objectstore.DefaultBadgerConfig(filepath.Join(cfg.DataDir, DefaultObjectDir))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
