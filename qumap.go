// Package qumap implements a persistent key-value map whose bucket
// addresses derive from elliptic-curve scalar multiplication.
//
// Each key is hashed to a scalar, multiplied onto the secp256k1 base
// point, and the resulting x coordinate becomes the 256-bit bucket
// address. Durability comes from a write-ahead log with sync, async,
// and hybrid modes, checkpointed into a Badger-backed object store.
package qumap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/internal/curve"
	"github.com/arbitrary-number/qumap-go/internal/storage"
	"github.com/arbitrary-number/qumap-go/pkg/locks"
)

// Value types. The numeric values are part of the on-disk format.
type ValueType = domain.ValueType

const (
	ValueTypeNumeric = domain.ValueTypeNumeric
	ValueTypeBinary  = domain.ValueTypeBinary
	ValueTypeString  = domain.ValueTypeString
	ValueTypeAST     = domain.ValueTypeAST
	ValueTypeProof   = domain.ValueTypeProof
	ValueTypeCustom  = domain.ValueTypeCustom
)

// Value is a typed payload.
type Value = domain.Value

// Entry is a stored key-value pair with addressing metadata.
type Entry = domain.Entry

// Durability modes.
type Mode = storage.Mode

const (
	ModeDisabled = storage.ModeDisabled
	ModeSync     = storage.ModeSync
	ModeAsync    = storage.ModeAsync
	ModeHybrid   = storage.ModeHybrid
)

// Errors returned by Map operations.
var (
	ErrKeyNotFound            = domain.ErrKeyNotFound
	ErrInvalidParameters      = domain.ErrInvalidParameters
	ErrKeyTooLong             = domain.ErrKeyTooLong
	ErrValueTooLarge          = domain.ErrValueTooLarge
	ErrBucketCapacityExceeded = domain.ErrBucketCapacityExceeded
	ErrLockTimeout            = domain.ErrLockTimeout
	ErrTransactionActive      = domain.ErrTransactionActive
	ErrNoTransaction          = domain.ErrNoTransaction
	ErrTransactionTooLarge    = domain.ErrTransactionTooLarge
	ErrPersistenceDisabled    = domain.ErrPersistenceDisabled
	ErrClosed                 = domain.ErrPersistenceClosed
)

// DefaultMaxConcurrentOps bounds concurrent map operations.
const DefaultMaxConcurrentOps = storage.DefaultMaxConcurrentOps

// Map is a persistent, curve-addressed key-value store.
//
// All methods are safe for concurrent use. Transaction state is one
// open transaction per Map handle.
type Map struct {
	cfg      storage.Config
	engine   *storage.Engine
	addr     *curve.Addresser
	gate     *locks.Gate
	timeout  time.Duration
	logger   *slog.Logger

	txnMu sync.Mutex
	txn   *storage.Txn

	metrics opMetrics

	closed atomic.Bool
}

// opMetrics tracks facade-level operation counters.
type opMetrics struct {
	total   atomic.Uint64
	success atomic.Uint64
	failed  atomic.Uint64

	syncOps  atomic.Uint64
	asyncOps atomic.Uint64

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	syncLatencyNs  atomic.Uint64
	asyncLatencyNs atomic.Uint64
}

type options struct {
	cfg           storage.Config
	curveOpts     []curve.Option
	maxConcurrent int64
}

// Option configures a Map.
type Option func(*options)

// WithMode sets the durability mode.
func WithMode(mode Mode) Option {
	return func(o *options) { o.cfg.Mode = mode }
}

// WithSyncInterval sets the async flush interval.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.SyncInterval = d }
}

// WithCheckpointInterval sets the automatic checkpoint interval.
// Zero disables automatic checkpoints.
func WithCheckpointInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.CheckpointInterval = d }
}

// WithBucketCapacity sets the fixed bucket table capacity.
func WithBucketCapacity(n int) Option {
	return func(o *options) { o.cfg.BucketCapacity = n }
}

// WithLockTimeout bounds how long operations wait for admission or for
// the async queue.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.LockTimeout = d }
}

// WithMaxConcurrentOps bounds the number of in-flight operations.
func WithMaxConcurrentOps(n int64) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithCompression tunes object compression. Level 0 disables it.
func WithCompression(level, threshold int) Option {
	return func(o *options) {
		o.cfg.CompressLevel = level
		o.cfg.CompressThreshold = threshold
	}
}

// WithEncryptionKey enables at-rest encryption with a raw master key.
func WithEncryptionKey(key []byte) Option {
	return func(o *options) { o.cfg.Encryption.Key = key }
}

// WithEncryptionPassphrase enables at-rest encryption with a
// passphrase-derived key. The salt must be the one persisted from the
// first open, or nil on first open.
func WithEncryptionPassphrase(passphrase, salt []byte) Option {
	return func(o *options) {
		o.cfg.Encryption.Passphrase = passphrase
		o.cfg.Encryption.Salt = salt
	}
}

// WithHybridSync sets the predicate hybrid mode uses to decide which
// writes must be synchronously durable. The default treats numeric
// values as critical.
func WithHybridSync(pred func(ValueType) bool) Option {
	return func(o *options) { o.cfg.HybridSync = pred }
}

// WithDomainSeparator namespaces the address space, so two maps with
// the same keys use unrelated bucket addresses.
func WithDomainSeparator(tag []byte) Option {
	return func(o *options) {
		o.curveOpts = append(o.curveOpts, curve.WithDomainSeparator(tag))
	}
}

// WithoutRecovery skips crash recovery on open.
func WithoutRecovery() Option {
	return func(o *options) { o.cfg.SkipRecovery = true }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.cfg.Logger = logger }
}

// Open creates or reopens a map rooted at dataDir.
//
// With ModeDisabled the dataDir may be empty and nothing touches disk.
// Otherwise recovery runs unless WithoutRecovery is given.
func Open(dataDir string, opts ...Option) (*Map, error) {
	o := options{
		cfg:           storage.DefaultConfig(dataDir),
		maxConcurrent: DefaultMaxConcurrentOps,
	}
	for _, opt := range opts {
		opt(&o)
	}

	addresser := curve.New(o.curveOpts...)
	o.cfg.AddressFunc = addresser.Address

	engine, err := storage.New(o.cfg)
	if err != nil {
		return nil, err
	}

	m := &Map{
		cfg:     o.cfg,
		engine:  engine,
		addr:    addresser,
		gate:    locks.NewGate(o.maxConcurrent),
		timeout: o.cfg.LockTimeout,
		logger:  o.cfg.Logger,
	}
	if m.timeout == 0 {
		m.timeout = storage.DefaultLockTimeout
	}

	if o.cfg.Mode != ModeDisabled && !o.cfg.SkipRecovery {
		if err := engine.Recover(context.Background()); err != nil {
			engine.Close()
			return nil, err
		}
	}

	return m, nil
}

// enter admits one operation, or rejects it after the lock timeout.
func (m *Map) enter() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.gate.Enter(m.timeout); err != nil {
		if errors.Is(err, locks.ErrTimeout) {
			return ErrLockTimeout.WithDetails("operation admission timed out")
		}
		return err
	}
	return nil
}

// record finishes the bookkeeping for one operation. syncWrite marks
// writes that were forced onto disk regardless of mode.
func (m *Map) record(start time.Time, wrote, read int, syncWrite bool, err error) {
	m.metrics.total.Add(1)
	if err != nil {
		m.metrics.failed.Add(1)
		return
	}
	m.metrics.success.Add(1)

	if wrote > 0 {
		m.metrics.bytesWritten.Add(uint64(wrote))
		elapsed := uint64(time.Since(start).Nanoseconds())
		if syncWrite || m.engine.Mode() == ModeSync {
			m.metrics.syncOps.Add(1)
			m.metrics.syncLatencyNs.Add(elapsed)
		} else {
			m.metrics.asyncOps.Add(1)
			m.metrics.asyncLatencyNs.Add(elapsed)
		}
	}
	if read > 0 {
		m.metrics.bytesRead.Add(uint64(read))
	}
}

// Put stores a typed value under key, replacing any existing value.
func (m *Map) Put(ctx context.Context, key string, data []byte, vt ValueType) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.gate.Leave()

	start := time.Now()
	err := m.put(ctx, key, data, vt, false)
	m.record(start, len(key)+len(data), 0, false, err)
	return err
}

// PutSync stores a typed value under key and fsyncs the log record
// before returning, regardless of the configured durability mode.
func (m *Map) PutSync(ctx context.Context, key string, data []byte, vt ValueType) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.gate.Leave()

	start := time.Now()
	err := m.put(ctx, key, data, vt, true)
	m.record(start, len(key)+len(data), 0, true, err)
	return err
}

func (m *Map) put(ctx context.Context, key string, data []byte, vt ValueType, force bool) error {
	value, err := domain.NewValue(data, vt)
	if err != nil {
		return err
	}

	addr, err := m.addr.Address([]byte(key))
	if err != nil {
		return err
	}

	entry, err := domain.NewEntry([]byte(key), value, addr)
	if err != nil {
		return err
	}

	if force {
		return m.engine.PutSync(ctx, entry)
	}
	return m.engine.Put(ctx, entry)
}

// PutString stores a UTF-8 string value.
func (m *Map) PutString(ctx context.Context, key, value string) error {
	return m.Put(ctx, key, []byte(value), ValueTypeString)
}

// PutBinary stores an opaque byte value.
func (m *Map) PutBinary(ctx context.Context, key string, value []byte) error {
	return m.Put(ctx, key, value, ValueTypeBinary)
}

// Get returns a copy of the value stored under key.
func (m *Map) Get(ctx context.Context, key string) (Value, error) {
	if err := m.enter(); err != nil {
		return Value{}, err
	}
	defer m.gate.Leave()

	start := time.Now()
	value, err := m.get(ctx, key)
	m.record(start, 0, value.Size(), false, err)
	return value, err
}

func (m *Map) get(ctx context.Context, key string) (Value, error) {
	addr, err := m.addr.Address([]byte(key))
	if err != nil {
		return Value{}, err
	}

	entry, err := m.engine.Get(ctx, []byte(key), addr)
	if err != nil {
		return Value{}, err
	}

	// The caller owns the returned buffer.
	return entry.Value.Clone(), nil
}

// GetString returns the value under key as a string.
// The stored value must be of string type.
func (m *Map) GetString(ctx context.Context, key string) (string, error) {
	value, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if value.Type != ValueTypeString {
		return "", domain.ErrInvalidValue.WithDetails(
			fmt.Sprintf("stored type is %s, not string", value.Type))
	}
	return string(value.Data), nil
}

// GetBinary returns the raw bytes of the value under key.
func (m *Map) GetBinary(ctx context.Context, key string) ([]byte, error) {
	value, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return value.Data, nil
}

// Remove deletes the entry under key.
func (m *Map) Remove(ctx context.Context, key string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.gate.Leave()

	start := time.Now()
	err := m.remove(ctx, key, false)
	m.record(start, len(key), 0, false, err)
	return err
}

// RemoveSync deletes the entry under key and fsyncs the log record
// before returning, regardless of the configured durability mode.
func (m *Map) RemoveSync(ctx context.Context, key string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.gate.Leave()

	start := time.Now()
	err := m.remove(ctx, key, true)
	m.record(start, len(key), 0, true, err)
	return err
}

func (m *Map) remove(ctx context.Context, key string, force bool) error {
	addr, err := m.addr.Address([]byte(key))
	if err != nil {
		return err
	}
	if force {
		_, err = m.engine.RemoveSync(ctx, []byte(key), addr)
		return err
	}
	_, err = m.engine.Remove(ctx, []byte(key), addr)
	return err
}

// Contains reports whether key exists. It never copies the payload and
// does not count as an access.
func (m *Map) Contains(ctx context.Context, key string) (bool, error) {
	if err := m.enter(); err != nil {
		return false, err
	}
	defer m.gate.Leave()

	addr, err := m.addr.Address([]byte(key))
	if err != nil {
		return false, err
	}
	return m.engine.Contains(ctx, []byte(key), addr)
}

// Clear removes all entries.
func (m *Map) Clear(ctx context.Context) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.gate.Leave()

	start := time.Now()
	err := m.engine.Clear(ctx)
	m.record(start, 1, 0, false, err)
	return err
}

// Size returns the number of stored entries.
func (m *Map) Size() int {
	return m.engine.Count(context.Background())
}

// Scan iterates over all entries until fn returns false.
func (m *Map) Scan(fn func(*Entry) bool) {
	m.engine.Scan(fn)
}

// Begin opens a transaction. Only one transaction may be open per Map
// handle at a time.
func (m *Map) Begin() error {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()

	if m.txn != nil {
		return ErrTransactionActive
	}

	txn, err := m.engine.Begin()
	if err != nil {
		return err
	}
	m.txn = txn
	return nil
}

// TransactionPut buffers a put inside the open transaction.
func (m *Map) TransactionPut(key string, data []byte, vt ValueType) error {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()

	if m.txn == nil {
		return ErrNoTransaction
	}

	value, err := domain.NewValue(data, vt)
	if err != nil {
		return err
	}
	addr, err := m.addr.Address([]byte(key))
	if err != nil {
		return err
	}
	entry, err := domain.NewEntry([]byte(key), value, addr)
	if err != nil {
		return err
	}
	return m.txn.Put(entry)
}

// TransactionRemove buffers a remove inside the open transaction.
func (m *Map) TransactionRemove(key string) error {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()

	if m.txn == nil {
		return ErrNoTransaction
	}

	addr, err := m.addr.Address([]byte(key))
	if err != nil {
		return err
	}
	return m.txn.Remove([]byte(key), addr)
}

// Commit atomically applies the open transaction.
func (m *Map) Commit(ctx context.Context) error {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()

	if m.txn == nil {
		return ErrNoTransaction
	}

	start := time.Now()
	err := m.txn.Commit(ctx)
	m.txn = nil
	m.record(start, 1, 0, false, err)
	return err
}

// Rollback discards the open transaction.
func (m *Map) Rollback(ctx context.Context) error {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()

	if m.txn == nil {
		return ErrNoTransaction
	}

	err := m.txn.Rollback(ctx)
	m.txn = nil
	return err
}

// Sync drains pending async writes and fsyncs the WAL.
func (m *Map) Sync(ctx context.Context) error {
	return m.engine.Sync(ctx)
}

// Checkpoint forces a checkpoint: dirty entries are materialized into
// the object store and old WAL segments become reclaimable.
func (m *Map) Checkpoint(ctx context.Context) error {
	return m.engine.Checkpoint(ctx)
}

// Pause suspends persistence; writes stay in memory until Resume.
func (m *Map) Pause() {
	m.engine.Pause()
}

// Resume re-enables persistence and checkpoints accumulated changes.
func (m *Map) Resume(ctx context.Context) error {
	return m.engine.Resume(ctx)
}

// SetMode switches the durability mode at runtime.
func (m *Map) SetMode(mode Mode) error {
	return m.engine.SetMode(mode)
}

// Mode returns the current durability mode.
func (m *Map) Mode() Mode {
	return m.engine.Mode()
}

// Close drains pending writes, takes a final checkpoint, and releases
// all resources. The Map must not be used afterwards.
func (m *Map) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.txnMu.Lock()
	if m.txn != nil {
		m.txn.Rollback(context.Background())
		m.txn = nil
	}
	m.txnMu.Unlock()

	return m.engine.Close()
}
