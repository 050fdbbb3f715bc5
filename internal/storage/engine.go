package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/internal/storage/bucket"
	"github.com/arbitrary-number/qumap-go/internal/storage/objectstore"
	"github.com/arbitrary-number/qumap-go/internal/storage/wal"
)

// dirtyRecord tracks an entry changed since the last checkpoint.
// A nil entry means the key was removed.
type dirtyRecord struct {
	entry *domain.Entry
}

// Engine combines the in-memory bucket table, the WAL, and the durable
// object store into one persistence coordinator.
type Engine struct {
	cfg Config

	buckets *bucket.Store
	wal     *wal.Writer
	objects objectstore.Store
	worker  *worker

	modeMu sync.RWMutex
	mode   Mode

	paused atomic.Bool
	closed atomic.Bool

	txnID atomic.Uint64

	// Dirty tracking feeds checkpoints: only keys touched since the
	// last checkpoint are rewritten in the object store.
	dirtyMu      sync.Mutex
	dirty        map[string]dirtyRecord
	clearPending bool

	lastCheckpoint atomic.Int64
	checkpoints    atomic.Uint64
	recovered      atomic.Uint64

	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a new persistence engine.
//
// This initializes all components but does NOT perform recovery.
// Call Recover() after New() to load existing data.
func New(cfg Config) (*Engine, error) {
	cfg = applyConfigDefaults(cfg)

	if !cfg.Mode.Valid() {
		return nil, domain.ErrInvalidParameters.WithDetails(
			fmt.Sprintf("unknown durability mode: %s", cfg.Mode))
	}

	bucketOpts := []bucket.Option{}
	if cfg.BucketCapacity > 0 {
		bucketOpts = append(bucketOpts, bucket.WithCapacity(cfg.BucketCapacity))
	}
	if cfg.LockTimeout > 0 {
		bucketOpts = append(bucketOpts, bucket.WithLockTimeout(cfg.LockTimeout))
	}
	buckets := bucket.New(bucketOpts...)

	e := &Engine{
		cfg:     cfg,
		buckets: buckets,
		mode:    cfg.Mode,
		dirty:   make(map[string]dirtyRecord),
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.Mode == ModeDisabled {
		close(e.doneCh)
		return e, nil
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: data_dir is required")
	}

	ciphers, err := NewCipherSet(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("storage: build ciphers: %w", err)
	}

	// The engine controls fsync timing itself, so the WAL always runs
	// in batch mode with the configured flush interval.
	walCfg := cfg.WAL
	walCfg.SyncMode = wal.SyncModeBatch
	walCfg.SyncInterval = cfg.SyncInterval
	walCfg.Cipher = ciphers.WAL

	walWriter, err := wal.NewWriter(walCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create wal writer: %w", err)
	}
	e.cfg.WAL = walCfg
	e.wal = walWriter

	codecOpts := []objectstore.CodecOption{
		objectstore.WithCompressThreshold(cfg.CompressThreshold),
		objectstore.WithCompressLevel(cfg.CompressLevel),
	}
	if ciphers.Objects != nil {
		codecOpts = append(codecOpts, objectstore.WithCipher(ciphers.Objects))
	}
	codec := objectstore.NewCodec(codecOpts...)

	objects, err := objectstore.NewBadgerStore(cfg.Badger, codec, cfg.Logger)
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("storage: create object store: %w", err)
	}
	e.objects = objects

	e.worker = newWorker(walWriter, DefaultQueueDepth, cfg.LockTimeout, cfg.Logger)

	go e.backgroundLoop()

	return e, nil
}

// NextTxnID allocates a transaction ID.
func (e *Engine) NextTxnID() uint64 {
	return e.txnID.Add(1)
}

// Mode returns the current durability mode.
func (e *Engine) Mode() Mode {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode
}

// SetMode switches the durability mode at runtime.
//
// Switching away from async drains the worker queue first, so no write
// accepted under the old mode is left buffered.
func (e *Engine) SetMode(mode Mode) error {
	if !mode.Valid() {
		return domain.ErrInvalidParameters.WithDetails(
			fmt.Sprintf("unknown durability mode: %s", mode))
	}

	e.modeMu.Lock()
	old := e.mode
	if mode == old {
		e.modeMu.Unlock()
		return nil
	}
	if old == ModeDisabled || mode == ModeDisabled {
		e.modeMu.Unlock()
		return domain.ErrInvalidParameters.WithDetails(
			"cannot switch into or out of disabled mode at runtime")
	}
	e.mode = mode
	e.modeMu.Unlock()

	if old == ModeAsync || old == ModeHybrid {
		if err := e.worker.barrier(); err != nil {
			return err
		}
		if err := e.wal.Flush(); err != nil {
			return domain.ErrDurableStore.WithCause(err)
		}
	}

	e.logger.Info("durability mode changed", "from", string(old), "to", string(mode))
	return nil
}

// Pause suspends persistence. Writes keep landing in memory and stay in
// the dirty set; the WAL and checkpoints are not touched until Resume.
func (e *Engine) Pause() {
	if e.paused.CompareAndSwap(false, true) {
		e.logger.Info("persistence paused")
	}
}

// Resume re-enables persistence and forces a checkpoint so the changes
// accumulated while paused become durable.
func (e *Engine) Resume(ctx context.Context) error {
	if !e.paused.CompareAndSwap(true, false) {
		return nil
	}
	e.logger.Info("persistence resumed")

	if e.Mode() == ModeDisabled {
		return nil
	}
	return e.Checkpoint(ctx)
}

// Paused reports whether persistence is suspended.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// persistent reports whether this write should reach the WAL.
func (e *Engine) persistent() bool {
	return e.Mode() != ModeDisabled && !e.paused.Load()
}

// syncRequired reports whether the write must be on disk before the
// call returns. Hybrid mode consults the configured predicate, which
// defaults to treating numeric values as critical.
func (e *Engine) syncRequired(vt domain.ValueType) bool {
	switch e.Mode() {
	case ModeSync:
		return true
	case ModeHybrid:
		if e.cfg.HybridSync != nil {
			return e.cfg.HybridSync(vt)
		}
		return vt == domain.ValueTypeNumeric
	}
	return false
}

// logOp routes a WAL entry through the path the current mode demands.
func (e *Engine) logOp(entry *wal.Entry, syncWrite bool) error {
	if syncWrite {
		if err := e.wal.Append(entry); err != nil {
			return domain.ErrDurableStore.WithCause(err)
		}
		if err := e.wal.Flush(); err != nil {
			return domain.ErrDurableStore.WithCause(err)
		}
		return nil
	}
	return e.worker.enqueue(entry)
}

// markDirty records a key change for the next checkpoint.
func (e *Engine) markDirty(key []byte, entry *domain.Entry) {
	e.dirtyMu.Lock()
	e.dirty[string(key)] = dirtyRecord{entry: entry}
	e.dirtyMu.Unlock()
}

// Put stores an entry.
//
// The write is durable before return in sync mode, and for critical
// values in hybrid mode. The entry must carry its bucket address.
func (e *Engine) Put(ctx context.Context, entry *domain.Entry) error {
	return e.put(ctx, entry, false)
}

// PutSync stores an entry and forces the log record onto disk before
// returning, regardless of the current durability mode.
func (e *Engine) PutSync(ctx context.Context, entry *domain.Entry) error {
	return e.put(ctx, entry, true)
}

func (e *Engine) put(ctx context.Context, entry *domain.Entry, force bool) error {
	if e.closed.Load() {
		return domain.ErrPersistenceClosed
	}

	// Memory first: a put the bucket table rejects must leave no record
	// in the log for recovery to replay.
	prev, err := e.buckets.Put(entry)
	if err != nil {
		return err
	}

	if e.persistent() {
		rec := wal.NewPutEntry(e.NextTxnID(), entry.Key, entry.Value)
		if err := e.logOp(rec, force || e.syncRequired(entry.Value.Type)); err != nil {
			e.undoPut(entry, prev)
			return err
		}
	}

	e.markDirty(entry.Key, entry)
	return nil
}

// undoPut restores the bucket table after a failed log write.
func (e *Engine) undoPut(entry, prev *domain.Entry) {
	if prev != nil {
		e.buckets.Put(prev)
		return
	}
	e.buckets.Remove(entry.Key, entry.Address)
}

// Get retrieves the entry for a key.
func (e *Engine) Get(ctx context.Context, key []byte, addr domain.BucketAddress) (*domain.Entry, error) {
	if e.closed.Load() {
		return nil, domain.ErrPersistenceClosed
	}
	return e.buckets.Get(key, addr)
}

// Contains reports whether a key exists without touching access stats.
func (e *Engine) Contains(ctx context.Context, key []byte, addr domain.BucketAddress) (bool, error) {
	if e.closed.Load() {
		return false, domain.ErrPersistenceClosed
	}
	return e.buckets.Contains(key, addr)
}

// Remove deletes the entry for a key and returns it.
func (e *Engine) Remove(ctx context.Context, key []byte, addr domain.BucketAddress) (*domain.Entry, error) {
	return e.remove(ctx, key, addr, false)
}

// RemoveSync deletes the entry for a key, forcing the log record onto
// disk before returning.
func (e *Engine) RemoveSync(ctx context.Context, key []byte, addr domain.BucketAddress) (*domain.Entry, error) {
	return e.remove(ctx, key, addr, true)
}

func (e *Engine) remove(ctx context.Context, key []byte, addr domain.BucketAddress, force bool) (*domain.Entry, error) {
	if e.closed.Load() {
		return nil, domain.ErrPersistenceClosed
	}

	// Memory first, so a miss is never logged.
	entry, err := e.buckets.Remove(key, addr)
	if err != nil {
		return nil, err
	}

	if e.persistent() {
		rec := wal.NewRemoveEntry(e.NextTxnID(), key)
		if err := e.logOp(rec, force || e.Mode() == ModeSync); err != nil {
			e.buckets.Put(entry)
			return nil, err
		}
	}

	e.markDirty(key, nil)
	return entry, nil
}

// Clear removes all entries.
func (e *Engine) Clear(ctx context.Context) error {
	return e.clear(ctx, false)
}

// ClearSync removes all entries, forcing the log record onto disk
// before returning.
func (e *Engine) ClearSync(ctx context.Context) error {
	return e.clear(ctx, true)
}

func (e *Engine) clear(ctx context.Context, force bool) error {
	if e.closed.Load() {
		return domain.ErrPersistenceClosed
	}

	if e.persistent() {
		rec := wal.NewClearEntry(e.NextTxnID())
		if err := e.logOp(rec, force || e.Mode() == ModeSync); err != nil {
			return err
		}
	}

	if err := e.buckets.Clear(); err != nil {
		return err
	}

	e.dirtyMu.Lock()
	e.dirty = make(map[string]dirtyRecord)
	e.clearPending = true
	e.dirtyMu.Unlock()

	return nil
}

// Count returns the number of entries.
func (e *Engine) Count(ctx context.Context) int {
	return e.buckets.Count()
}

// Scan iterates over all entries.
func (e *Engine) Scan(fn func(*domain.Entry) bool) {
	e.buckets.Scan(fn)
}

// Buckets exposes the bucket table for statistics.
func (e *Engine) Buckets() *bucket.Store {
	return e.buckets
}

// Sync drains pending async writes and fsyncs the WAL.
func (e *Engine) Sync(ctx context.Context) error {
	if e.Mode() == ModeDisabled {
		return domain.ErrPersistenceDisabled
	}
	if err := e.worker.barrier(); err != nil {
		return err
	}
	if err := e.wal.Flush(); err != nil {
		return domain.ErrDurableStore.WithCause(err)
	}
	return nil
}

// Checkpoint materializes dirty entries into the object store, records
// a checkpoint marker, and compacts WAL segments below it.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.Mode() == ModeDisabled {
		return domain.ErrPersistenceDisabled
	}
	if e.closed.Load() {
		return domain.ErrPersistenceClosed
	}
	return e.checkpoint(ctx)
}

// checkpoint is the Checkpoint body without the admission checks, so
// shutdown can take the final checkpoint with the closed flag set.
func (e *Engine) checkpoint(ctx context.Context) error {
	startTime := time.Now()

	// Everything queued so far must be in the log before the marker.
	if err := e.Sync(ctx); err != nil {
		return domain.ErrCheckpointFailed.WithCause(err)
	}

	txnID := e.NextTxnID()
	if err := e.wal.Append(wal.NewCheckpointEntry(txnID)); err != nil {
		return domain.ErrCheckpointFailed.WithCause(err)
	}
	if err := e.wal.Flush(); err != nil {
		return domain.ErrCheckpointFailed.WithCause(err)
	}
	checkpointOffset := e.wal.CurrentOffset()

	// Swap out the dirty set. On failure it is merged back, so the
	// next checkpoint retries those keys.
	e.dirtyMu.Lock()
	dirty := e.dirty
	clearPending := e.clearPending
	e.dirty = make(map[string]dirtyRecord)
	e.clearPending = false
	e.dirtyMu.Unlock()

	restore := func() {
		e.dirtyMu.Lock()
		for k, rec := range dirty {
			if _, exists := e.dirty[k]; !exists {
				e.dirty[k] = rec
			}
		}
		e.clearPending = e.clearPending || clearPending
		e.dirtyMu.Unlock()
	}

	if clearPending {
		if err := e.objects.Clear(ctx); err != nil {
			restore()
			return domain.ErrCheckpointFailed.WithCause(err)
		}
	}

	for key, rec := range dirty {
		var err error
		if rec.entry != nil {
			err = e.objects.Put(ctx, rec.entry)
		} else {
			err = e.objects.Delete(ctx, []byte(key))
		}
		if err != nil {
			restore()
			return domain.ErrCheckpointFailed.WithCause(err)
		}
	}

	cp := objectstore.Checkpoint{
		WALOffset: checkpointOffset,
		TxnID:     txnID,
		Timestamp: time.Now().UnixMilli(),
		Entries:   e.buckets.Count(),
	}
	if err := e.objects.SaveCheckpoint(ctx, cp); err != nil {
		restore()
		return domain.ErrCheckpointFailed.WithCause(err)
	}

	e.lastCheckpoint.Store(cp.Timestamp)
	e.checkpoints.Add(1)

	// Best-effort compaction of segments fully below the marker.
	compactor := wal.NewCompactor(e.cfg.WAL.Dir)
	if err := compactor.Compact(checkpointOffset); err != nil {
		e.logger.Warn("wal compaction failed", "error", err)
	}

	e.logger.Info("checkpoint completed",
		"txn_id", txnID,
		"wal_offset", checkpointOffset,
		"dirty_keys", len(dirty),
		"elapsed", time.Since(startTime))

	return nil
}

// Recover rebuilds in-memory state from the object store and the WAL.
//
// Recovery process:
//  1. Load the checkpoint marker (if any)
//  2. Scan materialized objects into the bucket table
//  3. Replay WAL entries past the checkpoint offset
//
// A torn record at the WAL tail is a normal crash artifact and ends
// replay cleanly. Corruption anywhere before the tail aborts recovery.
func (e *Engine) Recover(ctx context.Context) error {
	if e.Mode() == ModeDisabled {
		return nil
	}

	startTime := time.Now()
	e.logger.Info("recovery started")

	walOffset := uint64(0)
	cp, err := e.objects.LoadCheckpoint(ctx)
	switch {
	case err == nil:
		walOffset = cp.WALOffset
		e.lastCheckpoint.Store(cp.Timestamp)
		if cp.TxnID > e.txnID.Load() {
			e.txnID.Store(cp.TxnID)
		}
		e.logger.Info("checkpoint found",
			"wal_offset", cp.WALOffset,
			"txn_id", cp.TxnID,
			"entries", cp.Entries)
	case errors.Is(err, objectstore.ErrNoCheckpoint):
		e.logger.Info("no checkpoint found, starting from wal origin")
	default:
		return domain.ErrRecoveryFailed.WithCause(err)
	}

	loaded := 0
	err = e.objects.Scan(ctx, func(entry *domain.Entry) bool {
		if _, perr := e.buckets.Put(entry); perr != nil {
			e.logger.Warn("restore object failed",
				"entry_id", entry.ID,
				"error", perr)
			return true
		}
		loaded++
		return true
	})
	if err != nil {
		return domain.ErrRecoveryFailed.WithCause(err)
	}

	applied, err := e.replayWAL(ctx, walOffset)
	if err != nil {
		return err
	}

	e.recovered.Store(uint64(loaded + applied))
	e.logger.Info("recovery completed",
		"objects_loaded", loaded,
		"wal_entries_applied", applied,
		"entry_count", e.buckets.Count(),
		"elapsed", time.Since(startTime))

	return nil
}

// replayWAL replays WAL entries from the given composite offset.
func (e *Engine) replayWAL(ctx context.Context, fromOffset uint64) (int, error) {
	reader, err := wal.NewReader(e.cfg.WAL.Dir, e.cfg.WAL.Cipher)
	if err != nil {
		return 0, domain.ErrRecoveryFailed.WithCause(err)
	}
	defer reader.Close()

	if fromOffset > 0 {
		if err := reader.Seek(fromOffset); err != nil {
			return 0, domain.ErrRecoveryFailed.WithCause(err)
		}
	}

	applied := 0
	maxTxn := e.txnID.Load()

	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		entry, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, wal.ErrTornTail) {
				e.logger.Warn("torn record at wal tail, replay stopped",
					"entries_applied", applied)
				break
			}
			return applied, domain.ErrWALCorruption.WithCause(err)
		}

		if entry.TxnID > maxTxn {
			maxTxn = entry.TxnID
		}

		if err := e.applyEntry(entry); err != nil {
			e.logger.Warn("apply wal entry failed",
				"op", entry.OpType.String(),
				"error", err)
			continue
		}
		applied++
	}

	if maxTxn > e.txnID.Load() {
		e.txnID.Store(maxTxn)
	}

	return applied, nil
}

// applyEntry applies a replayed WAL entry to the bucket table. The
// replayed state is freshly dirty relative to the checkpoint, so the
// next checkpoint rematerializes it.
func (e *Engine) applyEntry(walEntry *wal.Entry) error {
	switch walEntry.OpType {
	case wal.OpTypePut:
		value, err := domain.NewValue(walEntry.Value, walEntry.ValueType)
		if err != nil {
			return err
		}
		addr, err := e.replayAddress(walEntry.Key)
		if err != nil {
			return err
		}
		entry, err := domain.NewEntry(walEntry.Key, value, addr)
		if err != nil {
			return err
		}
		entry.CreatedAt = walEntry.Timestamp
		entry.ModifiedAt = walEntry.Timestamp

		if _, err := e.buckets.Put(entry); err != nil {
			return err
		}
		e.markDirty(walEntry.Key, entry)
		return nil

	case wal.OpTypeRemove:
		addr, err := e.replayAddress(walEntry.Key)
		if err != nil {
			return err
		}
		if _, err := e.buckets.Remove(walEntry.Key, addr); err != nil {
			// The key may already be gone; not an error during replay.
			if !errors.Is(err, domain.ErrKeyNotFound) {
				return err
			}
		}
		e.markDirty(walEntry.Key, nil)
		return nil

	case wal.OpTypeClear:
		if err := e.buckets.Clear(); err != nil {
			return err
		}
		e.dirtyMu.Lock()
		e.dirty = make(map[string]dirtyRecord)
		e.clearPending = true
		e.dirtyMu.Unlock()
		return nil

	case wal.OpTypeCheckpoint, wal.OpTypeRollback:
		// Markers carry no state.
		return nil

	default:
		return fmt.Errorf("unknown entry type: %d", walEntry.OpType)
	}
}

func (e *Engine) replayAddress(key []byte) (domain.BucketAddress, error) {
	if e.cfg.AddressFunc == nil {
		return domain.BucketAddress{}, fmt.Errorf("storage: no address function configured")
	}
	return e.cfg.AddressFunc(key)
}

// backgroundLoop runs periodic checkpoints.
func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	if e.cfg.CheckpointInterval <= 0 {
		<-e.stopCh
		return
	}

	ticker := time.NewTicker(e.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.paused.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := e.Checkpoint(ctx); err != nil {
				e.logger.Error("auto checkpoint failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// Close gracefully shuts down the engine. Pending async writes are
// drained and a final checkpoint is taken.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.logger.Info("shutting down storage engine")

	if e.Mode() == ModeDisabled {
		return nil
	}

	close(e.stopCh)
	<-e.doneCh

	// The final checkpoint runs with the closed flag still set, so new
	// operations stay rejected for the whole shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := e.checkpoint(ctx); err != nil {
		e.logger.Warn("final checkpoint failed", "error", err)
	}
	cancel()

	e.worker.close()

	if err := e.wal.Close(); err != nil {
		e.logger.Error("close wal failed", "error", err)
	}

	if err := e.objects.Close(); err != nil {
		e.logger.Error("close object store failed", "error", err)
		return err
	}

	e.logger.Info("storage engine shutdown complete")
	return nil
}
