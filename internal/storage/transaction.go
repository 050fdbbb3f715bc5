package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/internal/storage/wal"
)

// txnOp is a buffered transaction operation.
type txnOp struct {
	op    wal.OpType
	entry *domain.Entry
	key   []byte
	addr  domain.BucketAddress
}

// Txn buffers a group of operations that commit atomically.
//
// Nothing reaches the WAL or the bucket table until Commit: reads
// issued while a transaction is open see the pre-transaction state,
// and Rollback simply discards the buffer.
type Txn struct {
	engine *Engine
	id     uint64

	mu    sync.Mutex
	ops   []txnOp
	bytes int64
	done  bool
}

// Begin starts a new transaction.
func (e *Engine) Begin() (*Txn, error) {
	if e.closed.Load() {
		return nil, domain.ErrPersistenceClosed
	}
	return &Txn{
		engine: e,
		id:     e.NextTxnID(),
	}, nil
}

// ID returns the transaction identifier.
func (t *Txn) ID() uint64 {
	return t.id
}

// Put buffers a store operation.
func (t *Txn) Put(entry *domain.Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return domain.ErrNoTransaction
	}

	grown := t.bytes + int64(len(entry.Key)) + int64(entry.Value.Size())
	if grown > t.engine.cfg.MaxTxnBytes {
		return domain.ErrTransactionTooLarge.WithDetails(
			"transaction payload exceeds configured maximum")
	}

	t.ops = append(t.ops, txnOp{op: wal.OpTypePut, entry: entry})
	t.bytes = grown
	return nil
}

// Remove buffers a delete operation.
func (t *Txn) Remove(key []byte, addr domain.BucketAddress) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return domain.ErrNoTransaction
	}

	grown := t.bytes + int64(len(key))
	if grown > t.engine.cfg.MaxTxnBytes {
		return domain.ErrTransactionTooLarge.WithDetails(
			"transaction payload exceeds configured maximum")
	}

	k := make([]byte, len(key))
	copy(k, key)
	t.ops = append(t.ops, txnOp{op: wal.OpTypeRemove, key: k, addr: addr})
	t.bytes = grown
	return nil
}

// Len returns the number of buffered operations.
func (t *Txn) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Commit writes the buffered operations to the WAL under one
// transaction ID and applies them to the bucket table in order.
//
// In sync mode (and hybrid mode when any buffered value is critical)
// the log is fsynced before memory is touched.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return domain.ErrNoTransaction
	}
	t.done = true

	e := t.engine
	if e.closed.Load() {
		return domain.ErrPersistenceClosed
	}

	if len(t.ops) == 0 {
		return nil
	}

	if e.persistent() {
		syncWrite := e.Mode() == ModeSync
		if e.Mode() == ModeHybrid {
			for _, op := range t.ops {
				if op.op == wal.OpTypePut && e.syncRequired(op.entry.Value.Type) {
					syncWrite = true
					break
				}
			}
		}

		for _, op := range t.ops {
			var rec *wal.Entry
			switch op.op {
			case wal.OpTypePut:
				rec = wal.NewPutEntry(t.id, op.entry.Key, op.entry.Value)
			case wal.OpTypeRemove:
				rec = wal.NewRemoveEntry(t.id, op.key)
			}

			var err error
			if syncWrite {
				err = e.wal.Append(rec)
			} else {
				err = e.worker.enqueue(rec)
			}
			if err != nil {
				return domain.ErrDurableStore.WithCause(err)
			}
		}

		if syncWrite {
			if err := e.wal.Flush(); err != nil {
				return domain.ErrDurableStore.WithCause(err)
			}
		}
	}

	for _, op := range t.ops {
		switch op.op {
		case wal.OpTypePut:
			if _, err := e.buckets.Put(op.entry); err != nil {
				return err
			}
			e.markDirty(op.entry.Key, op.entry)

		case wal.OpTypeRemove:
			if _, err := e.buckets.Remove(op.key, op.addr); err != nil {
				if !errors.Is(err, domain.ErrKeyNotFound) {
					return err
				}
			}
			e.markDirty(op.key, nil)
		}
	}

	t.ops = nil
	return nil
}

// Rollback discards the buffered operations. A rollback marker is
// logged so the abandoned transaction ID is visible in the WAL.
func (t *Txn) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return domain.ErrNoTransaction
	}
	t.done = true

	e := t.engine
	if len(t.ops) > 0 && e.persistent() && !e.closed.Load() {
		if err := e.worker.enqueue(wal.NewRollbackEntry(t.id)); err != nil {
			e.logger.Warn("rollback marker write failed",
				"txn_id", t.id,
				"error", err)
		}
	}

	t.ops = nil
	return nil
}
