package storage

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/internal/storage/wal"
)

// DefaultQueueDepth is the async worker queue capacity.
const DefaultQueueDepth = 4096

// task is one unit of work for the async worker. A task with a nil
// entry is a barrier: the worker acknowledges it once everything queued
// before it has reached the WAL.
type task struct {
	entry *wal.Entry
	ack   chan error
}

// worker serializes WAL appends behind a bounded queue. Producers block
// up to the configured timeout when the queue is full, then the write
// is rejected with a lock timeout error.
type worker struct {
	wal     *wal.Writer
	queue   chan task
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	lastErr error

	// failures counts background appends that never reached the log.
	// The statistics snapshot folds it into the failed operation count.
	failures atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

func newWorker(w *wal.Writer, depth int, timeout time.Duration, logger *slog.Logger) *worker {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	wk := &worker{
		wal:     w,
		queue:   make(chan task, depth),
		timeout: timeout,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go wk.run()
	return wk
}

// enqueue submits an entry for background persistence.
func (wk *worker) enqueue(e *wal.Entry) error {
	t := task{entry: e}

	select {
	case wk.queue <- t:
		return nil
	default:
	}

	timer := time.NewTimer(wk.timeout)
	defer timer.Stop()

	select {
	case wk.queue <- t:
		return nil
	case <-timer.C:
		return domain.ErrLockTimeout.WithDetails("async write queue full")
	case <-wk.stopCh:
		return domain.ErrPersistenceClosed
	}
}

// barrier blocks until every entry queued before the call has been
// handed to the WAL writer, and returns the first append error seen
// since the previous barrier.
func (wk *worker) barrier() error {
	t := task{ack: make(chan error, 1)}

	select {
	case wk.queue <- t:
	case <-wk.stopCh:
		return domain.ErrPersistenceClosed
	}

	select {
	case err := <-t.ack:
		return err
	case <-wk.doneCh:
		return domain.ErrPersistenceClosed
	}
}

// depth returns the number of queued tasks.
func (wk *worker) depth() int {
	return len(wk.queue)
}

// failureCount returns the number of failed background appends.
func (wk *worker) failureCount() uint64 {
	return wk.failures.Load()
}

func (wk *worker) run() {
	defer close(wk.doneCh)

	for {
		select {
		case t := <-wk.queue:
			wk.handle(t)

		case <-wk.stopCh:
			// Drain remaining tasks before exiting.
			for {
				select {
				case t := <-wk.queue:
					wk.handle(t)
				default:
					return
				}
			}
		}
	}
}

func (wk *worker) handle(t task) {
	if t.entry == nil {
		wk.mu.Lock()
		err := wk.lastErr
		wk.lastErr = nil
		wk.mu.Unlock()
		t.ack <- err
		return
	}

	if err := wk.wal.Append(t.entry); err != nil {
		wk.failures.Add(1)
		wk.logger.Error("async wal append failed",
			"op", t.entry.OpType.String(),
			"error", err)
		wk.mu.Lock()
		if wk.lastErr == nil {
			wk.lastErr = err
		}
		wk.mu.Unlock()
	}
}

// close stops the worker after draining the queue.
func (wk *worker) close() {
	close(wk.stopCh)
	<-wk.doneCh
}
