package bucket

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/pkg/cmap"
	"github.com/arbitrary-number/qumap-go/pkg/locks"
)

// Address indexes a bucket. It is the X coordinate of the key's
// derived curve point.
type Address = [domain.AddressSize]byte

// defaultLockTimeout bounds store-wide lock waits when no timeout is
// configured.
const defaultLockTimeout = 5 * time.Second

// Bucket holds all entries whose addresses share an X coordinate.
// Chains stay short in practice: a chain longer than one means two
// distinct keys produced the same coordinate.
type Bucket struct {
	Entries []*domain.Entry
}

// Store is the fixed-capacity, address-indexed bucket cache.
type Store struct {
	buckets  *cmap.Map[Address, *Bucket]
	capacity int

	// Store-wide timed lock. Individual operations take it shared;
	// Clear takes it exclusive. Acquisition is bounded, so a stalled
	// holder surfaces as ErrLockTimeout instead of a hang.
	mu          *locks.RWTimeout
	lockTimeout time.Duration

	// bucketCount tracks occupied buckets against capacity. Slots are
	// reserved with CAS before a bucket is created so concurrent puts
	// cannot overshoot.
	bucketCount atomic.Int64

	entries    atomic.Int64
	totalBytes atomic.Int64
	hits       atomic.Uint64
	misses     atomic.Uint64
	puts       atomic.Uint64
	removes    atomic.Uint64
	collisions atomic.Uint64

	// Value-size extremes need compare-then-store, so they sit under
	// their own small mutex.
	sizeMu       sync.Mutex
	largestValue int
	smallestSet  bool
	smallest     int
}

// Option configures the Store.
type Option func(*Store)

// WithCapacity sets the maximum number of buckets.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithLockTimeout bounds how long an operation waits for the
// store-wide lock before it is rejected.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// addrHash shards by the leading bytes of the address. Curve X
// coordinates are uniformly distributed, so no extra mixing is needed.
func addrHash(a Address) uint64 {
	return binary.BigEndian.Uint64(a[:8])
}

// New creates a bucket store.
func New(opts ...Option) *Store {
	s := &Store{
		buckets: cmap.New(
			cmap.WithShards[Address, *Bucket](64),
			cmap.WithHasher[Address, *Bucket](addrHash),
		),
		capacity:    domain.DefaultBucketCapacity,
		mu:          locks.NewRWTimeout(),
		lockTimeout: defaultLockTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// rlock acquires the store-wide lock shared, bounded by the timeout.
func (s *Store) rlock() error {
	if err := s.mu.RLock(s.lockTimeout); err != nil {
		return domain.ErrLockTimeout.WithDetails("bucket table busy")
	}
	return nil
}

// reserveSlot claims one bucket slot against capacity.
func (s *Store) reserveSlot() bool {
	for {
		cur := s.bucketCount.Load()
		if cur >= int64(s.capacity) {
			return false
		}
		if s.bucketCount.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Put inserts or replaces the entry for its exact key. On replace the
// previous entry is returned and its identity carries over: the new
// entry keeps the old ID, creation time, and access count.
func (s *Store) Put(entry *domain.Entry) (prev *domain.Entry, err error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	addr := entry.Address.Address

	var capacityHit bool
	s.buckets.Mutate(addr, func(b *Bucket, exists bool) (*Bucket, bool) {
		if !exists || b == nil {
			if !s.reserveSlot() {
				capacityHit = true
				return nil, false
			}
			b = &Bucket{}
		}
		for i, e := range b.Entries {
			if e.Address.Verification == entry.Address.Verification && bytes.Equal(e.Key, entry.Key) {
				prev = e
				entry.ID = e.ID
				entry.CreatedAt = e.CreatedAt
				entry.AccessCount = e.AccessCount
				b.Entries[i] = entry
				return b, true
			}
		}
		if len(b.Entries) > 0 {
			entry.Address.Collisions = uint32(len(b.Entries))
			s.collisions.Add(1)
		}
		b.Entries = append(b.Entries, entry)
		return b, true
	})

	if capacityHit {
		return nil, domain.ErrBucketCapacityExceeded
	}

	s.puts.Add(1)
	if prev != nil {
		s.totalBytes.Add(int64(entry.Value.Size() - prev.Value.Size()))
	} else {
		s.entries.Add(1)
		s.totalBytes.Add(int64(entry.Value.Size()))
	}
	s.trackValueSize(entry.Value.Size())
	return prev, nil
}

// Get returns the entry for the exact key at the given address. The
// chain scan runs under the shard lock, so a concurrent Put replacing
// a chain member cannot race the read.
func (s *Store) Get(key []byte, addr domain.BucketAddress) (*domain.Entry, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	var found *domain.Entry
	s.buckets.View(addr.Address, func(b *Bucket, ok bool) {
		if !ok || b == nil {
			return
		}
		for _, e := range b.Entries {
			if e.Address.Verification != addr.Verification {
				continue
			}
			if bytes.Equal(e.Key, key) {
				e.Touch()
				found = e
				return
			}
		}
	})

	if found == nil {
		s.misses.Add(1)
		return nil, domain.ErrKeyNotFound
	}
	s.hits.Add(1)
	return found, nil
}

// Contains reports whether the exact key is present. It does not count
// as a hit or miss and does not touch access bookkeeping.
func (s *Store) Contains(key []byte, addr domain.BucketAddress) (bool, error) {
	if err := s.rlock(); err != nil {
		return false, err
	}
	defer s.mu.RUnlock()

	var present bool
	s.buckets.View(addr.Address, func(b *Bucket, ok bool) {
		if !ok || b == nil {
			return
		}
		for _, e := range b.Entries {
			if e.Address.Verification == addr.Verification && bytes.Equal(e.Key, key) {
				present = true
				return
			}
		}
	})
	return present, nil
}

// Remove deletes the entry for the exact key. Returns the removed
// entry, or ErrKeyNotFound.
func (s *Store) Remove(key []byte, addr domain.BucketAddress) (*domain.Entry, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	var removed *domain.Entry
	s.buckets.Mutate(addr.Address, func(b *Bucket, exists bool) (*Bucket, bool) {
		if !exists || b == nil {
			return nil, false
		}
		for i, e := range b.Entries {
			if e.Address.Verification == addr.Verification && bytes.Equal(e.Key, key) {
				removed = e
				b.Entries = append(b.Entries[:i], b.Entries[i+1:]...)
				break
			}
		}
		if len(b.Entries) == 0 {
			// Drop the empty bucket so the slot is reusable.
			s.bucketCount.Add(-1)
			return nil, false
		}
		return b, true
	})

	if removed == nil {
		return nil, domain.ErrKeyNotFound
	}

	s.removes.Add(1)
	s.entries.Add(-1)
	s.totalBytes.Add(-int64(removed.Value.Size()))
	return removed, nil
}

// Clear removes all entries. It needs the exclusive lock, so it fails
// with ErrLockTimeout while readers hold the store open past the
// configured timeout.
func (s *Store) Clear() error {
	if err := s.mu.Lock(s.lockTimeout); err != nil {
		return domain.ErrLockTimeout.WithDetails("bucket table busy")
	}
	defer s.mu.Unlock()

	s.buckets.Clear()
	s.bucketCount.Store(0)
	s.entries.Store(0)
	s.totalBytes.Store(0)

	s.sizeMu.Lock()
	s.largestValue = 0
	s.smallest = 0
	s.smallestSet = false
	s.sizeMu.Unlock()
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	return int(s.entries.Load())
}

// Capacity returns the configured bucket capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// Scan iterates over all entries. The callback returns false to stop.
// The view is bucket-consistent but not globally consistent. Scans
// wait for the lock without a deadline: checkpoint-sized iterations
// must not fail halfway.
func (s *Store) Scan(fn func(*domain.Entry) bool) {
	if err := s.mu.RLockCtx(context.Background()); err != nil {
		return
	}
	defer s.mu.RUnlock()

	s.buckets.Range(func(_ Address, b *Bucket) bool {
		if b == nil {
			return true
		}
		for _, e := range b.Entries {
			if !fn(e) {
				return false
			}
		}
		return true
	})
}

func (s *Store) trackValueSize(n int) {
	s.sizeMu.Lock()
	if n > s.largestValue {
		s.largestValue = n
	}
	if !s.smallestSet || n < s.smallest {
		s.smallest = n
		s.smallestSet = true
	}
	s.sizeMu.Unlock()
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int
	Buckets       int
	Capacity      int
	TotalBytes    int64
	Hits          uint64
	Misses        uint64
	Puts          uint64
	Removes       uint64
	Collisions    uint64
	DeepestChain  int
	LargestValue  int
	SmallestValue int
}

// Snapshot collects current statistics.
func (s *Store) Snapshot() Stats {
	if err := s.mu.RLockCtx(context.Background()); err != nil {
		return Stats{}
	}
	defer s.mu.RUnlock()

	deepest := 0
	s.buckets.Range(func(_ Address, b *Bucket) bool {
		if b != nil && len(b.Entries) > deepest {
			deepest = len(b.Entries)
		}
		return true
	})

	s.sizeMu.Lock()
	largest, smallest := s.largestValue, s.smallest
	s.sizeMu.Unlock()

	return Stats{
		Entries:       int(s.entries.Load()),
		Buckets:       int(s.bucketCount.Load()),
		Capacity:      s.capacity,
		TotalBytes:    s.totalBytes.Load(),
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Puts:          s.puts.Load(),
		Removes:       s.removes.Load(),
		Collisions:    s.collisions.Load(),
		DeepestChain:  deepest,
		LargestValue:  largest,
		SmallestValue: smallest,
	}
}

// HitRate returns hits / (hits + misses), or 0 when no lookups happened.
func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

// Utilization returns the fraction of bucket capacity in use.
func (st Stats) Utilization() float64 {
	if st.Capacity == 0 {
		return 0
	}
	return float64(st.Buckets) / float64(st.Capacity)
}
