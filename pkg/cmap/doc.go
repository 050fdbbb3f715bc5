// Package cmap provides a concurrent map implementation for qumap.
//
// This package implements a sharded concurrent map optimized for
// high-throughput bucket storage with the following features:
//
//   - Sharding: Configurable shard count for parallelism
//   - Fine-grained Locking: Per-shard RWMutex for minimal contention
//   - Custom Hashing: Pluggable shard hash for digest-like keys
//   - Iteration: Safe iteration while holding read locks
//
// Usage:
//
//	m := cmap.New[Address, *Bucket](cmap.WithShards[Address, *Bucket](32))
//	m.Set(addr, bucket)
//	val, ok := m.Get(addr)
//
// Thread Safety:
//
// All operations are thread-safe. Read operations (Get, Has) use RLock,
// write operations (Set, Delete) use Lock.
package cmap
