// Package storage provides the persistence engine for qumap.
//
// The engine combines the in-memory bucket table, a write-ahead log,
// and a Badger-backed object store:
//
//   - Bucket table: primary storage using sharded concurrent maps
//   - WAL: write-ahead logging for durability and crash recovery
//   - Object store: checkpointed materialization for fast recovery
//
// Durability modes:
//
//   - disabled: memory only
//   - sync: fsync before every write returns
//   - async: writes flow through a bounded background queue
//   - hybrid: numeric values sync, everything else async
//
// Recovery loads the latest checkpoint from the object store and
// replays WAL records past the checkpoint offset. Optional at-rest
// encryption derives separate WAL and object subkeys from one master
// key.
package storage
