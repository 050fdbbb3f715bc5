// Package objectstore provides the durable object store for qumap.
//
// Materialized entries live here as self-describing envelopes keyed by
// the entry's exact key bytes. The store also persists the checkpoint
// marker that anchors WAL replay on recovery.
//
// The default implementation is backed by Badger. Envelopes are
// compressed above a size threshold and optionally encrypted before
// they reach the engine.
package objectstore
