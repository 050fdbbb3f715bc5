// Package locks provides lock primitives with bounded acquisition.
//
// Unlike sync.RWMutex, acquisition can be given a deadline so callers
// fail fast instead of blocking indefinitely under contention.
package locks
