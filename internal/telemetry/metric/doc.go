// Package metric provides Prometheus metrics for qumap.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry and HTTP handler
//   - collector.go: snapshot-based collector over map statistics
//
// Metrics include:
//
//   - Entry, bucket, and payload byte gauges
//   - Hit/miss/collision counters
//   - Durability counters (sync/async writes, checkpoints, WAL size)
//   - Object store size gauges
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
