// Package metric provides Prometheus metrics for qumap.
package metric

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	qumap "github.com/arbitrary-number/qumap-go"
)

const namespace = "qumap"

// Source provides statistics snapshots for the collector.
type Source interface {
	Stats(ctx context.Context) (qumap.Stats, error)
}

// Collector exports map statistics as Prometheus metrics.
//
// Every scrape takes one snapshot from the source, so gauge values are
// consistent with each other within a scrape.
type Collector struct {
	source Source
	logger *slog.Logger

	entries     *prometheus.Desc
	buckets     *prometheus.Desc
	capacity    *prometheus.Desc
	bytesStored *prometheus.Desc

	hits       *prometheus.Desc
	misses     *prometheus.Desc
	collisions *prometheus.Desc

	operations   *prometheus.Desc
	syncOps      *prometheus.Desc
	asyncOps     *prometheus.Desc
	bytesRead    *prometheus.Desc
	bytesWritten *prometheus.Desc

	pendingWrites *prometheus.Desc
	checkpoints   *prometheus.Desc
	walBytes      *prometheus.Desc
	walFiles      *prometheus.Desc
	objectCount   *prometheus.Desc
	objectBytes   *prometheus.Desc
}

// NewCollector creates a collector reading from the given source.
func NewCollector(source Source, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		source: source,
		logger: logger,

		entries:     desc("entries", "Number of stored entries"),
		buckets:     desc("buckets", "Number of allocated buckets"),
		capacity:    desc("bucket_capacity", "Fixed bucket table capacity"),
		bytesStored: desc("stored_bytes", "Total payload bytes in memory"),

		hits:       desc("hits_total", "Bucket lookup hits"),
		misses:     desc("misses_total", "Bucket lookup misses"),
		collisions: desc("collisions_total", "Bucket address collisions"),

		operations:   desc("operations_total", "Operations by result", "result"),
		syncOps:      desc("sync_operations_total", "Synchronously persisted writes"),
		asyncOps:     desc("async_operations_total", "Asynchronously persisted writes"),
		bytesRead:    desc("read_bytes_total", "Payload bytes returned to callers"),
		bytesWritten: desc("written_bytes_total", "Payload bytes accepted from callers"),

		pendingWrites: desc("pending_writes", "Writes waiting in the async queue"),
		checkpoints:   desc("checkpoints_total", "Checkpoints taken"),
		walBytes:      desc("wal_size_bytes", "Total WAL size on disk"),
		walFiles:      desc("wal_files", "Number of WAL segment files"),
		objectCount:   desc("objects", "Materialized objects in the durable store"),
		objectBytes:   desc("object_store_bytes", "Durable object store size"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.buckets
	ch <- c.capacity
	ch <- c.bytesStored
	ch <- c.hits
	ch <- c.misses
	ch <- c.collisions
	ch <- c.operations
	ch <- c.syncOps
	ch <- c.asyncOps
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.pendingWrites
	ch <- c.checkpoints
	ch <- c.walBytes
	ch <- c.walFiles
	ch <- c.objectCount
	ch <- c.objectBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		c.logger.Warn("stats collection failed", "error", err)
		return
	}

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.entries, float64(stats.Entries))
	gauge(c.buckets, float64(stats.Buckets))
	gauge(c.capacity, float64(stats.Capacity))
	gauge(c.bytesStored, float64(stats.TotalBytes))

	counter(c.hits, float64(stats.Hits))
	counter(c.misses, float64(stats.Misses))
	counter(c.collisions, float64(stats.Collisions))

	counter(c.operations, float64(stats.SuccessfulOperations), "success")
	counter(c.operations, float64(stats.FailedOperations), "failure")
	counter(c.syncOps, float64(stats.SyncOperations))
	counter(c.asyncOps, float64(stats.AsyncOperations))
	counter(c.bytesRead, float64(stats.BytesRead))
	counter(c.bytesWritten, float64(stats.BytesWritten))

	gauge(c.pendingWrites, float64(stats.PendingWrites))
	counter(c.checkpoints, float64(stats.Checkpoints))
	gauge(c.walBytes, float64(stats.WALBytes))
	gauge(c.walFiles, float64(stats.WALFiles))
	gauge(c.objectCount, float64(stats.ObjectCount))
	gauge(c.objectBytes, float64(stats.ObjectBytes))
}
