// Package wal provides Write-Ahead Logging for durability.
package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultRetainCount is the default number of WAL segments kept after
// compaction regardless of the checkpoint floor.
const DefaultRetainCount = 2

// Compactor retires WAL segments that a checkpoint has made redundant.
type Compactor struct {
	walDir      string
	retainCount int
}

// CompactorOption configures the Compactor.
type CompactorOption func(*Compactor)

// WithRetainCount sets the number of WAL segments to retain.
func WithRetainCount(count int) CompactorOption {
	return func(c *Compactor) {
		if count > 0 {
			c.retainCount = count
		}
	}
}

// NewCompactor creates a new WAL compactor.
func NewCompactor(walDir string, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		walDir:      walDir,
		retainCount: DefaultRetainCount,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compact removes WAL segments fully covered by the given checkpoint
// offset. It always retains at least retainCount segments.
//
// checkpointOffset uses the composite format:
// (segmentID<<32 | offsetWithinSegment). Segments with a lower
// segmentID hold only records the checkpoint already materialized and
// are safe to delete, subject to the retainCount safeguard.
func (c *Compactor) Compact(checkpointOffset uint64) error {
	files, err := c.listWALFiles()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return nil
	}

	checkpointSegmentID := checkpointOffset >> 32

	var toDelete []string
	for _, file := range files {
		segmentID, ok := c.parseSegmentID(file)
		if !ok {
			continue
		}
		if segmentID < checkpointSegmentID {
			toDelete = append(toDelete, file)
		}
	}

	// Keep at least retainCount files.
	if len(files)-len(toDelete) < c.retainCount {
		keepCount := c.retainCount - (len(files) - len(toDelete))
		if keepCount > len(toDelete) {
			keepCount = len(toDelete)
		}
		toDelete = toDelete[:len(toDelete)-keepCount]
	}

	var errs []error
	for _, file := range toDelete {
		if err := os.Remove(file); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", file, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("wal: failed to delete %d files: %w", len(errs), errors.Join(errs...))
	}

	return nil
}

// NeedsCompaction returns true if the total WAL size exceeds the threshold.
func (c *Compactor) NeedsCompaction(threshold int64) bool {
	totalSize, _ := c.TotalSize()
	return totalSize > threshold
}

// TotalSize returns the total size of all WAL files in bytes.
func (c *Compactor) TotalSize() (int64, error) {
	files, err := c.listWALFiles()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		total += info.Size()
	}

	return total, nil
}

// FileCount returns the number of WAL files.
func (c *Compactor) FileCount() (int, error) {
	files, err := c.listWALFiles()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// listWALFiles returns all WAL files sorted by segment id (oldest first).
func (c *Compactor) listWALFiles() ([]string, error) {
	entries, err := os.ReadDir(c.walDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := parseSegmentFilename(entry.Name()); ok {
			files = append(files, filepath.Join(c.walDir, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

func (c *Compactor) parseSegmentID(path string) (uint64, bool) {
	return parseSegmentFilename(filepath.Base(path))
}

// CleanAll removes all WAL files. Use with caution.
func (c *Compactor) CleanAll() error {
	files, err := c.listWALFiles()
	if err != nil {
		return err
	}

	var errs []error
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", file, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("wal: failed to delete %d files: %w", len(errs), errors.Join(errs...))
	}

	return nil
}
