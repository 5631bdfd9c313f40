// Package startup provides housekeeping run before a session starts.
package startup

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/catalog"
	"github.com/jmylchreest/cpcbridge/internal/storage"
)

// DefaultCleanupAge is how old an orphaned blob must be before removal.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedBlobs removes capture blobs older than maxAge that have no
// index next to them. A recording interrupted before its index was written
// cannot be replayed.
//
// Returns the number of blobs removed.
func CleanupOrphanedBlobs(logger *slog.Logger, dir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("capture directory does not exist, skipping cleanup",
			"path", dir,
		)
		return 0, nil
	}

	store, err := storage.NewCaptureStore(dir)
	if err != nil {
		return 0, err
	}
	orphans, err := store.Orphans()
	if err != nil {
		logger.Error("failed to read capture directory",
			"path", dir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, o := range orphans {
		age := time.Since(o.ModTime).Round(time.Second)
		if o.ModTime.After(cutoff) {
			logger.Debug("preserving recent blob without index",
				"name", o.Name,
				"age", age,
			)
			continue
		}

		if err := store.RemoveFile(o.Name); err != nil {
			logger.Warn("failed to remove orphaned blob",
				"name", o.Name,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned capture blob",
			"name", o.Name,
			"session_id", o.SessionID,
			"age", age,
		)
		removed++
	}

	return removed, nil
}

// RecoverStaleRuns marks replay runs left in "running" by a previous process
// as failed.
//
// Returns the number of runs recovered.
func RecoverStaleRuns(ctx context.Context, logger *slog.Logger, runs catalog.ReplayRunRepository) (int, error) {
	stale, err := runs.ListRunning(ctx)
	if err != nil {
		logger.Error("failed to list running replay runs",
			"error", err,
		)
		return 0, err
	}

	var recovered int
	for _, run := range stale {
		logger.Warn("recovering stale replay run",
			"run_id", run.ID.String(),
			"capture_id", run.CaptureID.String(),
		)

		run.Outcome = catalog.OutcomeFailed
		run.Error = "interrupted by restart"
		if err := runs.Finish(ctx, run); err != nil {
			logger.Error("failed to recover stale replay run",
				"run_id", run.ID.String(),
				"error", err,
			)
			continue
		}
		recovered++
	}

	return recovered, nil
}
