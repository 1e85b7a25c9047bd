package core

// maintenance.go removes what finished runs leave behind.
//
// Runs clean up after themselves through a timer, but timers do not survive
// a restart. The maintenance job runs periodically to:
//  1. Delete work archives (uploads and outputs) that no live run owns and
//     that are older than the file TTL
//  2. Prune run history older than the retention, on stores that support it
//
// Failures are logged and retried on the next cycle.

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaintenanceInterval is how often the maintenance job runs.
const DefaultMaintenanceInterval = 10 * time.Minute

// workFilePatterns match the temporary archives kept in the work directory.
var workFilePatterns = []string{"skurename-*.zip", "upload-*.zip"}

// MaintenanceConfig configures StartMaintenance. Zero values select defaults.
type MaintenanceConfig struct {
	Interval time.Duration // How often to run (default: 10m)
	FileTTL  time.Duration // Age of unowned work files to delete (default: the result TTL)

	// HistoryRetention is the age of run records to prune. Zero keeps them.
	HistoryRetention time.Duration
}

// HistoryPruner is implemented by run stores that can drop old records.
type HistoryPruner interface {
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
}

// StartMaintenance runs the maintenance job immediately, then every
// Interval until ctx is cancelled.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMaintenanceInterval
	}
	if cfg.FileTTL <= 0 {
		cfg.FileTTL = s.resultTTL
	}

	s.log.Info("maintenance started",
		"interval", cfg.Interval,
		"file_ttl", cfg.FileTTL,
		"history_retention", cfg.HistoryRetention,
	)

	s.runMaintenance(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("maintenance stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx, cfg)
		}
	}
}

// runMaintenance performs one sweep + prune cycle.
func (s *Service) runMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	s.log.Debug("maintenance job started")
	start := time.Now()

	removed, err := s.sweepWorkDir(cfg.FileTTL)
	if err != nil {
		s.log.Error("work directory sweep failed", "error", err, "files_removed", removed)
	} else if removed > 0 {
		s.log.Info("removed stale work files", "files_removed", removed)
	}

	if cfg.HistoryRetention > 0 {
		pruned, err := s.pruneHistory(ctx, cfg.HistoryRetention)
		if err != nil {
			s.log.Error("history prune failed", "error", err)
		} else if pruned > 0 {
			s.log.Info("pruned run history", "runs_pruned", pruned)
		}
	}

	s.log.Debug("maintenance job completed", "duration_ms", time.Since(start).Milliseconds())
}

// sweepWorkDir deletes work archives last modified more than ttl ago that
// no run in memory owns.
func (s *Service) sweepWorkDir(ttl time.Duration) (int, error) {
	owned := s.ownedFiles()
	cutoff := s.now().Add(-ttl)

	removed := 0
	var errs []error
	for _, pattern := range workFilePatterns {
		matches, err := filepath.Glob(filepath.Join(s.workDir, pattern))
		if err != nil {
			return removed, fmt.Errorf("list work files: %w", err)
		}
		for _, p := range matches {
			if owned[filepath.Clean(p)] {
				continue
			}
			info, err := os.Stat(p)
			if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// ownedFiles returns the work files of every run still in memory.
func (s *Service) ownedFiles() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make(map[string]bool)
	for _, run := range s.runs {
		for _, f := range run.files {
			owned[filepath.Clean(f)] = true
		}
	}
	return owned
}

// pruneHistory deletes run records that started more than retention ago.
func (s *Service) pruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	pruner, ok := s.store.(HistoryPruner)
	if !ok {
		return 0, nil
	}
	return pruner.PruneRuns(ctx, s.now().Add(-retention))
}
