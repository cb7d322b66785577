package summary

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"yellowtail/internal/config"
	"yellowtail/internal/journal"
	"yellowtail/internal/snapshot"
)

const staleLockAfter = 2 * time.Hour

// Run executes one summarize pass end to end: take the run lock, load the
// snapshot, update the affected dates, write the summary, and record the
// run and the new fingerprints in the journal. A journal that cannot be
// opened degrades the run (fallback change detection, no run record)
// instead of blocking it; a held lock fails fast with journal.ErrLocked.
func Run(cfg *config.Config, full bool, logger *slog.Logger) error {
	var runID int64
	jnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		logger.Warn("journal unavailable, falling back to missing-row detection", "err", err)
		jnl = nil
	} else {
		defer jnl.Close()
		if err := jnl.AcquireLock("summarize", staleLockAfter); err != nil {
			if errors.Is(err, journal.ErrLocked) {
				return err
			}
			logger.Warn("could not take run lock", "err", err)
		} else {
			defer jnl.ReleaseLock("summarize")
		}
		if runID, err = jnl.StartRun("summarize"); err != nil {
			logger.Warn("could not record run start", "err", err)
			runID = 0
		}
	}
	finish := func(status, detail string) {
		if jnl == nil || runID == 0 {
			return
		}
		if err := jnl.FinishRun(runID, status, detail); err != nil {
			logger.Warn("could not record run finish", "err", err)
		}
	}

	snapStore := snapshot.NewStore(cfg.Storage.SnapshotPath)
	listings, skipped, err := snapStore.Load()
	if err != nil {
		finish(journal.StatusFailed, err.Error())
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if skipped > 0 {
		logger.Warn("skipped unreadable snapshot rows", "count", skipped)
	}

	var marks map[string]string
	if jnl != nil {
		if marks, err = jnl.Fingerprints(); err != nil {
			logger.Warn("could not read fingerprints, falling back", "err", err)
			marks = nil
		}
	}

	sumStore := NewStore(cfg.Storage.SummaryPath)
	existing, err := sumStore.Load()
	if err != nil {
		finish(journal.StatusFailed, err.Error())
		return fmt.Errorf("loading summary: %w", err)
	}

	rows, affected, changed := Update(listings, existing, marks, cfg.Summary.NewBuildThreshold, full)
	if !changed {
		logger.Info("summary up to date, nothing to write")
		finish(journal.StatusOK, "no changes")
		return nil
	}

	if err := sumStore.Write(rows); err != nil {
		finish(journal.StatusFailed, err.Error())
		return fmt.Errorf("writing summary: %w", err)
	}

	// Record the new fingerprints so the next incremental run sees these
	// partitions as clean.
	if jnl != nil {
		partitions := snapshot.PartitionByDate(listings)
		for _, date := range affected {
			if err := jnl.SetFingerprint(date, snapshot.Fingerprint(partitions[date])); err != nil {
				logger.Warn("could not record fingerprint", "date", date, "err", err)
			}
		}
	}

	finish(journal.StatusOK, fmt.Sprintf("%d dates recomputed", len(affected)))
	logger.Info("summary updated", "rows", len(rows), "recomputed", len(affected), "full", full)
	return nil
}
