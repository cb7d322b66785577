// Pull the current listing search results and merge them into the
// cumulative snapshot.
//
// Usage:
//
//	go run cmd/yt-pull/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"yellowtail/internal/config"
	"yellowtail/internal/gather"
	"yellowtail/internal/journal"
	"yellowtail/internal/redfin"
	"yellowtail/internal/util"
)

const staleLockAfter = 2 * time.Hour

func main() {
	godotenv.Load()

	cfgPath := "config/yellowtail.yaml"
	if p := os.Getenv("YELLOWTAIL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The journal is bookkeeping; a broken one degrades the run instead of
	// blocking it.
	jnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		logger.Warn("journal unavailable, running without run records", "err", err)
		jnl = nil
	}

	var runID int64
	if jnl != nil {
		defer jnl.Close()
		if err := jnl.AcquireLock("pull", staleLockAfter); err != nil {
			if errors.Is(err, journal.ErrLocked) {
				log.Fatalf("another pull is already running")
			}
			logger.Warn("could not take run lock", "err", err)
		} else {
			defer jnl.ReleaseLock("pull")
		}
		if runID, err = jnl.StartRun("pull"); err != nil {
			logger.Warn("could not record run start", "err", err)
			runID = 0
		}
	}

	client := redfin.NewClient(cfg.Redfin)
	gatherer := gather.NewListingGatherer(cfg, client, logger)

	runErr := gatherer.Run(ctx)

	if jnl != nil && runID != 0 {
		status, detail := journal.StatusOK, ""
		if runErr != nil {
			status, detail = journal.StatusFailed, runErr.Error()
		}
		if err := jnl.FinishRun(runID, status, detail); err != nil {
			logger.Warn("could not record run finish", "err", err)
		}
	}

	if runErr != nil {
		logger.Error("pull failed", "err", runErr)
		// os.Exit skips deferred calls; release the lock by hand.
		if jnl != nil {
			jnl.ReleaseLock("pull")
			jnl.Close()
		}
		os.Exit(1)
	}

	logger.Info("pull complete")
}
