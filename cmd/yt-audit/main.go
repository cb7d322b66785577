// Verify the on-disk per-day summary against a full recompute from the
// snapshot. Exits non-zero when they diverge, which means an incremental
// run went wrong or the artifacts were edited by hand.
//
// Usage:
//
//	go run cmd/yt-audit/main.go
package main

import (
	"log"
	"os"
	"reflect"

	"github.com/joho/godotenv"

	"yellowtail/internal/config"
	"yellowtail/internal/snapshot"
	"yellowtail/internal/summary"
	"yellowtail/internal/util"
)

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

	snapStore := snapshot.NewStore(cfg.Storage.SnapshotPath)
	listings, skipped, err := snapStore.Load()
	if err != nil {
		log.Fatalf("failed to load snapshot: %v", err)
	}
	if skipped > 0 {
		logger.Warn("skipped unreadable snapshot rows", "count", skipped)
	}

	onDisk, err := summary.NewStore(cfg.Storage.SummaryPath).Load()
	if err != nil {
		log.Fatalf("failed to load summary: %v", err)
	}

	want, _, _ := summary.Update(listings, nil, nil, cfg.Summary.NewBuildThreshold, true)

	// An empty summary loads as nil; treat it the same as zero recomputed rows.
	if len(onDisk) == 0 && len(want) == 0 || reflect.DeepEqual(onDisk, want) {
		logger.Info("summary matches full recompute", "rows", len(onDisk))
		return
	}

	logger.Error("summary diverges from full recompute",
		"on_disk_rows", len(onDisk),
		"recomputed_rows", len(want),
	)
	byDate := make(map[string]bool, len(want))
	for _, s := range want {
		byDate[s.Date] = true
	}
	for _, s := range onDisk {
		if !byDate[s.Date] {
			logger.Error("stale summary row", "date", s.Date)
		}
	}
	os.Exit(1)
}
