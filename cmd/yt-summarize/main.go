// Update the per-day summary from the listing snapshot. By default only
// the dates whose partitions changed since the last run are recomputed;
// -full recomputes every date from scratch.
//
// Usage:
//
//	go run cmd/yt-summarize/main.go [-full]
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"yellowtail/internal/config"
	"yellowtail/internal/journal"
	"yellowtail/internal/summary"
	"yellowtail/internal/util"
)

func main() {
	full := flag.Bool("full", false, "recompute every date instead of only changed ones")
	flag.Parse()

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

	if err := summary.Run(cfg, *full, logger); err != nil {
		if errors.Is(err, journal.ErrLocked) {
			log.Fatalf("another summarize is already running")
		}
		logger.Error("summarize failed", "err", err)
		os.Exit(1)
	}
}
