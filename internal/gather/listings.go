package gather

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"yellowtail/internal/config"
	"yellowtail/internal/domain"
	"yellowtail/internal/redfin"
	"yellowtail/internal/snapshot"
	"yellowtail/internal/util"
)

// digestColumns are the search-result CSV columns the pipeline depends on.
// A result set missing any of them means the source changed shape and the
// run must fail rather than silently produce a hollow snapshot.
var digestColumns = []string{
	"ADDRESS",
	"CITY",
	"STATE OR PROVINCE",
	"ZIP OR POSTAL CODE",
	"PRICE",
	"STATUS",
	"MLS#",
}

// TaxResolver resolves the tax-assessed value for a listing address.
// *redfin.Client satisfies it; tests substitute a stub.
type TaxResolver interface {
	TaxAssessedValue(ctx context.Context, address string) (float64, error)
}

// ListingGatherer pulls the current listing search results, enriches each
// listing with its tax-assessed value, and merges the result into the
// cumulative snapshot.
type ListingGatherer struct {
	client  TaxResolver
	search  func(ctx context.Context) ([]byte, error)
	store   *snapshot.Store
	dataDir string
	log     *slog.Logger

	maxWorkers  int
	maxAttempts int
	baseDelay   time.Duration
	limiter     *util.RateLimiter

	now func() time.Time
}

// NewListingGatherer wires a gatherer from configuration.
func NewListingGatherer(cfg *config.Config, client *redfin.Client, log *slog.Logger) *ListingGatherer {
	baseDelay := 500 * time.Millisecond
	if cfg.Pull.RetryBaseDelay != "" {
		if d, err := time.ParseDuration(cfg.Pull.RetryBaseDelay); err == nil {
			baseDelay = d
		}
	}
	return &ListingGatherer{
		client:      client,
		search:      client.SearchCSV,
		store:       snapshot.NewStore(cfg.Storage.SnapshotPath),
		dataDir:     cfg.Storage.DataDir,
		log:         log,
		maxWorkers:  cfg.Pull.MaxWorkers,
		maxAttempts: cfg.Pull.MaxAttempts,
		baseDelay:   baseDelay,
		limiter:     util.NewRateLimiter(cfg.Pull.RateLimitPerMin),
		now:         time.Now,
	}
}

// Name returns the gatherer identifier.
func (g *ListingGatherer) Name() string { return "listings" }

// Run executes one full pull: search, enrich, merge, write.
func (g *ListingGatherer) Run(ctx context.Context) error {
	today := g.now().Format("2006-01-02")

	// 1. Pull the search result CSV.
	var body []byte
	err := util.Retry(ctx, g.maxAttempts, g.baseDelay, 30*time.Second, func() error {
		var err error
		body, err = g.search(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("pulling search results: %w", err)
	}

	// 2. Parse the digest rows.
	incoming, skipped, err := parseDigest(body)
	if err != nil {
		return err
	}
	if skipped > 0 {
		g.log.Warn("skipped malformed search rows", "count", skipped)
	}
	if len(incoming) == 0 {
		return fmt.Errorf("search returned no listings; refusing to touch the snapshot")
	}
	g.log.Info("search results parsed", "listings", len(incoming), "date", today)

	// 3. Enrich with tax-assessed values; listings without one are dropped.
	enriched, failed := g.enrichTax(ctx, incoming)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(enriched) == 0 {
		return fmt.Errorf("no listings enriched with tax values (%d of %d lookups failed); refusing to touch the snapshot", failed, len(incoming))
	}
	g.log.Info("tax enrichment finished",
		"kept", len(enriched),
		"dropped", len(incoming)-len(enriched),
	)

	// 4. Load the existing snapshot, tolerating a first run with no file.
	existing, skippedRows, err := g.store.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if skippedRows > 0 {
		g.log.Warn("skipped unreadable snapshot rows", "count", skippedRows)
	}

	// 5. Merge and atomically rewrite.
	merged := snapshot.Merge(existing, enriched, today)
	if err := g.store.Write(merged); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	// 6. Archive the raw pull for the day.
	if err := snapshot.WriteArchive(g.dataDir, today, enriched); err != nil {
		return fmt.Errorf("archiving pull: %w", err)
	}

	g.log.Info("snapshot updated",
		"total", len(merged),
		"new", len(merged)-len(existing),
	)
	return nil
}

// enrichTax resolves tax-assessed values with a bounded worker pool and
// drops listings whose value cannot be resolved or is not positive. The
// second return value is the number of failed lookups.
func (g *ListingGatherer) enrichTax(ctx context.Context, listings []domain.Listing) ([]domain.Listing, int64) {
	type job struct {
		idx     int
		listing domain.Listing
	}

	jobCh := make(chan job, len(listings))
	for i, l := range listings {
		jobCh <- job{idx: i, listing: l}
	}
	close(jobCh)

	results := make([]float64, len(listings))
	var failed atomic.Int64

	var wg sync.WaitGroup
	workers := g.maxWorkers
	if workers > len(listings) {
		workers = len(listings)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if ctx.Err() != nil {
					return
				}
				if err := g.limiter.Wait(ctx); err != nil {
					return
				}

				addr := j.listing.FullAddress()
				var val float64
				err := util.Retry(ctx, g.maxAttempts, g.baseDelay, 30*time.Second, func() error {
					var err error
					val, err = g.client.TaxAssessedValue(ctx, addr)
					return err
				})
				if err != nil {
					failed.Add(1)
					g.log.Warn("tax lookup failed", "mls", j.listing.MLS, "err", err)
					results[j.idx] = -1
					continue
				}
				results[j.idx] = val
			}
		}()
	}
	wg.Wait()

	kept := make([]domain.Listing, 0, len(listings))
	for i, l := range listings {
		if results[i] <= 0 {
			continue
		}
		l.TaxAssessedValue = results[i]
		kept = append(kept, l)
	}
	return kept, failed.Load()
}

// parseDigest parses the search-result CSV into listings. A missing required
// column fails the whole parse; individual malformed rows are skipped and
// counted.
func parseDigest(body []byte) ([]domain.Listing, int, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading search results header: %w", err)
	}

	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range digestColumns {
		if _, ok := cols[name]; !ok {
			return nil, 0, fmt.Errorf("search results missing column %q: source schema changed", name)
		}
	}

	var listings []domain.Listing
	skipped := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.As(err, new(*csv.ParseError)) {
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("reading search results row: %w", err)
		}

		get := func(name string) string {
			i := cols[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		price, err := strconv.ParseFloat(get("PRICE"), 64)
		if err != nil {
			skipped++
			continue
		}
		l := domain.Listing{
			MLS:     get("MLS#"),
			Address: get("ADDRESS"),
			City:    get("CITY"),
			State:   get("STATE OR PROVINCE"),
			Zip:     get("ZIP OR POSTAL CODE"),
			Status:  get("STATUS"),
			Price:   price,
		}
		if l.MLS == "" || l.Address == "" {
			skipped++
			continue
		}
		listings = append(listings, l)
	}
	return listings, skipped, nil
}
