// Package snapshot maintains the cumulative listing table: a gzip CSV file
// that accumulates every listing ever observed, deduplicated by MLS number.
// It also keeps a per-date Parquet archive of each raw pull.
package snapshot

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"yellowtail/internal/domain"
)

// header is the on-disk column order of the snapshot CSV.
var header = []string{
	"mls", "address", "city", "state", "zip", "status",
	"price", "tax_assessed_value", "first_seen", "last_seen",
}

// Store reads and writes the snapshot file at a fixed path.
type Store struct {
	Path string
}

// NewStore creates a Store for the snapshot file at the given path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Exists reports whether the snapshot file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Load reads all listings from the snapshot file. Rows that cannot be
// parsed are skipped and counted rather than failing the load; the second
// return value is the number of skipped rows. A missing file is an error
// the caller decides how to treat.
func (s *Store) Load() ([]domain.Listing, int, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, 0, fmt.Errorf("reading snapshot %s: %w", s.Path, err)
	}
	defer zr.Close()

	r := csv.NewReader(zr)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading snapshot header: %w", err)
	}
	cols, err := columnIndex(head)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot %s: %w", s.Path, err)
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
			return nil, skipped, fmt.Errorf("reading snapshot row: %w", err)
		}

		l, ok := parseRow(row, cols)
		if !ok {
			skipped++
			continue
		}
		listings = append(listings, l)
	}

	return listings, skipped, nil
}

// Write atomically rewrites the snapshot file: the new table is written to
// a temp file in the same directory and renamed over the old one, so a
// failed run never leaves a truncated artifact behind.
func (s *Store) Write(listings []domain.Listing) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".listings-*.csv.gz")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	w := csv.NewWriter(zw)

	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot header: %w", err)
	}

	sorted := sortListings(listings)
	for _, l := range sorted {
		if err := w.Write(formatRow(l)); err != nil {
			tmp.Close()
			return fmt.Errorf("writing snapshot row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("closing gzip stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Merge combines the existing snapshot with a freshly fetched pull, keyed
// by MLS number. Known listings are updated in place (price, status, tax
// value, LastSeen) while keeping their FirstSeen date; new listings are
// inserted with FirstSeen = LastSeen = today. No existing listing is ever
// removed, so the result is always a superset of the existing table.
func Merge(existing, incoming []domain.Listing, today string) []domain.Listing {
	byMLS := make(map[string]domain.Listing, len(existing)+len(incoming))
	for _, l := range existing {
		byMLS[l.MLS] = l
	}
	for _, l := range incoming {
		if prev, ok := byMLS[l.MLS]; ok {
			l.FirstSeen = prev.FirstSeen
		} else {
			l.FirstSeen = today
		}
		l.LastSeen = today
		byMLS[l.MLS] = l
	}

	merged := make([]domain.Listing, 0, len(byMLS))
	for _, l := range byMLS {
		merged = append(merged, l)
	}
	return sortListings(merged)
}

// PartitionByDate groups listings by their FirstSeen date. These
// partitions are the unit of incremental summarization.
func PartitionByDate(listings []domain.Listing) map[string][]domain.Listing {
	parts := make(map[string][]domain.Listing)
	for _, l := range listings {
		parts[l.FirstSeen] = append(parts[l.FirstSeen], l)
	}
	return parts
}

// Fingerprint computes a stable SHA-256 over one date partition. Two
// partitions with the same fingerprint contain the same listings with the
// same fields, so their summary rows are guaranteed equal.
func Fingerprint(listings []domain.Listing) string {
	sorted := sortListings(listings)

	h := sha256.New()
	for _, l := range sorted {
		for _, field := range formatRow(l) {
			h.Write([]byte(field))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// --- Row helpers ---

// columnIndex maps required header names to their positions. A missing
// column is a schema error.
func columnIndex(head []string) (map[string]int, error) {
	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[name] = i
	}
	for _, name := range header {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return cols, nil
}

func parseRow(row []string, cols map[string]int) (domain.Listing, bool) {
	get := func(name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	price, err := strconv.ParseFloat(get("price"), 64)
	if err != nil {
		return domain.Listing{}, false
	}
	tax, err := strconv.ParseFloat(get("tax_assessed_value"), 64)
	if err != nil {
		return domain.Listing{}, false
	}

	l := domain.Listing{
		MLS:              get("mls"),
		Address:          get("address"),
		City:             get("city"),
		State:            get("state"),
		Zip:              get("zip"),
		Status:           get("status"),
		Price:            price,
		TaxAssessedValue: tax,
		FirstSeen:        get("first_seen"),
		LastSeen:         get("last_seen"),
	}
	if l.MLS == "" || l.FirstSeen == "" {
		return domain.Listing{}, false
	}
	return l, true
}

func formatRow(l domain.Listing) []string {
	return []string{
		l.MLS,
		l.Address,
		l.City,
		l.State,
		l.Zip,
		l.Status,
		strconv.FormatFloat(l.Price, 'f', -1, 64),
		strconv.FormatFloat(l.TaxAssessedValue, 'f', -1, 64),
		l.FirstSeen,
		l.LastSeen,
	}
}

// sortListings returns a copy ordered by (FirstSeen, MLS) so writes and
// fingerprints are deterministic.
func sortListings(listings []domain.Listing) []domain.Listing {
	sorted := make([]domain.Listing, len(listings))
	copy(sorted, listings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FirstSeen != sorted[j].FirstSeen {
			return sorted[i].FirstSeen < sorted[j].FirstSeen
		}
		return sorted[i].MLS < sorted[j].MLS
	})
	return sorted
}
