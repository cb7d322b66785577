package summary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"yellowtail/internal/domain"
)

// header is the on-disk column order of the summary CSV.
var header = []string{
	"date", "listings",
	"price_mean", "price_median",
	"tax_mean", "tax_median",
	"overpriced_mean", "overpriced_median",
}

// Store reads and writes the per-day summary file at a fixed path.
type Store struct {
	Path string
}

// NewStore creates a Store for the summary file at the given path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads all summary rows. A missing file yields an empty slice: the
// summarizer bootstraps the file on first run.
func (s *Store) Load() ([]domain.DaySummary, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)

	head, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading summary header: %w", err)
	}
	if len(head) != len(header) {
		return nil, fmt.Errorf("summary %s: unexpected header %v", s.Path, head)
	}

	var rows []domain.DaySummary
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading summary row: %w", err)
		}

		parsed, err := parseSummaryRow(row)
		if err != nil {
			return nil, fmt.Errorf("summary %s: %w", s.Path, err)
		}
		rows = append(rows, parsed)
	}
	return rows, nil
}

// Write atomically rewrites the summary file. Rows are expected sorted by
// date; writing preserves their order.
func (s *Store) Write(rows []domain.DaySummary) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("creating summary dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".summary-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp summary: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing summary header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(formatSummaryRow(row)); err != nil {
			tmp.Close()
			return fmt.Errorf("writing summary row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp summary: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replacing summary: %w", err)
	}
	return nil
}

func parseSummaryRow(row []string) (domain.DaySummary, error) {
	listings, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return domain.DaySummary{}, fmt.Errorf("row for %s: %w", row[0], err)
	}

	floats := make([]float64, 6)
	for i := range floats {
		v, err := strconv.ParseFloat(row[i+2], 64)
		if err != nil {
			return domain.DaySummary{}, fmt.Errorf("row for %s: %w", row[0], err)
		}
		floats[i] = v
	}

	return domain.DaySummary{
		Date:             row[0],
		Listings:         listings,
		PriceMean:        floats[0],
		PriceMedian:      floats[1],
		TaxMean:          floats[2],
		TaxMedian:        floats[3],
		OverpricedMean:   floats[4],
		OverpricedMedian: floats[5],
	}, nil
}

func formatSummaryRow(s domain.DaySummary) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		s.Date,
		strconv.FormatInt(s.Listings, 10),
		f(s.PriceMean), f(s.PriceMedian),
		f(s.TaxMean), f(s.TaxMedian),
		f(s.OverpricedMean), f(s.OverpricedMedian),
	}
}
