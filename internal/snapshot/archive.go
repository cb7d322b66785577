package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"yellowtail/internal/domain"
)

// ArchiveRecord is the Parquet schema for one listing as observed in a
// single pull. Unlike the merged snapshot, archive files are per-date and
// immutable once written.
type ArchiveRecord struct {
	MLS              string  `parquet:"mls"`
	Address          string  `parquet:"address"`
	City             string  `parquet:"city"`
	State            string  `parquet:"state"`
	Zip              string  `parquet:"zip"`
	Status           string  `parquet:"status"`
	Price            float64 `parquet:"price"`
	TaxAssessedValue float64 `parquet:"tax_assessed_value"`
	Date             string  `parquet:"date"`
}

// ArchivePath returns the filesystem path for a raw-pull archive file.
// Layout: <dataDir>/raw/<YYYY-MM-DD>.parquet
func ArchivePath(dataDir, date string) string {
	return filepath.Join(dataDir, "raw", date+".parquet")
}

// WriteArchive writes the listings of one pull to the per-date Parquet
// archive, replacing any archive already written for that date.
func WriteArchive(dataDir, date string, listings []domain.Listing) error {
	records := make([]ArchiveRecord, 0, len(listings))
	for _, l := range listings {
		records = append(records, ArchiveRecord{
			MLS:              l.MLS,
			Address:          l.Address,
			City:             l.City,
			State:            l.State,
			Zip:              l.Zip,
			Status:           l.Status,
			Price:            l.Price,
			TaxAssessedValue: l.TaxAssessedValue,
			Date:             date,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].MLS < records[j].MLS
	})

	path := ArchivePath(dataDir, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing archive for %s: %w", date, err)
	}
	return nil
}

// ReadArchive reads the raw-pull archive for one date.
func ReadArchive(dataDir, date string) ([]ArchiveRecord, error) {
	records, err := parquet.ReadFile[ArchiveRecord](ArchivePath(dataDir, date))
	if err != nil {
		return nil, fmt.Errorf("reading archive for %s: %w", date, err)
	}
	return records, nil
}
