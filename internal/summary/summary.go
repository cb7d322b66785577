// Package summary derives per-day aggregate statistics from the listing
// snapshot and maintains them incrementally: only the date partitions whose
// contents changed since the last run are recomputed.
package summary

import (
	"sort"

	"yellowtail/internal/domain"
	"yellowtail/internal/snapshot"
)

// Aggregate computes the summary row for one date partition. The second
// return value is false when the partition holds no listings, in which case
// no row should be written for that date.
//
// Overpriced statistics exclude amounts at or above newBuildThreshold: new
// builds carry stale tax assessments that would otherwise dominate the mean.
func Aggregate(date string, listings []domain.Listing, newBuildThreshold float64) (domain.DaySummary, bool) {
	if len(listings) == 0 {
		return domain.DaySummary{}, false
	}

	prices := make([]float64, 0, len(listings))
	taxes := make([]float64, 0, len(listings))
	overpriced := make([]float64, 0, len(listings))
	for _, l := range listings {
		prices = append(prices, l.Price)
		taxes = append(taxes, l.TaxAssessedValue)
		if over := l.Overpriced(); over < newBuildThreshold {
			overpriced = append(overpriced, over)
		}
	}

	return domain.DaySummary{
		Date:             date,
		Listings:         int64(len(listings)),
		PriceMean:        mean(prices),
		PriceMedian:      median(prices),
		TaxMean:          mean(taxes),
		TaxMedian:        median(taxes),
		OverpricedMean:   mean(overpriced),
		OverpricedMedian: median(overpriced),
	}, true
}

// AffectedDates returns the partition dates whose summary rows need to be
// recomputed, sorted ascending. With fingerprint marks available a date is
// affected when its partition fingerprint no longer matches the recorded
// one; without marks (nil, e.g. a fresh or discarded journal) detection
// degrades to the dates that have no summary row yet.
func AffectedDates(partitions map[string][]domain.Listing, existing map[string]domain.DaySummary, marks map[string]string) []string {
	var affected []string
	for date, listings := range partitions {
		if _, ok := existing[date]; !ok {
			affected = append(affected, date)
			continue
		}
		if marks == nil {
			continue
		}
		if marks[date] != snapshot.Fingerprint(listings) {
			affected = append(affected, date)
		}
	}
	sort.Strings(affected)
	return affected
}

// Update recomputes summary rows for the affected dates and returns the new
// full row set. In full mode every partition is recomputed from scratch.
// When nothing is affected the existing rows are returned unchanged and the
// third return value is false, so callers can skip rewriting the summary
// file entirely.
func Update(listings []domain.Listing, existing []domain.DaySummary, marks map[string]string, newBuildThreshold float64, full bool) (rows []domain.DaySummary, affected []string, changed bool) {
	partitions := snapshot.PartitionByDate(listings)

	existingByDate := make(map[string]domain.DaySummary, len(existing))
	for _, s := range existing {
		existingByDate[s.Date] = s
	}

	if full {
		affected = make([]string, 0, len(partitions))
		for date := range partitions {
			affected = append(affected, date)
		}
		sort.Strings(affected)

		rows = make([]domain.DaySummary, 0, len(partitions))
		for _, date := range affected {
			if s, ok := Aggregate(date, partitions[date], newBuildThreshold); ok {
				rows = append(rows, s)
			}
		}
		return rows, affected, true
	}

	affected = AffectedDates(partitions, existingByDate, marks)
	if len(affected) == 0 {
		return existing, nil, false
	}

	for _, date := range affected {
		s, ok := Aggregate(date, partitions[date], newBuildThreshold)
		if !ok {
			delete(existingByDate, date)
			continue
		}
		existingByDate[date] = s
	}

	rows = make([]domain.DaySummary, 0, len(existingByDate))
	for _, s := range existingByDate {
		rows = append(rows, s)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, affected, true
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
