package summary

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"yellowtail/internal/domain"
	"yellowtail/internal/snapshot"
)

const threshold = 200_000

func listing(mls string, price, tax float64, firstSeen string) domain.Listing {
	return domain.Listing{
		MLS:              mls,
		Address:          "1 Test St",
		City:             "Washington",
		State:            "DC",
		Zip:              "20001",
		Status:           "Active",
		Price:            price,
		TaxAssessedValue: tax,
		FirstSeen:        firstSeen,
		LastSeen:         firstSeen,
	}
}

func TestAggregate(t *testing.T) {
	listings := []domain.Listing{
		listing("A", 100, 80, "2024-01-01"),
		listing("B", 300, 200, "2024-01-01"),
	}

	s, ok := Aggregate("2024-01-01", listings, threshold)
	if !ok {
		t.Fatal("Aggregate returned no row for a non-empty partition")
	}
	if s.Listings != 2 {
		t.Errorf("Listings = %d, want 2", s.Listings)
	}
	if s.PriceMean != 200 || s.PriceMedian != 200 {
		t.Errorf("price mean/median = %v/%v, want 200/200", s.PriceMean, s.PriceMedian)
	}
	if s.TaxMean != 140 || s.TaxMedian != 140 {
		t.Errorf("tax mean/median = %v/%v, want 140/140", s.TaxMean, s.TaxMedian)
	}
	// Overpriced amounts: 20 and 100.
	if s.OverpricedMean != 60 || s.OverpricedMedian != 60 {
		t.Errorf("overpriced mean/median = %v/%v, want 60/60", s.OverpricedMean, s.OverpricedMedian)
	}
}

func TestAggregateExcludesNewBuilds(t *testing.T) {
	listings := []domain.Listing{
		listing("A", 100_000, 90_000, "2024-01-01"),  // overpriced 10k
		listing("B", 500_000, 100_000, "2024-01-01"), // overpriced 400k: new build
	}

	s, ok := Aggregate("2024-01-01", listings, threshold)
	if !ok {
		t.Fatal("Aggregate returned no row")
	}
	if s.Listings != 2 {
		t.Errorf("Listings = %d, want 2 (exclusion applies to overpriced stats only)", s.Listings)
	}
	if s.OverpricedMean != 10_000 || s.OverpricedMedian != 10_000 {
		t.Errorf("overpriced mean/median = %v/%v, want 10000/10000", s.OverpricedMean, s.OverpricedMedian)
	}
}

func TestAggregateEmptyPartition(t *testing.T) {
	if _, ok := Aggregate("2024-01-01", nil, threshold); ok {
		t.Error("Aggregate should produce no row for an empty partition")
	}
}

func TestMedianOddAndEven(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("median odd = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("median even = %v, want 2.5", got)
	}
}

func TestUpdateIncrementalNewDateOnly(t *testing.T) {
	day1 := []domain.Listing{
		listing("A", 100, 80, "2024-01-01"),
		listing("B", 300, 200, "2024-01-01"),
	}
	day2 := []domain.Listing{
		listing("C", 500, 400, "2024-01-02"),
	}

	// First run: only day 1 exists.
	rows, affected, changed := Update(day1, nil, map[string]string{}, threshold, false)
	if !changed || len(rows) != 1 || len(affected) != 1 {
		t.Fatalf("first run: rows=%d affected=%v changed=%v", len(rows), affected, changed)
	}
	day1Row := rows[0]

	marks := map[string]string{
		"2024-01-01": snapshot.Fingerprint(day1),
	}

	// Second run: day 2 appears, day 1 untouched.
	all := append(append([]domain.Listing{}, day1...), day2...)
	rows, affected, changed = Update(all, rows, marks, threshold, false)
	if !changed {
		t.Fatal("second run should report changes")
	}
	if !reflect.DeepEqual(affected, []string{"2024-01-02"}) {
		t.Errorf("affected = %v, want [2024-01-02]", affected)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if !reflect.DeepEqual(rows[0], day1Row) {
		t.Errorf("day 1 row was recomputed or altered: %+v vs %+v", rows[0], day1Row)
	}
	if rows[1].Date != "2024-01-02" || rows[1].Listings != 1 {
		t.Errorf("day 2 row = %+v", rows[1])
	}
}

func TestUpdateIdempotentWhenNothingChanged(t *testing.T) {
	listings := []domain.Listing{
		listing("A", 100, 80, "2024-01-01"),
		listing("B", 300, 200, "2024-01-01"),
	}
	rows, _, _ := Update(listings, nil, map[string]string{}, threshold, false)
	marks := map[string]string{
		"2024-01-01": snapshot.Fingerprint(listings),
	}

	again, affected, changed := Update(listings, rows, marks, threshold, false)
	if changed {
		t.Errorf("Update reported changes with identical input (affected %v)", affected)
	}
	if !reflect.DeepEqual(again, rows) {
		t.Errorf("unchanged update altered rows: %+v vs %+v", again, rows)
	}
}

func TestUpdateDetectsChangedPartition(t *testing.T) {
	listings := []domain.Listing{
		listing("A", 100, 80, "2024-01-01"),
	}
	rows, _, _ := Update(listings, nil, map[string]string{}, threshold, false)
	marks := map[string]string{
		"2024-01-01": snapshot.Fingerprint(listings),
	}

	// Price drop on the known listing: same partition, new fingerprint.
	listings[0].Price = 90
	rows, affected, changed := Update(listings, rows, marks, threshold, false)
	if !changed {
		t.Fatal("Update missed a changed partition")
	}
	if !reflect.DeepEqual(affected, []string{"2024-01-01"}) {
		t.Errorf("affected = %v, want [2024-01-01]", affected)
	}
	if rows[0].PriceMean != 90 {
		t.Errorf("day 1 price mean = %v, want 90 after recompute", rows[0].PriceMean)
	}
}

func TestUpdateNilMarksFallsBack(t *testing.T) {
	day1 := []domain.Listing{listing("A", 100, 80, "2024-01-01")}
	day2 := []domain.Listing{listing("B", 300, 200, "2024-01-02")}
	rows, _, _ := Update(day1, nil, map[string]string{}, threshold, false)

	// Journal gone: change detection degrades to missing summary rows.
	all := append(append([]domain.Listing{}, day1...), day2...)
	rows, affected, changed := Update(all, rows, nil, threshold, false)
	if !changed {
		t.Fatal("fallback run should recompute the missing date")
	}
	if !reflect.DeepEqual(affected, []string{"2024-01-02"}) {
		t.Errorf("affected = %v, want [2024-01-02]", affected)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestUpdateFullMatchesIncremental(t *testing.T) {
	listings := []domain.Listing{
		listing("A", 100, 80, "2024-01-01"),
		listing("B", 300, 200, "2024-01-01"),
		listing("C", 500, 400, "2024-01-02"),
		listing("D", 700, 350, "2024-01-03"),
	}

	full, _, _ := Update(listings, nil, nil, threshold, true)

	// Build the same state incrementally, one date at a time.
	var incremental []domain.DaySummary
	marks := map[string]string{}
	var seen []domain.Listing
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		for _, l := range listings {
			if l.FirstSeen == date {
				seen = append(seen, l)
			}
		}
		incremental, _, _ = Update(seen, incremental, marks, threshold, false)
		for d, part := range snapshot.PartitionByDate(seen) {
			marks[d] = snapshot.Fingerprint(part)
		}
	}

	if !reflect.DeepEqual(full, incremental) {
		t.Errorf("full and incremental results diverge:\nfull: %+v\nincr: %+v", full, incremental)
	}
}

func TestStoreRoundtrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "per_day_summary.csv"))

	rows := []domain.DaySummary{
		{Date: "2024-01-01", Listings: 2, PriceMean: 200, PriceMedian: 200, TaxMean: 140, TaxMedian: 140, OverpricedMean: 60, OverpricedMedian: 60},
		{Date: "2024-01-02", Listings: 1, PriceMean: 500, PriceMedian: 500, TaxMean: 400, TaxMedian: 400, OverpricedMean: 100, OverpricedMedian: 100},
	}
	if err := s.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("roundtrip mismatch:\ngot:  %+v\nwant: %+v", got, rows)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.csv"))
	rows, err := s.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Load on missing file returned %d rows, want 0", len(rows))
	}
}

func TestStoreWriteIsByteDeterministic(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "per_day_summary.csv"))

	rows := []domain.DaySummary{
		{Date: "2024-01-01", Listings: 3, PriceMean: 233.33333333333334, PriceMedian: 200, TaxMean: 150, TaxMedian: 140, OverpricedMean: 83.33333333333333, OverpricedMedian: 60},
	}
	if err := s.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	first, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if err := s.Write(rows); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	second, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(first) != string(second) {
		t.Error("two writes of the same rows produced different bytes")
	}
}
