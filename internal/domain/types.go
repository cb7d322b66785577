// Package domain defines the core types shared across the yellowtail
// pipeline: listings observed from the source and per-day summary rows
// derived from them.
package domain

// Listing is a single real-estate listing as kept in the cumulative
// snapshot. Listings are keyed by MLS number; FirstSeen is the date the
// listing first appeared in a pull and is the partition key for
// summarization.
type Listing struct {
	MLS              string
	Address          string
	City             string
	State            string
	Zip              string
	Status           string
	Price            float64
	TaxAssessedValue float64
	FirstSeen        string // YYYY-MM-DD
	LastSeen         string // YYYY-MM-DD
}

// FullAddress returns the address formatted for the location-autocomplete
// query: "ADDRESS, CITY STATE".
func (l Listing) FullAddress() string {
	return l.Address + ", " + l.City + " " + l.State
}

// Overpriced returns the listing price minus the tax-assessed value.
func (l Listing) Overpriced() float64 {
	return l.Price - l.TaxAssessedValue
}

// DaySummary holds the aggregate statistics for one calendar date. All
// values are computed purely from the snapshot listings first seen on that
// date.
type DaySummary struct {
	Date             string // YYYY-MM-DD
	Listings         int64
	PriceMean        float64
	PriceMedian      float64
	TaxMean          float64
	TaxMedian        float64
	OverpricedMean   float64
	OverpricedMedian float64
}
