// Package redfin provides a thin client for the unofficial Redfin stingray
// API: the gis-csv listing search plus the autocomplete / initial-info /
// below-the-fold chain used to resolve a listing's tax-assessed value.
package redfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"yellowtail/internal/config"
)

const defaultUserAgent = "Mozilla/5.0 (X11; CrOS x86_64 13982.82.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.157 Safari/537.36"

// jsonPrefix is the anti-hijacking prefix Redfin prepends to JSON
// responses. It must be stripped before decoding.
var jsonPrefix = []byte(")]}'")

// Client calls the Redfin stingray endpoints.
type Client struct {
	baseURL   string
	userAgent string
	search    config.SearchParams
	http      *http.Client
}

// NewClient creates a Client for the given base URL and search parameters.
func NewClient(cfg config.Redfin) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: ua,
		search:    cfg.Search,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchCSV runs the gis-csv listing search and returns the raw CSV body.
// Any transport error or non-200 status is returned as an error; the body
// of a failed response is included for diagnosis.
func (c *Client) SearchCSV(ctx context.Context) ([]byte, error) {
	q := c.searchQuery()
	u := c.baseURL + "/stingray/api/gis-csv?" + q.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("listing search: %w", err)
	}
	return body, nil
}

// searchQuery builds the gis-csv query from the configured search
// parameters. Zero-valued fields are omitted.
func (c *Client) searchQuery() url.Values {
	q := url.Values{}
	q.Set("al", "1")
	q.Set("v", "8")
	q.Set("page_number", "1")

	set := func(key string, val int) {
		if val != 0 {
			q.Set(key, strconv.Itoa(val))
		}
	}
	if c.search.Market != "" {
		q.Set("market", c.search.Market)
	}
	set("region_id", c.search.RegionID)
	set("region_type", c.search.RegionType)
	set("max_price", c.search.MaxPrice)
	set("num_beds", c.search.NumBeds)
	set("max_num_beds", c.search.MaxNumBeds)
	set("num_baths", c.search.NumBaths)
	set("min_listing_approx_size", c.search.MinSquareFeet)
	set("max_listing_approx_size", c.search.MaxSquareFeet)
	set("hoa", c.search.MaxHOAPerMonth)
	set("num_homes", c.search.NumHomes)
	set("status", c.search.Status)
	if c.search.SaleTypes != "" {
		q.Set("sf", c.search.SaleTypes)
	}
	if c.search.PropertyTypes != "" {
		q.Set("uipt", c.search.PropertyTypes)
	}
	return q
}

// --- Autocomplete ---

type autocompleteResponse struct {
	ErrorMessage string `json:"errorMessage"`
	Payload      struct {
		ExactMatch struct {
			URL string `json:"url"`
		} `json:"exactMatch"`
	} `json:"payload"`
}

// Autocomplete resolves a full address to its Redfin property URL. An empty
// string is returned when the address has no exact match.
func (c *Client) Autocomplete(ctx context.Context, address string) (string, error) {
	q := url.Values{}
	q.Set("location", address)
	q.Set("v", "2")
	u := c.baseURL + "/stingray/do/location-autocomplete?" + q.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return "", fmt.Errorf("autocomplete %q: %w", address, err)
	}

	var resp autocompleteResponse
	if err := decodeStingray(body, &resp); err != nil {
		return "", fmt.Errorf("autocomplete %q: %w", address, err)
	}
	if resp.ErrorMessage != "Success" {
		return "", fmt.Errorf("autocomplete %q: %s", address, resp.ErrorMessage)
	}
	return resp.Payload.ExactMatch.URL, nil
}

// --- Initial info ---

type initialInfoResponse struct {
	Payload struct {
		ResponseCode int   `json:"responseCode"`
		PropertyID   int64 `json:"propertyId"`
		ListingID    int64 `json:"listingId"`
	} `json:"payload"`
}

// InitialInfo resolves a property URL to its property and listing ids.
func (c *Client) InitialInfo(ctx context.Context, propertyURL string) (propertyID, listingID int64, err error) {
	q := url.Values{}
	q.Set("path", propertyURL)
	u := c.baseURL + "/stingray/api/home/details/initialInfo?" + q.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return 0, 0, fmt.Errorf("initial info for %q: %w", propertyURL, err)
	}

	var resp initialInfoResponse
	if err := decodeStingray(body, &resp); err != nil {
		return 0, 0, fmt.Errorf("initial info for %q: %w", propertyURL, err)
	}
	if resp.Payload.ResponseCode != 200 {
		return 0, 0, fmt.Errorf("initial info for %q: response code %d", propertyURL, resp.Payload.ResponseCode)
	}
	return resp.Payload.PropertyID, resp.Payload.ListingID, nil
}

// --- Below the fold ---

type taxInfo struct {
	RollYear                int     `json:"rollYear"`
	TaxableLandValue        float64 `json:"taxableLandValue"`
	TaxableImprovementValue float64 `json:"taxableImprovementValue"`
}

type belowTheFoldResponse struct {
	Payload struct {
		PublicRecordsInfo struct {
			AllTaxInfo []taxInfo `json:"allTaxInfo"`
		} `json:"publicRecordsInfo"`
	} `json:"payload"`
}

// BelowTheFold returns the latest tax-assessed value for a property: the
// taxable land plus improvement value of the most recent roll year. It
// returns -1 when the property has no tax records.
func (c *Client) BelowTheFold(ctx context.Context, propertyID int64) (float64, error) {
	q := url.Values{}
	q.Set("propertyId", strconv.FormatInt(propertyID, 10))
	u := c.baseURL + "/stingray/api/home/details/belowTheFold?" + q.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return -1, fmt.Errorf("below the fold for %d: %w", propertyID, err)
	}

	var resp belowTheFoldResponse
	if err := decodeStingray(body, &resp); err != nil {
		return -1, fmt.Errorf("below the fold for %d: %w", propertyID, err)
	}

	taxes := resp.Payload.PublicRecordsInfo.AllTaxInfo
	if len(taxes) == 0 {
		return -1, nil
	}
	sort.Slice(taxes, func(i, j int) bool {
		return taxes[i].RollYear > taxes[j].RollYear
	})
	latest := taxes[0]
	return latest.TaxableLandValue + latest.TaxableImprovementValue, nil
}

// TaxAssessedValue resolves the tax-assessed value for a full address by
// chaining autocomplete, initial-info, and below-the-fold. Any failure in
// the chain yields -1 with the error; callers treat -1 as "no value".
func (c *Client) TaxAssessedValue(ctx context.Context, address string) (float64, error) {
	propertyURL, err := c.Autocomplete(ctx, address)
	if err != nil {
		return -1, err
	}
	if propertyURL == "" {
		return -1, fmt.Errorf("no exact match for %q", address)
	}

	propertyID, _, err := c.InitialInfo(ctx, propertyURL)
	if err != nil {
		return -1, err
	}

	return c.BelowTheFold(ctx, propertyID)
}

// --- HTTP plumbing ---

// get performs a GET request and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))
	}
	return body, nil
}

// decodeStingray strips the anti-hijacking prefix and decodes the JSON body.
func decodeStingray(body []byte, v any) error {
	body = bytes.TrimPrefix(body, jsonPrefix)
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
