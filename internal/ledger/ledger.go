// Package ledger defines the persisted price-history document and the
// listing records fed into it by the scraping pipeline.
//
// The document is a single JSON object of the form
//
//	{"history": {"<unique_id>": [observation, ...]}, "metadata": {...}}
//
// where each per-listing observation list is append-only and chronological.
// The engine never deletes entries; pruning is an external administrative
// action.
package ledger

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UnknownPrice is the sentinel recorded for listings whose price text could
// not be parsed. Kept numeric so such observations survive validation.
const UnknownPrice = 999999

// TimeFormat is the timestamp layout used throughout the persisted document.
const TimeFormat = time.RFC3339

// ListingRecord is one scraped listing as produced by the extraction
// component. UniqueID may be empty on input; Normalize derives it.
type ListingRecord struct {
	UniqueID   string   `json:"unique_id"`
	Title      string   `json:"title"`
	Price      float64  `json:"price"`
	PriceKnown bool     `json:"-"`
	PriceText  string   `json:"price_text"`
	Link       string   `json:"link"`
	ScrapedAt  string   `json:"scraped_at"`
	Year       string   `json:"year,omitempty"`
	Km         string   `json:"km,omitempty"`
	FuelType   string   `json:"fuel_type,omitempty"`
	Gearbox    string   `json:"gearbox,omitempty"`
	CarBody    string   `json:"car_body,omitempty"`
	Brand      string   `json:"brand,omitempty"`
	Model      string   `json:"model,omitempty"`
	ImageURLs  []string `json:"image_urls,omitempty"`
}

// PriceObservation is one immutable ledger entry. The field set mirrors the
// persisted document exactly.
type PriceObservation struct {
	Date      string  `json:"date"`
	Price     float64 `json:"price"`
	PriceText string  `json:"price_text"`
	Title     string  `json:"title"`
	Link      string  `json:"link"`
	Source    string  `json:"source"`
}

// OperationStats summarizes the most recent save cycle.
type OperationStats struct {
	SessionID   string `json:"session_id,omitempty"`
	Processed   int    `json:"processed"`
	New         int    `json:"new"`
	Changed     int    `json:"changed"`
	Unchanged   int    `json:"unchanged"`
	Appended    int    `json:"appended"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Metadata carries document-level bookkeeping.
type Metadata struct {
	LastUpdate              string          `json:"last_update,omitempty"`
	TotalCars               int             `json:"total_cars,omitempty"`
	TotalObservations       int             `json:"total_observations,omitempty"`
	CorruptedEntriesRemoved int             `json:"corrupted_entries_removed,omitempty"`
	RecoveryChain           []string        `json:"recovery_chain,omitempty"`
	Source                  string          `json:"source,omitempty"`
	LastOperation           *OperationStats `json:"last_operation,omitempty"`
}

// Database is the full persisted document.
type Database struct {
	History  map[string][]PriceObservation `json:"history"`
	Metadata Metadata                      `json:"metadata"`
}

// EntryState is the derived latest-state view of one ledger entry, used by
// the duplicate classifier.
type EntryState struct {
	Title         string
	Link          string
	LastPrice     float64
	LastPriceText string
	LastSeen      string
	FirstSeen     string
}

// NewDatabase returns an empty document with both top-level keys present.
func NewDatabase() *Database {
	return &Database{
		History:  map[string][]PriceObservation{},
		Metadata: Metadata{},
	}
}

// EntryState returns the latest-state snapshot for id, derived from the
// first and last observations of its history.
func (db *Database) EntryState(id string) (EntryState, bool) {
	if db == nil {
		return EntryState{}, false
	}
	obs := db.History[id]
	if len(obs) == 0 {
		return EntryState{}, false
	}
	first := obs[0]
	last := obs[len(obs)-1]
	return EntryState{
		Title:         last.Title,
		Link:          last.Link,
		LastPrice:     last.Price,
		LastPriceText: last.PriceText,
		LastSeen:      last.Date,
		FirstSeen:     first.Date,
	}, true
}

// Append adds one observation for rec, creating the entry on first sight.
// History only ever grows through this method.
func (db *Database) Append(rec ListingRecord, source string) {
	if db.History == nil {
		db.History = map[string][]PriceObservation{}
	}
	price := rec.Price
	if !rec.PriceKnown {
		price = UnknownPrice
	}
	date := rec.ScrapedAt
	if strings.TrimSpace(date) == "" {
		date = time.Now().UTC().Format(TimeFormat)
	}
	db.History[rec.UniqueID] = append(db.History[rec.UniqueID], PriceObservation{
		Date:      date,
		Price:     price,
		PriceText: rec.PriceText,
		Title:     rec.Title,
		Link:      rec.Link,
		Source:    source,
	})
}

// TotalObservations counts every observation across all entries.
func (db *Database) TotalObservations() int {
	if db == nil {
		return 0
	}
	total := 0
	for _, obs := range db.History {
		total += len(obs)
	}
	return total
}

// NewestObservation returns the timestamp of the most recent observation in
// the whole document, or the zero time for an empty document.
func (db *Database) NewestObservation() time.Time {
	var newest time.Time
	if db == nil {
		return newest
	}
	for _, obs := range db.History {
		for _, o := range obs {
			if ts, err := ParseTimestamp(o.Date); err == nil && ts.After(newest) {
				newest = ts
			}
		}
	}
	return newest
}

var olxIDPattern = regexp.MustCompile(`ID([a-zA-Z0-9]+)\.html`)

// DeriveID produces the stable unique id for a listing: the marketplace id
// embedded in the link when present, otherwise a content hash of link+title.
func DeriveID(link, title string) string {
	if m := olxIDPattern.FindStringSubmatch(link); m != nil {
		return "olx_" + m[1]
	}
	sum := md5.Sum([]byte(link + "_" + title))
	return "hash_" + hex.EncodeToString(sum[:])[:12]
}

var nonPricePattern = regexp.MustCompile(`[^\d.,]`)

// ExtractNumericPrice normalizes scraped price text ("12.500,50 EUR") into a
// float. Dots are thousands separators, the comma is the decimal mark.
func ExtractNumericPrice(text string) (float64, bool) {
	cleaned := nonPricePattern.ReplaceAllString(text, "")
	if cleaned == "" {
		return 0, false
	}
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	var value float64
	if _, err := fmt.Sscanf(cleaned, "%f", &value); err != nil {
		return 0, false
	}
	if value < 0 {
		return 0, false
	}
	return value, true
}

// Normalize fills in derivable fields after decoding a scraped batch:
// the unique id when absent, and the numeric price from the raw text.
func (r *ListingRecord) Normalize() {
	if strings.TrimSpace(r.UniqueID) == "" {
		r.UniqueID = DeriveID(r.Link, r.Title)
	}
	if r.Price > 0 && r.Price != UnknownPrice {
		r.PriceKnown = true
		return
	}
	if price, ok := ExtractNumericPrice(r.PriceText); ok && price > 0 {
		r.Price = price
		r.PriceKnown = true
		return
	}
	r.Price = UnknownPrice
	r.PriceKnown = false
}

// ParseTimestamp accepts the formats observed in persisted documents.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", value)
}
