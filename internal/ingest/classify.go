// Package ingest turns scraped listing batches into ledger updates: it
// classifies each record against the current database, appends every
// observation, and drives the locked download-classify-upload cycle.
package ingest

import (
	"math"

	"github.com/miqq27/olx-scraper/internal/ledger"
)

// DefaultPriceThreshold is the minimum absolute price move, in currency
// units, that counts as a change.
const DefaultPriceThreshold = 1.0

// Category is the classification of one scraped record.
type Category string

const (
	CategoryNew       Category = "new"
	CategoryChanged   Category = "changed"
	CategoryUnchanged Category = "unchanged"
)

// Summary groups one batch by classification. Every record in the batch
// appears in exactly one group.
type Summary struct {
	New       []ledger.ListingRecord
	Changed   []ledger.ListingRecord
	Unchanged []ledger.ListingRecord
}

// Reportable returns the records surfaced to downstream reporting: new and
// changed listings only. Unchanged observations still reach the ledger.
func (s Summary) Reportable() []ledger.ListingRecord {
	out := make([]ledger.ListingRecord, 0, len(s.New)+len(s.Changed))
	out = append(out, s.New...)
	out = append(out, s.Changed...)
	return out
}

// ClassifyOne classifies a single record against the database. The decision
// reads the ledger but never writes it.
func ClassifyOne(db *ledger.Database, rec ledger.ListingRecord, threshold float64) Category {
	if threshold <= 0 {
		threshold = DefaultPriceThreshold
	}
	state, known := db.EntryState(rec.UniqueID)
	if !known {
		return CategoryNew
	}
	if !rec.PriceKnown {
		// A listing we cannot price is not evidence of a change.
		return CategoryUnchanged
	}
	if math.Abs(rec.Price-state.LastPrice) >= threshold {
		return CategoryChanged
	}
	return CategoryUnchanged
}

// Classify classifies a whole batch, preserving batch order within each
// group.
func Classify(db *ledger.Database, records []ledger.ListingRecord, threshold float64) Summary {
	var s Summary
	for _, rec := range records {
		switch ClassifyOne(db, rec, threshold) {
		case CategoryNew:
			s.New = append(s.New, rec)
		case CategoryChanged:
			s.Changed = append(s.Changed, rec)
		default:
			s.Unchanged = append(s.Unchanged, rec)
		}
	}
	return s
}
