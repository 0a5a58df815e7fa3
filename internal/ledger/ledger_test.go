package ledger

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveIDFromMarketplaceLink(t *testing.T) {
	link := "https://www.olx.ro/d/oferta/vw-golf-7-IDgkTxq.html"
	id := DeriveID(link, "VW Golf 7")
	if id != "olx_gkTxq" {
		t.Fatalf("expected olx_gkTxq, got %s", id)
	}
}

func TestDeriveIDHashFallback(t *testing.T) {
	id := DeriveID("https://example.com/listing/123", "Some Car")
	if !strings.HasPrefix(id, "hash_") {
		t.Fatalf("expected hash_ prefix, got %s", id)
	}
	if len(id) != len("hash_")+12 {
		t.Fatalf("expected 12-char digest, got %s", id)
	}
	again := DeriveID("https://example.com/listing/123", "Some Car")
	if id != again {
		t.Fatalf("id not stable: %s vs %s", id, again)
	}
	other := DeriveID("https://example.com/listing/123", "Other Car")
	if id == other {
		t.Fatalf("different titles must hash differently")
	}
}

func TestExtractNumericPrice(t *testing.T) {
	cases := []struct {
		text  string
		want  float64
		known bool
	}{
		{"12.500,50 EUR", 12500.50, true},
		{"9 800 lei", 9800, true},
		{"1.000", 1000, true},
		{"750,5", 750.5, true},
		{"Schimb", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ExtractNumericPrice(tc.text)
		if ok != tc.known {
			t.Fatalf("%q: known=%v, want %v", tc.text, ok, tc.known)
		}
		if ok && got != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestNormalizeDerivesIDAndPrice(t *testing.T) {
	rec := ListingRecord{
		Title:     "Dacia Logan",
		Link:      "https://www.olx.ro/d/oferta/dacia-logan-IDabc12.html",
		PriceText: "3.200 EUR",
	}
	rec.Normalize()
	if rec.UniqueID != "olx_abc12" {
		t.Fatalf("unexpected id %s", rec.UniqueID)
	}
	if !rec.PriceKnown || rec.Price != 3200 {
		t.Fatalf("unexpected price %v known=%v", rec.Price, rec.PriceKnown)
	}
}

func TestNormalizeUnknownPrice(t *testing.T) {
	rec := ListingRecord{Title: "Barter", Link: "https://example.com/x", PriceText: "schimb"}
	rec.Normalize()
	if rec.PriceKnown {
		t.Fatalf("price should be unknown")
	}
	if rec.Price != UnknownPrice {
		t.Fatalf("expected sentinel %d, got %v", UnknownPrice, rec.Price)
	}
}

func TestAppendGrowsHistoryOnly(t *testing.T) {
	db := NewDatabase()
	rec := ListingRecord{
		UniqueID:   "olx_a",
		Title:      "Car A",
		Price:      100,
		PriceKnown: true,
		Link:       "https://www.olx.ro/a",
	}
	db.Append(rec, "olx.ro")
	rec.Price = 105
	db.Append(rec, "olx.ro")

	obs := db.History["olx_a"]
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if obs[0].Price != 100 || obs[1].Price != 105 {
		t.Fatalf("observations out of order: %v", obs)
	}
	if obs[0].Source != "olx.ro" {
		t.Fatalf("source not recorded")
	}
	if db.TotalObservations() != 2 {
		t.Fatalf("expected 2 total, got %d", db.TotalObservations())
	}
}

func TestEntryStateFirstAndLastSeen(t *testing.T) {
	db := NewDatabase()
	db.History["olx_a"] = []PriceObservation{
		{Date: "2026-08-01T10:00:00Z", Price: 100, Link: "https://x/a"},
		{Date: "2026-08-10T10:00:00Z", Price: 95, Link: "https://x/a"},
	}
	state, ok := db.EntryState("olx_a")
	if !ok {
		t.Fatalf("entry should exist")
	}
	if state.FirstSeen != "2026-08-01T10:00:00Z" || state.LastSeen != "2026-08-10T10:00:00Z" {
		t.Fatalf("unexpected seen range: %+v", state)
	}
	if state.LastPrice != 95 {
		t.Fatalf("expected last price 95, got %v", state.LastPrice)
	}
	if _, ok := db.EntryState("olx_missing"); ok {
		t.Fatalf("missing entry should report absent")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	for _, value := range []string{
		"2026-08-30T12:00:00Z",
		"2026-08-30T12:00:00.123456Z",
		"2026-08-30T12:00:00",
		"2026-08-30 12:00:00",
		"2026-08-30",
	} {
		if _, err := ParseTimestamp(value); err != nil {
			t.Fatalf("should parse %q: %v", value, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("garbage timestamp should fail")
	}
}

func TestNewestObservation(t *testing.T) {
	db := NewDatabase()
	if !db.NewestObservation().IsZero() {
		t.Fatalf("empty database should have zero newest")
	}
	db.History["a"] = []PriceObservation{{Date: "2026-08-01T00:00:00Z", Price: 1, Link: "https://x"}}
	db.History["b"] = []PriceObservation{{Date: "2026-08-20T00:00:00Z", Price: 1, Link: "https://x"}}
	want := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if got := db.NewestObservation(); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
