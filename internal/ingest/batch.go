package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/miqq27/olx-scraper/internal/ledger"
)

// ReadBatchFile decodes one scraped batch: a JSON array of listing records.
// Records are normalized (id derived, price parsed) and records carrying
// neither a link nor a title are dropped, their count reported back.
func ReadBatchFile(path string) ([]ledger.ListingRecord, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var raw []ledger.ListingRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode batch %s: %w", filepath.Base(path), err)
	}
	records := make([]ledger.ListingRecord, 0, len(raw))
	dropped := 0
	for _, rec := range raw {
		if strings.TrimSpace(rec.Link) == "" && strings.TrimSpace(rec.Title) == "" {
			dropped++
			continue
		}
		rec.Normalize()
		records = append(records, rec)
	}
	return records, dropped, nil
}

// ReadBatchDir reads every *.json batch in dir in name order and
// concatenates the records.
func ReadBatchDir(dir string) ([]ledger.ListingRecord, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	var records []ledger.ListingRecord
	dropped := 0
	for _, name := range names {
		batch, skipped, err := ReadBatchFile(filepath.Join(dir, name))
		if err != nil {
			return nil, dropped, err
		}
		records = append(records, batch...)
		dropped += skipped
	}
	return records, dropped, nil
}
