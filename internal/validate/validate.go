// Package validate checks and repairs persisted price-history documents.
//
// Validation is two-phase: a structural JSON-schema pass over raw bytes,
// then a semantic pass over the raw object form that drops individually
// corrupt observations and returns a corrected copy annotated with counts.
// Correction never mutates the input document.
package validate

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/miqq27/olx-scraper/internal/ledger"
)

const documentSchema = `{
  "type": "object",
  "properties": {
    "history": {
      "type": "object",
      "additionalProperties": {"type": "array"}
    },
    "metadata": {"type": "object"}
  }
}`

// Report carries the counts recorded on a corrected document.
type Report struct {
	TotalCars        int
	TotalObs         int
	CorruptedRemoved int
}

// Result is the outcome of one validation pass. Valid means the input was
// usable as-is; Corrected is non-nil whenever the document is usable at all,
// possibly after repairs listed in Problems. Corrected is nil only for input
// that is not a JSON object.
type Result struct {
	Valid     bool
	Corrected *ledger.Database
	Report    Report
	Problems  []string
}

type Validator struct {
	schema *jsonschema.Schema
	logger *log.Logger
}

// New compiles the document schema once. A nil logger falls back to stderr.
func New(logger *log.Logger) (*Validator, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[validate] ", log.LstdFlags)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
	if err != nil {
		return nil, fmt.Errorf("parse document schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("price_history.schema.json", doc); err != nil {
		return nil, fmt.Errorf("register document schema: %w", err)
	}
	schema, err := compiler.Compile("price_history.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Validator{schema: schema, logger: logger}, nil
}

// ValidateBytes validates raw persisted bytes. Bytes that do not decode to a
// JSON object are the only hard failure: Valid=false with nil Corrected.
func (v *Validator) ValidateBytes(data []byte) Result {
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return Result{Problems: []string{fmt.Sprintf("not valid JSON: %v", err)}}
	}
	obj, ok := instance.(map[string]any)
	if !ok {
		return Result{Problems: []string{"top-level value is not an object"}}
	}
	var problems []string
	if err := v.schema.Validate(instance); err != nil {
		problems = append(problems, fmt.Sprintf("structural check: %v", err))
	}
	res := v.correct(obj)
	res.Problems = append(problems, res.Problems...)
	if len(problems) > 0 {
		res.Valid = false
	}
	if res.Report.CorruptedRemoved > 0 {
		v.logger.Printf("dropped %d corrupt observation(s), kept %d", res.Report.CorruptedRemoved, res.Report.TotalObs)
	}
	return res
}

// Validate validates an already-decoded document. A nil input is the hard
// failure case.
func (v *Validator) Validate(db *ledger.Database) Result {
	if db == nil {
		return Result{Problems: []string{"nil document"}}
	}
	encoded, err := json.Marshal(db)
	if err != nil {
		return Result{Problems: []string{fmt.Sprintf("encode: %v", err)}}
	}
	return v.ValidateBytes(encoded)
}

// correct runs the semantic pass over the raw object form, rebuilding a
// clean document and counting everything it has to drop.
func (v *Validator) correct(obj map[string]any) Result {
	rebuilt := ledger.NewDatabase()
	res := Result{Valid: true, Corrected: rebuilt}

	rawHistory, ok := obj["history"].(map[string]any)
	if !ok {
		if _, present := obj["history"]; present {
			res.Problems = append(res.Problems, "history is not an object, reset")
		} else {
			res.Problems = append(res.Problems, "missing history key, added")
		}
		res.Valid = false
		rawHistory = map[string]any{}
	}
	if _, ok := obj["metadata"].(map[string]any); !ok {
		res.Problems = append(res.Problems, "missing metadata key, added")
		res.Valid = false
	} else {
		// Carry forward whatever known metadata fields decode cleanly.
		if encoded, err := json.Marshal(obj["metadata"]); err == nil {
			_ = json.Unmarshal(encoded, &rebuilt.Metadata)
		}
	}

	removed := 0
	ids := make([]string, 0, len(rawHistory))
	for id := range rawHistory {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rawList, ok := rawHistory[id].([]any)
		if !ok {
			removed++
			res.Problems = append(res.Problems, fmt.Sprintf("%s: history entry is not a list", id))
			continue
		}
		kept := make([]ledger.PriceObservation, 0, len(rawList))
		for _, rawObs := range rawList {
			obs, problem := decodeObservation(rawObs)
			if problem != "" {
				removed++
				res.Problems = append(res.Problems, fmt.Sprintf("%s: %s", id, problem))
				continue
			}
			kept = append(kept, obs)
		}
		if len(kept) > 0 {
			rebuilt.History[id] = kept
		}
	}
	if removed > 0 {
		res.Valid = false
	}

	res.Report = Report{
		TotalCars:        len(rebuilt.History),
		TotalObs:         rebuilt.TotalObservations(),
		CorruptedRemoved: removed,
	}
	rebuilt.Metadata.TotalCars = res.Report.TotalCars
	rebuilt.Metadata.TotalObservations = res.Report.TotalObs
	rebuilt.Metadata.CorruptedEntriesRemoved = removed
	return res
}

func decodeObservation(raw any) (ledger.PriceObservation, string) {
	var obs ledger.PriceObservation
	fields, ok := raw.(map[string]any)
	if !ok {
		return obs, "observation is not an object"
	}
	date, _ := fields["date"].(string)
	if _, err := ledger.ParseTimestamp(date); err != nil {
		return obs, fmt.Sprintf("bad timestamp %q", date)
	}
	price, ok := toFloat(fields["price"])
	if !ok {
		return obs, "missing or non-numeric price"
	}
	if price < 0 {
		return obs, fmt.Sprintf("negative price %v", price)
	}
	link, _ := fields["link"].(string)
	if problem := checkLink(link); problem != "" {
		return obs, problem
	}
	obs.Date = date
	obs.Price = price
	obs.Link = link
	obs.PriceText, _ = fields["price_text"].(string)
	obs.Title, _ = fields["title"].(string)
	obs.Source, _ = fields["source"].(string)
	return obs, ""
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func checkLink(link string) string {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return fmt.Sprintf("unparseable link %q", link)
	}
	switch parsed.Scheme {
	case "http", "https":
		return ""
	default:
		return fmt.Sprintf("unrecognized link scheme %q", parsed.Scheme)
	}
}

// Touch stamps the document's metadata after a successful pass.
func Touch(db *ledger.Database, source string) {
	db.Metadata.LastUpdate = time.Now().UTC().Format(ledger.TimeFormat)
	if source != "" {
		db.Metadata.Source = source
	}
}
