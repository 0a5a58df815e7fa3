package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// ErrNotObject is returned when persisted bytes do not decode to a JSON
// object at the top level.
var ErrNotObject = errors.New("document is not a JSON object")

// Encode renders the document in the on-disk format (two-space indent,
// unescaped text, trailing newline).
func Encode(db *Database) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(db); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses persisted bytes into a Database. Top-level non-objects are
// rejected with ErrNotObject; missing history/metadata keys are tolerated
// and left for the validator to fill in.
func Decode(data []byte) (*Database, error) {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, ErrNotObject
	}
	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// Clone deep-copies a document through its JSON form.
func Clone(db *Database) (*Database, error) {
	data, err := json.Marshal(db)
	if err != nil {
		return nil, err
	}
	var out Database
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out.History == nil {
		out.History = map[string][]PriceObservation{}
	}
	return &out, nil
}

// WriteFileAtomic persists data via temp-file-then-rename so readers never
// observe a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveFile encodes db and writes it atomically to path.
func SaveFile(path string, db *Database) error {
	data, err := Encode(db)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// LoadFile reads and decodes a persisted document.
func LoadFile(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
