package backup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miqq27/olx-scraper/internal/ledger"
	"github.com/miqq27/olx-scraper/internal/validate"
)

func newManager(t *testing.T, maxBackups int) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	v, err := validate.New(nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	m, err := NewManager(Options{Dir: dir, MaxBackups: maxBackups, Validator: v})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m, dir
}

func sampleDB(price float64) *ledger.Database {
	db := ledger.NewDatabase()
	db.History["olx_a"] = []ledger.PriceObservation{
		{Date: "2026-08-30T12:00:00Z", Price: price, Title: "A", Link: "https://x/a", Source: "olx.ro"},
	}
	return db
}

func TestCreateWritesSnapshot(t *testing.T) {
	m, _ := newManager(t, 10)
	path, err := m.Create(sampleDB(100), "pre-upload")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "pre-upload") {
		t.Fatalf("tag missing from name: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not on disk: %v", err)
	}
}

func TestRetentionKeepsNewestN(t *testing.T) {
	const maxBackups = 4
	m, _ := newManager(t, maxBackups)
	var last string
	for i := 0; i < maxBackups+3; i++ {
		path, err := m.Create(sampleDB(float64(100+i)), "")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		last = path
	}
	names, err := m.list()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != maxBackups {
		t.Fatalf("expected %d backups, got %d", maxBackups, len(names))
	}
	// The newest snapshot must have survived the prune.
	if names[len(names)-1] != filepath.Base(last) {
		t.Fatalf("newest backup pruned: %v", names)
	}
}

func TestLatestValidSkipsCorruptSnapshots(t *testing.T) {
	m, dir := newManager(t, 10)
	if _, err := m.Create(sampleDB(100), "good"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Plant a newer, unusable file that sorts after the good one.
	bad := filepath.Join(dir, backupPrefix+"99991231_235959.999999999"+backupSuffix)
	if err := os.WriteFile(bad, []byte(`[1,2,3]`), 0o644); err != nil {
		t.Fatalf("plant corrupt backup: %v", err)
	}
	path, db, err := m.LatestValid()
	if err != nil {
		t.Fatalf("latest valid: %v", err)
	}
	if path == bad {
		t.Fatalf("corrupt snapshot selected")
	}
	if db.History["olx_a"][0].Price != 100 {
		t.Fatalf("wrong snapshot content: %+v", db.History)
	}
}

func TestLatestValidEmptyStore(t *testing.T) {
	m, _ := newManager(t, 10)
	if _, _, err := m.LatestValid(); !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
}

func TestRestoreOverwritesTarget(t *testing.T) {
	m, _ := newManager(t, 10)
	path, err := m.Create(sampleDB(250), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	target := filepath.Join(t.TempDir(), "price_history.json")
	if err := m.Restore(path, target); err != nil {
		t.Fatalf("restore: %v", err)
	}
	db, err := ledger.LoadFile(target)
	if err != nil {
		t.Fatalf("load restored: %v", err)
	}
	if db.History["olx_a"][0].Price != 250 {
		t.Fatalf("restored content wrong: %+v", db.History)
	}
}
