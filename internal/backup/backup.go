// Package backup maintains timestamped, retention-bounded local snapshots of
// the price-history document. Backups are write-once files; atomicity comes
// from temp-file-then-rename, so no locking beyond the filesystem is needed.
package backup

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/miqq27/olx-scraper/internal/ledger"
	"github.com/miqq27/olx-scraper/internal/validate"
)

const (
	backupPrefix = "price_history_backup_"
	backupSuffix = ".json"
	// Nanosecond fraction keeps names unique and lexicographically
	// chronological even for back-to-back snapshots.
	stampLayout = "20060102_150405.000000000"
)

// ErrNoBackup is returned by LatestValid when no usable snapshot exists.
var ErrNoBackup = errors.New("no valid backup available")

type Options struct {
	Dir           string
	MaxBackups    int
	RetentionDays int
	Validator     *validate.Validator
	Logger        *log.Logger
}

type Manager struct {
	dir           string
	maxBackups    int
	retentionDays int
	validator     *validate.Validator
	logger        *log.Logger
}

func NewManager(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("backup validator is required")
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 10
	}
	retentionDays := opts.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[backup] ", log.LstdFlags)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &Manager{
		dir:           opts.Dir,
		maxBackups:    maxBackups,
		retentionDays: retentionDays,
		validator:     opts.Validator,
		logger:        logger,
	}, nil
}

// Create validates and corrects db, writes the snapshot atomically, then
// prunes old backups. Returns the snapshot path.
func (m *Manager) Create(db *ledger.Database, tag string) (string, error) {
	res := m.validator.Validate(db)
	if res.Corrected == nil {
		return "", fmt.Errorf("refusing to back up unusable document: %s", strings.Join(res.Problems, "; "))
	}
	name := backupPrefix + time.Now().UTC().Format(stampLayout)
	if tag = sanitizeTag(tag); tag != "" {
		name += "_" + tag
	}
	name += backupSuffix
	path := filepath.Join(m.dir, name)

	data, err := ledger.Encode(res.Corrected)
	if err != nil {
		return "", err
	}
	if err := ledger.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	m.prune()
	return path, nil
}

// LatestValid scans backups newest-first and returns the first one that
// validates or corrects cleanly. Unreadable or unusable files are skipped
// with a log line.
func (m *Manager) LatestValid() (string, *ledger.Database, error) {
	names, err := m.list()
	if err != nil {
		return "", nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(m.dir, names[i])
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Printf("skipping unreadable backup %s: %v", names[i], err)
			continue
		}
		res := m.validator.ValidateBytes(data)
		if res.Corrected == nil {
			m.logger.Printf("skipping invalid backup %s: %s", names[i], strings.Join(res.Problems, "; "))
			continue
		}
		return path, res.Corrected, nil
	}
	return "", nil, ErrNoBackup
}

// Restore validates the snapshot at path and atomically overwrites target.
func (m *Manager) Restore(path, target string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	res := m.validator.ValidateBytes(data)
	if res.Corrected == nil {
		return fmt.Errorf("backup %s is not restorable: %s", filepath.Base(path), strings.Join(res.Problems, "; "))
	}
	return ledger.SaveFile(target, res.Corrected)
}

// list returns backup file names sorted oldest-first.
func (m *Manager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// prune enforces the max-count bound and the retention window. Failures are
// logged, never raised: losing a prune is preferable to failing a save.
func (m *Manager) prune() {
	names, err := m.list()
	if err != nil {
		m.logger.Printf("prune: cannot list backups: %v", err)
		return
	}
	drop := map[string]bool{}
	if excess := len(names) - m.maxBackups; excess > 0 {
		for _, name := range names[:excess] {
			drop[name] = true
		}
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	for _, name := range names {
		if stamp, ok := parseStamp(name); ok && stamp.Before(cutoff) {
			drop[name] = true
		}
	}
	for name := range drop {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			m.logger.Printf("prune: cannot remove %s: %v", name, err)
		}
	}
}

func parseStamp(name string) (time.Time, bool) {
	trimmed := strings.TrimPrefix(name, backupPrefix)
	trimmed = strings.TrimSuffix(trimmed, backupSuffix)
	if len(trimmed) < len(stampLayout) {
		return time.Time{}, false
	}
	stamp, err := time.Parse(stampLayout, trimmed[:len(stampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}

func sanitizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.ReplaceAll(tag, string(filepath.Separator), "-")
	return strings.ReplaceAll(tag, " ", "-")
}
