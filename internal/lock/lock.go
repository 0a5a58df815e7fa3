// Package lock provides cross-process advisory mutual exclusion for the
// database working set. Locking is cooperative: it serializes independent
// scrape-and-sync invocations that all check the same lock file, and has no
// effect on processes that do not.
//
// The OS-level primitive is hidden behind the Locker interface; the platform
// implementation is selected at startup and tests substitute an in-memory
// fake.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const lockSuffix = ".lock"

// ErrTimeout is returned when the lock cannot be acquired before the
// caller's deadline. It is a retryable run failure, never fatal.
var ErrTimeout = errors.New("lock acquisition timed out")

// Locker is the OS-level advisory locking primitive.
type Locker interface {
	// TryLock attempts a non-blocking exclusive lock on the open file.
	// Returns false with a nil error when the lock is held elsewhere.
	TryLock(f *os.File) (bool, error)
	Unlock(f *os.File) error
	// ProcessAlive reports whether the recorded owner pid still runs.
	ProcessAlive(pid int) bool
}

// Handle represents one held lock.
type Handle struct {
	file      *os.File
	sessionID string
}

type Options struct {
	// Dir holds the lock files; Name is the resource being serialized
	// (e.g. "database"). The lock file is <dir>/<name>.lock.
	Dir          string
	Name         string
	PollInterval time.Duration
	Locker       Locker
	Logger       *log.Logger
}

type Manager struct {
	dir    string
	path   string
	poll   time.Duration
	locker Locker
	logger *log.Logger
}

func NewManager(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "database"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	locker := opts.Locker
	if locker == nil {
		locker = defaultLocker()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[lock] ", log.LstdFlags)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &Manager{
		dir:    opts.Dir,
		path:   filepath.Join(opts.Dir, name+lockSuffix),
		poll:   poll,
		locker: locker,
		logger: logger,
	}, nil
}

// Acquire polls for the exclusive lock until timeout, writing the session
// id, timestamp and pid into the file once held.
func (m *Manager) Acquire(ctx context.Context, sessionID string, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}
		held, err := m.locker.TryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("try lock: %w", err)
		}
		if held {
			if err := writeOwner(f, sessionID); err != nil {
				m.logger.Printf("cannot record lock owner: %v", err)
			}
			return &Handle{file: f, sessionID: sessionID}, nil
		}
		_ = f.Close()
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Release unlocks and closes the handle. Failures are logged, never raised.
func (m *Manager) Release(h *Handle) {
	if h == nil || h.file == nil {
		return
	}
	if err := m.locker.Unlock(h.file); err != nil {
		m.logger.Printf("unlock failed for session %s: %v", h.sessionID, err)
	}
	if err := h.file.Close(); err != nil {
		m.logger.Printf("close failed for session %s: %v", h.sessionID, err)
	}
	h.file = nil
}

// CleanupStale removes lock files in the lock directory older than maxAge
// whose recorded owner pid is no longer alive, or whose content is
// unreadable. This protects against crashed holders leaking locks forever.
// Returns the number of files removed.
func (m *Manager) CleanupStale(maxAge time.Duration) int {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Printf("stale sweep: cannot list %s: %v", m.dir, err)
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), lockSuffix) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		pid, ok := readOwnerPID(path)
		if ok && m.locker.ProcessAlive(pid) {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Printf("stale sweep: cannot remove %s: %v", entry.Name(), err)
			continue
		}
		m.logger.Printf("removed stale lock %s (pid %d)", entry.Name(), pid)
		removed++
	}
	return removed
}

// writeOwner records "session id / RFC3339 timestamp / pid", one per line.
func writeOwner(f *os.File, sessionID string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("%s\n%s\n%d\n", sessionID, time.Now().UTC().Format(time.RFC3339), os.Getpid())
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Sync()
}

func readOwnerPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 3 {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[2]))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
