package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, locker Locker) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(Options{
		Dir:          dir,
		Name:         "database",
		PollInterval: 5 * time.Millisecond,
		Locker:       locker,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m, dir
}

func TestAcquireRecordsOwner(t *testing.T) {
	m, dir := newTestManager(t, NewMemoryLocker())
	h, err := m.Acquire(context.Background(), "sync_test_1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(h)

	data, err := os.ReadFile(filepath.Join(dir, "database.lock"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", data)
	}
	if lines[0] != "sync_test_1" {
		t.Fatalf("session id not recorded: %q", lines[0])
	}
	if _, err := time.Parse(time.RFC3339, lines[1]); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", lines[1])
	}
	if lines[2] != fmt.Sprintf("%d", os.Getpid()) {
		t.Fatalf("pid not recorded: %q", lines[2])
	}
}

func TestSecondAcquireTimesOutWhileHeld(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryLocker())
	h, err := m.Acquire(context.Background(), "holder", time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "contender", 30*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	m.Release(h)
	h2, err := m.Acquire(context.Background(), "contender", time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	m.Release(h2)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryLocker())
	h, err := m.Acquire(context.Background(), "holder", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "contender", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestCleanupStaleRemovesDeadOwners(t *testing.T) {
	locker := NewMemoryLocker()
	locker.AlivePIDs[4242] = true
	m, dir := newTestManager(t, locker)

	old := time.Now().Add(-time.Hour)
	writeLockFile(t, dir, "dead.lock", "s1", 99999, old)
	writeLockFile(t, dir, "alive.lock", "s2", 4242, old)
	writeLockFile(t, dir, "garbage.lock", "", 0, old)
	writeLockFile(t, dir, "fresh.lock", "s3", 99998, time.Now())

	if removed := m.CleanupStale(10 * time.Minute); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	for name, want := range map[string]bool{
		"dead.lock":    false,
		"alive.lock":   true,
		"garbage.lock": false,
		"fresh.lock":   true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		if exists := err == nil; exists != want {
			t.Fatalf("%s: exists=%v, want %v", name, exists, want)
		}
	}
}

func writeLockFile(t *testing.T, dir, name, session string, pid int, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	content := fmt.Sprintf("%s\n%s\n%d\n", session, mtime.UTC().Format(time.RFC3339), pid)
	if pid == 0 {
		content = "unreadable"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}
