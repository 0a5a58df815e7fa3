//go:build unix

package lock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFlockLockerExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	first, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer first.Close()
	second, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer second.Close()

	locker := flockLocker{}
	held, err := locker.TryLock(first)
	if err != nil || !held {
		t.Fatalf("first lock: held=%v err=%v", held, err)
	}
	// A second file description must not acquire the lock.
	held, err = locker.TryLock(second)
	if err != nil {
		t.Fatalf("second try: %v", err)
	}
	if held {
		t.Fatalf("exclusive lock acquired twice")
	}
	if err := locker.Unlock(first); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	held, err = locker.TryLock(second)
	if err != nil || !held {
		t.Fatalf("lock after release: held=%v err=%v", held, err)
	}
}

func TestFlockProcessAlive(t *testing.T) {
	locker := flockLocker{}
	if !locker.ProcessAlive(os.Getpid()) {
		t.Fatalf("own pid should be alive")
	}
	if locker.ProcessAlive(0) || locker.ProcessAlive(-1) {
		t.Fatalf("non-positive pids are never alive")
	}
}
