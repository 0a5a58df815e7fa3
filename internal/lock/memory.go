package lock

import (
	"os"
	"sync"
)

// MemoryLocker is a process-local Locker for tests. Locks are keyed by file
// path and pid liveness is driven by the AlivePIDs set.
type MemoryLocker struct {
	mu        sync.Mutex
	held      map[string]bool
	AlivePIDs map[int]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:      map[string]bool{},
		AlivePIDs: map[int]bool{os.Getpid(): true},
	}
}

func (l *MemoryLocker) TryLock(f *os.File) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[f.Name()] {
		return false, nil
	}
	l.held[f.Name()] = true
	return true, nil
}

func (l *MemoryLocker) Unlock(f *os.File) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, f.Name())
	return nil
}

func (l *MemoryLocker) ProcessAlive(pid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.AlivePIDs[pid]
}
