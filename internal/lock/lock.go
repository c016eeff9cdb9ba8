// Package lock keeps fix sessions on one project from running concurrently.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const sessionLockName = "session.lock"

// SessionLock is an exclusive lock on <dir>/locks/session.lock.
type SessionLock struct {
	fl *flock.Flock
}

// TryAcquire attempts to take the session lock without blocking. ok is false
// when another process holds it.
func TryAcquire(dir string) (lock *SessionLock, ok bool, err error) {
	locksDir := filepath.Join(dir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create locks dir: %w", err)
	}
	fl := flock.New(filepath.Join(locksDir, sessionLockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", sessionLockName, err)
	}
	if !locked {
		return nil, false, nil
	}
	return &SessionLock{fl: fl}, true, nil
}

// Release releases the lock.
func (l *SessionLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
