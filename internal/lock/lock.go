// Package lock provides the store-scoped file lock that keeps two sync runs
// from writing to the same task store concurrently.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("another sync is in progress")

// DefaultName is the lock file name placed next to the store.
const DefaultName = "bugwarrior.lockfile"

// DefaultPath returns the lock path for a store keyed by storePath.
func DefaultPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), DefaultName)
}

// Lock is a held exclusive lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the exclusive lock at path without blocking. The caller
// must Release it on every exit path.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !locked {
		if pid, alive := Holder(path); alive {
			return nil, fmt.Errorf("%s held by pid %d: %w", path, pid, ErrLocked)
		}
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("failed to record lock owner: %w", err)
	}

	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil || !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Holder reports the pid recorded in the lock file and whether that
// process is still running.
func Holder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	err = unix.Kill(pid, 0)
	return pid, err == nil || errors.Is(err, unix.EPERM)
}
