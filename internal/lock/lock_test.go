package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultName)

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer first.Release()

	// flock locks belong to the open file description, so a second
	// descriptor in the same process contends like another process would.
	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	second, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() after release failed: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "nested", DefaultName))
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("first Release() failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() failed: %v", err)
	}

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() failed: %v", err)
	}
}

func TestHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultName)

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer l.Release()

	pid, alive := Holder(path)
	if pid != os.Getpid() || !alive {
		t.Errorf("Holder() = %d, %v; want %d, true", pid, alive, os.Getpid())
	}

	if _, alive := Holder(filepath.Join(t.TempDir(), "missing")); alive {
		t.Error("Holder() reported a live owner for a missing file")
	}
}

func TestDefaultPath(t *testing.T) {
	got := DefaultPath("/home/u/.local/share/bugwarrior/tasks.db")
	want := "/home/u/.local/share/bugwarrior/bugwarrior.lockfile"
	if got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}
