package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/bugwarrior/internal/lock"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Errors returned by Synchronize.
//
// Per-issue and per-task failures never abort a run; they are logged and
// summarized once the whole stream has been processed:
//
//	result, err := engine.Synchronize(ctx, records)
//	if errors.Is(err, sync.ErrWriteFailures) {
//	    // some tasks were not written; result.Failed says how many
//	}
var (
	// ErrWriteFailures is returned after a run in which at least one task
	// mutation was rejected by the store.
	ErrWriteFailures = errors.New("task writes failed")

	// ErrAmbiguous marks an issue whose fingerprint matches more than one
	// local task. The issue is skipped.
	ErrAmbiguous = errors.New("multiple tasks match fingerprint")
)

// WriteError describes one rejected task mutation.
type WriteError struct {
	Op   string
	UUID string
	Desc string
	Err  error
}

func (e *WriteError) Error() string {
	id := e.UUID
	if id == "" {
		id = "(new)"
	}
	return fmt.Sprintf("%s task %s %q: %v", e.Op, id, e.Desc, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborted the run before any mutation, as
// opposed to the aggregate write failure reported after a completed run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, lock.ErrLocked) {
		return true
	}
	if errors.Is(err, uda.ErrConflictingUDA) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !errors.Is(err, ErrWriteFailures)
}
