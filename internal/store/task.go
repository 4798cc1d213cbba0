// Package store defines the local task model and the contract every task
// store implements, plus an in-memory store used for dry runs and tests.
package store

import (
	"fmt"
	"time"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
)

// Status is the lifecycle state of a local task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusWaiting, StatusCompleted, StatusDeleted:
		return true
	}
	return false
}

// Task is a locally persisted task.
//
// UUID is stable for the task's lifetime, including across completion and
// reopen. ID is a display number the store may reuse; it is not an identity.
type Task struct {
	// ===== Identity (store assigned) =====
	UUID string `json:"uuid"`
	ID   int    `json:"id"`

	// ===== Lifecycle =====
	Status Status `json:"status"`

	// ===== Timestamps =====
	Entry    time.Time  `json:"entry"`
	Modified time.Time  `json:"modified"`
	End      *time.Time `json:"end,omitempty"`

	// ===== Content =====
	// Fields holds description, project, priority, tags, annotations and
	// every custom field.
	Fields issue.Fields `json:"fields"`
}

// Get implements merge.Container.
func (t *Task) Get(key string) (any, bool) {
	if t.Fields == nil {
		return nil, false
	}
	return t.Fields.Get(key)
}

// Set implements merge.Container.
func (t *Task) Set(key string, value any) {
	if t.Fields == nil {
		t.Fields = issue.Fields{}
	}
	t.Fields.Set(key, value)
}

// Has implements merge.Container.
func (t *Task) Has(key string) bool {
	return t.Fields != nil && t.Fields.Has(key)
}

// IsActive reports whether the task is pending or waiting.
func (t *Task) IsActive() bool {
	return t.Status == StatusPending || t.Status == StatusWaiting
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	cp := *t
	if t.End != nil {
		end := *t.End
		cp.End = &end
	}
	if t.Fields != nil {
		cp.Fields = t.Fields.Clone()
	}
	return &cp
}

// Description returns the task description, or "" when unset.
func (t *Task) Description() string {
	v, _ := t.Get(issue.FieldDescription)
	s, _ := v.(string)
	return s
}

// Validate checks the lifecycle fields of a task about to be saved.
func (t *Task) Validate() error {
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.Description() == "" {
		return fmt.Errorf("description is required")
	}
	if t.Status == StatusCompleted && t.End == nil {
		return fmt.Errorf("completed task requires end time")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Fields == nil {
		t.Fields = issue.Fields{}
	}
}

// nextID returns the next free display id among active tasks.
func nextID(tasks []*Task) int {
	maxID := 0
	for _, t := range tasks {
		if t.IsActive() && t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID + 1
}

// assignID applies the display id rules: active tasks keep or receive a
// positive id, completed and deleted tasks have id 0.
func assignID(t *Task, existing []*Task) {
	if !t.IsActive() {
		t.ID = 0
		return
	}
	if t.ID == 0 {
		t.ID = nextID(existing)
	}
}
