package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Memory is a Store kept entirely in memory. It applies the same field
// validation and id rules as the persistent stores.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*Task
	udas  map[string]uda.Field
	path  string

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time

	// BeforeSave, when set, is called with every task about to be saved;
	// a non-nil error aborts that save.
	BeforeSave func(t *Task) error

	saves int
}

// NewMemory creates an empty in-memory store. path only keys the sync lock.
func NewMemory(path string) *Memory {
	return &Memory{
		tasks: make(map[string]*Task),
		udas:  make(map[string]uda.Field),
		path:  path,
		Now:   time.Now,
	}
}

// NewMemoryFrom creates an in-memory store seeded with copies of tasks.
// It is used for dry runs against a snapshot of a persistent store.
func NewMemoryFrom(path string, tasks []*Task, fields []uda.Field) *Memory {
	m := NewMemory(path)
	for _, t := range tasks {
		m.tasks[t.UUID] = t.Clone()
	}
	for _, f := range fields {
		m.udas[f.Key] = f
	}
	return m
}

// Path implements Store.
func (m *Memory) Path() string { return m.path }

// Load implements Store. Tasks are returned ordered by entry time.
func (m *Memory) Load(ctx context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.Equal(out[j].Entry) {
			return out[i].UUID < out[j].UUID
		}
		return out[i].Entry.Before(out[j].Entry)
	})
	return out, nil
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if err := ValidateFields(t, m.udas); err != nil {
		return err
	}
	if m.BeforeSave != nil {
		if err := m.BeforeSave(t); err != nil {
			return err
		}
	}

	now := m.Now()
	if t.UUID == "" {
		t.UUID = uuid.NewString()
		t.Entry = now
	} else if _, ok := m.tasks[t.UUID]; !ok {
		return fmt.Errorf("%s: %w", t.UUID, ErrNotFound)
	}

	existing := make([]*Task, 0, len(m.tasks))
	for id, other := range m.tasks {
		if id != t.UUID {
			existing = append(existing, other)
		}
	}
	assignID(t, existing)
	t.Modified = now

	m.tasks[t.UUID] = t.Clone()
	m.saves++
	return nil
}

// RegisterUDAs implements Store.
func (m *Memory) RegisterUDAs(ctx context.Context, fields []uda.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range fields {
		m.udas[f.Key] = f
	}
	return nil
}

// UDAs returns the registered fields sorted by key.
func (m *Memory) UDAs() []uda.Field {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uda.Field, 0, len(m.udas))
	for _, f := range m.udas {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Saves returns how many successful Save calls the store has applied.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
