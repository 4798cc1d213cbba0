package sync

import (
	"fmt"
	"log"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/store"
)

// Class is the outcome of matching one issue against the local tasks.
type Class int

const (
	// ClassNew means no local task carries the fingerprint.
	ClassNew Class = iota
	// ClassActive means a pending or waiting task matches. The engine
	// decides between changed and unchanged after applying field policy.
	ClassActive
	// ClassReopen means a completed task matches.
	ClassReopen
	// ClassDuplicate means the fingerprint was already seen this run.
	ClassDuplicate
	// ClassAmbiguous means more than one task matches.
	ClassAmbiguous
)

func (c Class) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassActive:
		return "active"
	case ClassReopen:
		return "reopen"
	case ClassDuplicate:
		return "duplicate"
	case ClassAmbiguous:
		return "ambiguous"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Match is the classification of one issue.
type Match struct {
	Class       Class
	Fingerprint issue.Fingerprint
	// Task is the matched local task for ClassActive and ClassReopen.
	Task *store.Task
	// Candidates holds every matching task for ClassAmbiguous.
	Candidates []*store.Task
}

type managedTask struct {
	task    *store.Task
	service string
	fp      issue.Fingerprint
}

// matcher folds repeated fingerprints and indexes the managed tasks. It is
// built once per run from a single Load and consumed in one pass.
type matcher struct {
	defs  map[string]service.Definition
	order []service.Definition

	// index maps a fingerprint to the pending, waiting and completed tasks
	// carrying it. Deleted tasks are never matched.
	index map[issue.Fingerprint][]*store.Task

	// managed lists the indexed tasks in load order with their service and
	// fingerprint.
	managed []managedTask

	seen map[issue.Fingerprint]bool
}

func newMatcher(targets []service.Target, tasks []*store.Task, logger *log.Logger) *matcher {
	m := &matcher{
		defs:  make(map[string]service.Definition),
		index: make(map[issue.Fingerprint][]*store.Task),
		seen:  make(map[issue.Fingerprint]bool),
	}
	for _, t := range targets {
		if _, ok := m.defs[t.Definition.Service]; ok {
			continue
		}
		m.defs[t.Definition.Service] = t.Definition
		m.order = append(m.order, t.Definition)
	}

	for _, task := range tasks {
		if task.Status == store.StatusDeleted {
			continue
		}
		for _, def := range m.order {
			if !def.Owns(task) {
				continue
			}
			fp, err := def.Fingerprint(task)
			if err != nil {
				logger.Printf("WARNING: task %s: %v", task.UUID, err)
				continue
			}
			m.index[fp] = append(m.index[fp], task)
			m.managed = append(m.managed, managedTask{task: task, service: def.Service, fp: fp})
			break
		}
	}
	return m
}

// classify computes the fingerprint of iss and matches it. The first
// occurrence of a fingerprint marks it seen, including ambiguous ones, so
// none of their tasks is later treated as missing.
func (m *matcher) classify(iss *issue.Issue) (Match, error) {
	def, ok := m.defs[iss.Service]
	if !ok {
		return Match{}, fmt.Errorf("issue from %s: %w", iss.Service, service.ErrUnknownService)
	}

	fp, err := def.Fingerprint(iss.Fields)
	if err != nil {
		return Match{}, err
	}

	if m.seen[fp] {
		return Match{Class: ClassDuplicate, Fingerprint: fp}, nil
	}
	m.seen[fp] = true

	candidates := m.index[fp]
	switch len(candidates) {
	case 0:
		return Match{Class: ClassNew, Fingerprint: fp}, nil
	case 1:
		task := candidates[0]
		if task.Status == store.StatusCompleted {
			return Match{Class: ClassReopen, Fingerprint: fp, Task: task}, nil
		}
		return Match{Class: ClassActive, Fingerprint: fp, Task: task}, nil
	default:
		return Match{Class: ClassAmbiguous, Fingerprint: fp, Candidates: candidates}, nil
	}
}

// missing returns the pending and waiting tasks whose fingerprint was not
// seen, skipping tasks of the services listed in exclude.
func (m *matcher) missing(exclude map[string]bool) []*store.Task {
	var out []*store.Task
	for _, mt := range m.managed {
		if m.seen[mt.fp] || !mt.task.IsActive() || exclude[mt.service] {
			continue
		}
		out = append(out, mt.task)
	}
	return out
}
