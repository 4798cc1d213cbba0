package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/lock"
	"github.com/mschirtzinger/bugwarrior/internal/merge"
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/store"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Options configures one Engine.
type Options struct {
	// Targets are the active targets of the flavor. Their definitions
	// decide which local tasks are managed and which UDAs are registered.
	Targets []service.Target

	// Policies is the per-field write policy table.
	Policies Policies

	// LockPath is the sync lock file. When empty the lock lives next to the
	// store; a store without a path is not locked.
	LockPath string

	// Lock is a lock the caller already holds for this store. When set,
	// Synchronize neither acquires nor releases a lock.
	Lock *lock.Lock

	// CloseOnFetchError completes the tasks of a service whose fetch failed.
	// When false those tasks are left untouched for the run.
	CloseOnFetchError bool

	// DryRun classifies and logs every issue without writing.
	DryRun bool

	// Verbose logs every field decision.
	Verbose bool
}

// Result summarizes one Synchronize run.
type Result struct {
	Created    int
	Updated    int
	Unchanged  int
	Completed  int
	Reopened   int
	Skipped    int
	Duplicates int
	Ambiguous  int
	Failed     int

	// FetchErrors counts targets whose fetch failed.
	FetchErrors int
}

// Mutations returns the number of task writes the run performed, or would
// have performed in a dry run.
func (r *Result) Mutations() int {
	return r.Created + r.Updated + r.Completed + r.Reopened
}

func (r *Result) String() string {
	return fmt.Sprintf("created=%d updated=%d unchanged=%d completed=%d reopened=%d skipped=%d duplicates=%d ambiguous=%d failed=%d fetch_errors=%d",
		r.Created, r.Updated, r.Unchanged, r.Completed, r.Reopened,
		r.Skipped, r.Duplicates, r.Ambiguous, r.Failed, r.FetchErrors)
}

// Engine reconciles a stream of issues into a task store.
//
// An Engine holds no state between runs; Synchronize may be called again
// with a fresh stream.
type Engine struct {
	store  store.Store
	opts   Options
	logger *log.Logger

	// Now is the clock used for completion stamps.
	Now func() time.Time
}

// New creates an engine writing to st. A nil logger logs to stderr.
func New(st store.Store, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Policies.Fields == nil {
		opts.Policies = DefaultPolicies()
	}
	return &Engine{
		store:  st,
		opts:   opts,
		logger: logger,
		Now:    time.Now,
	}
}

// lockPath resolves the lock file of this engine.
func (e *Engine) lockPath() string {
	if e.opts.LockPath != "" {
		return e.opts.LockPath
	}
	if p := e.store.Path(); p != "" {
		return lock.DefaultPath(p)
	}
	return ""
}

// run holds the state of one Synchronize call.
type run struct {
	e        *Engine
	ctx      context.Context
	m        *matcher
	result   *Result
	failed   map[string]bool
	failures []error
}

// Synchronize consumes records to the end and reconciles them into the
// store. The lock is held for the whole run.
//
// Fatal conditions (lock contention, conflicting UDA declarations, a store
// that cannot be loaded, cancellation) are returned before any task is
// completed. Per-task write failures are collected and returned together as
// ErrWriteFailures once every record has been processed.
func (e *Engine) Synchronize(ctx context.Context, records <-chan service.Record) (*Result, error) {
	result := &Result{}

	if path := e.lockPath(); e.opts.Lock == nil && path != "" {
		l, err := lock.Acquire(path)
		if err != nil {
			go drain(records)
			return result, err
		}
		defer func() {
			if err := l.Release(); err != nil {
				e.logger.Printf("WARNING: failed to release lock: %v", err)
			}
		}()
	}

	fields, err := uda.Build(service.Declarers(e.opts.Targets))
	if err != nil {
		go drain(records)
		return result, err
	}
	if !e.opts.DryRun {
		if err := uda.Ensure(ctx, e.store, fields); err != nil {
			go drain(records)
			return result, err
		}
	}

	tasks, err := e.store.Load(ctx)
	if err != nil {
		go drain(records)
		return result, fmt.Errorf("failed to load tasks: %w", err)
	}

	r := &run{
		e:      e,
		ctx:    ctx,
		m:      newMatcher(e.opts.Targets, tasks, e.logger),
		result: result,
		failed: make(map[string]bool),
	}

	for {
		select {
		case <-ctx.Done():
			go drain(records)
			return result, ctx.Err()
		case rec, ok := <-records:
			if !ok {
				return r.finish()
			}
			r.handle(rec)
		}
	}
}

func drain(records <-chan service.Record) {
	for range records {
	}
}

func (r *run) handle(rec service.Record) {
	if rec.Err != nil {
		r.result.FetchErrors++
		r.failed[rec.Err.Service] = true
		r.e.logger.Printf("WARNING: %v", rec.Err)
		return
	}
	if rec.Issue == nil {
		return
	}

	match, err := r.m.classify(rec.Issue)
	if err != nil {
		r.result.Skipped++
		r.e.logger.Printf("WARNING: skipping issue from %s: %v", rec.Target, err)
		return
	}

	switch match.Class {
	case ClassDuplicate:
		r.result.Duplicates++
	case ClassAmbiguous:
		r.result.Ambiguous++
		uuids := make([]string, 0, len(match.Candidates))
		for _, t := range match.Candidates {
			uuids = append(uuids, t.UUID)
		}
		r.e.logger.Printf("WARNING: skipping %q: %v: %v", describe(rec.Issue), ErrAmbiguous, uuids)
	case ClassNew:
		r.create(rec.Issue)
	case ClassActive:
		r.update(match.Task, rec.Issue)
	case ClassReopen:
		r.reopen(match.Task, rec.Issue)
	}
}

func (r *run) create(iss *issue.Issue) {
	task := &store.Task{Status: store.StatusPending, Fields: issue.Fields{}}
	r.e.apply(task, iss, true)

	r.e.logger.Printf("Adding task %q", task.Description())
	if r.save("create", task) {
		r.result.Created++
	}
}

func (r *run) update(existing *store.Task, iss *issue.Issue) {
	task := existing.Clone()
	if !r.e.apply(task, iss, false) {
		r.result.Unchanged++
		return
	}

	r.e.logger.Printf("Updating task %s %q", task.UUID, task.Description())
	if r.save("update", task) {
		r.result.Updated++
	}
}

func (r *run) reopen(existing *store.Task, iss *issue.Issue) {
	task := existing.Clone()
	task.Status = store.StatusPending
	task.End = nil
	task.ID = 0
	r.e.apply(task, iss, false)

	r.e.logger.Printf("Reopening task %s %q", task.UUID, task.Description())
	if r.save("reopen", task) {
		r.result.Reopened++
	}
}

func (r *run) finish() (*Result, error) {
	exclude := r.failed
	if r.e.opts.CloseOnFetchError {
		exclude = nil
	} else if len(exclude) > 0 {
		names := make([]string, 0, len(exclude))
		for name := range exclude {
			names = append(names, name)
		}
		sort.Strings(names)
		r.e.logger.Printf("WARNING: not closing tasks of %v after fetch errors", names)
	}

	now := r.e.Now().UTC()
	for _, existing := range r.m.missing(exclude) {
		task := existing.Clone()
		task.Status = store.StatusCompleted
		task.End = &now

		r.e.logger.Printf("Completing task %s %q", task.UUID, task.Description())
		if r.save("complete", task) {
			r.result.Completed++
		}
	}

	r.e.logger.Printf("Sync complete: %s", r.result)

	if len(r.failures) > 0 {
		return r.result, errors.Join(
			fmt.Errorf("%w: %d tasks", ErrWriteFailures, len(r.failures)),
			errors.Join(r.failures...),
		)
	}
	return r.result, nil
}

// save writes task unless the run is dry. It reports whether the mutation
// counts as applied.
func (r *run) save(op string, task *store.Task) bool {
	if r.e.opts.DryRun {
		return true
	}
	if err := r.e.store.Save(r.ctx, task); err != nil {
		werr := &WriteError{Op: op, UUID: task.UUID, Desc: task.Description(), Err: err}
		r.e.logger.Printf("ERROR: %v", werr)
		r.failures = append(r.failures, werr)
		r.result.Failed++
		return false
	}
	return true
}

// apply writes the fields of iss into task according to the field
// policies and reports whether any task field changed. Only keys present in
// the issue are touched.
func (e *Engine) apply(task *store.Task, iss *issue.Issue, create bool) bool {
	if task.Fields == nil {
		task.Fields = issue.Fields{}
	}

	keys := make([]string, 0, len(iss.Fields))
	for k := range iss.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changed := false
	for _, key := range keys {
		before, had := task.Get(key)
		remote := iss.Fields[key]

		switch policy := e.opts.Policies.For(key); policy {
		case PolicyStatic:
			if !create || remote == nil {
				e.debugf("%s: %s is static, kept", task.UUID, key)
				continue
			}
			task.Set(key, remote)

		case PolicyMerge:
			added := merge.MergeLeft(key, task, iss.Fields, e.opts.Policies.Rough[key])
			if added == 0 && had {
				continue
			}
			e.debugf("%s: %s merged %d items", task.UUID, key, added)

		case PolicyKeep:
			merge.ReplaceLeft(key, task, iss.Fields, e.opts.Policies.Protect[key])
			after, _ := task.Get(key)
			if had && merge.Equal(before, after) {
				continue
			}
			e.debugf("%s: %s replaced", task.UUID, key)

		default:
			if remote == nil {
				continue
			}
			if had && valuesEqual(before, remote) {
				continue
			}
			task.Set(key, remote)
			e.debugf("%s: %s = %s", task.UUID, key, issue.FormatValue(remote))
		}

		if !had && !create && isEmpty(task.Fields[key]) {
			continue
		}
		changed = true
	}
	return changed
}

func (e *Engine) debugf(format string, args ...any) {
	if e.opts.Verbose {
		e.logger.Printf("DEBUG: "+format, args...)
	}
}

// valuesEqual compares a stored value with a remote one. Lists compare
// item by item, scalars by canonical rendering so that a float read back
// from a store equals the int a connector produced.
func valuesEqual(a, b any) bool {
	if isList(a) || isList(b) {
		return merge.Equal(a, b)
	}
	return issue.FormatValue(a) == issue.FormatValue(b)
}

func isList(v any) bool {
	switch v.(type) {
	case []string, []any:
		return true
	}
	return false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if isList(v) {
		return len(merge.ToStrings(v)) == 0
	}
	return false
}

func describe(iss *issue.Issue) string {
	if d, ok := iss.Fields[issue.FieldDescription].(string); ok {
		return d
	}
	return iss.Target
}
