// Package taskwarrior adapts a Taskwarrior installation to store.Store by
// shelling out to the task binary. Every command runs against an explicit
// taskrc with hooks disabled.
package taskwarrior

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/merge"
	"github.com/mschirtzinger/bugwarrior/internal/store"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// TimeLayout is the compact UTC format Taskwarrior uses in JSON.
const TimeLayout = "20060102T150405Z"

// Runner executes the task binary with args, feeding stdin when non-nil,
// and returns its standard output.
type Runner func(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error)

// ExecRunner returns a Runner that executes binary.
func ExecRunner(binary string) Runner {
	return func(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, binary, args...)
		if stdin != nil {
			cmd.Stdin = stdin
		}
		output, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("taskwarrior command failed: exit code %d, stderr: %s",
					exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
			}
			return nil, fmt.Errorf("taskwarrior command failed: %w", err)
		}
		return output, nil
	}
}

// managedKeys are attributes mapped onto store.Task directly.
var managedKeys = map[string]bool{
	"uuid":     true,
	"id":       true,
	"status":   true,
	"entry":    true,
	"modified": true,
	"end":      true,
	"urgency":  true,
}

// Store is a store.Store backed by a Taskwarrior database.
type Store struct {
	taskrc string
	run    Runner

	mu         sync.Mutex
	udas       map[string]uda.Field
	discovered bool
	// passthrough keeps attributes this tool does not manage, such as
	// depends or recur, so that re-importing a task preserves them.
	passthrough map[string]map[string]json.RawMessage
	// annotationEntries keeps the original entry stamp per annotation text.
	annotationEntries map[string]map[string]string

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns a store that runs commands against taskrc.
func New(taskrc string, run Runner) *Store {
	if run == nil {
		run = ExecRunner("task")
	}
	return &Store{
		taskrc:            taskrc,
		run:               run,
		udas:              make(map[string]uda.Field),
		passthrough:       make(map[string]map[string]json.RawMessage),
		annotationEntries: make(map[string]map[string]string),
		Now:               time.Now,
	}
}

// Path implements store.Store.
func (s *Store) Path() string { return s.taskrc }

func (s *Store) args(args ...string) []string {
	return append([]string{"rc:" + s.taskrc, "rc.hooks=0", "rc.confirmation=off", "rc.verbose=nothing"}, args...)
}

// RegisterUDAs implements store.Store by writing uda.<key>.type and
// uda.<key>.label into the taskrc. Entries already present with the same
// type and label are skipped.
func (s *Store) RegisterUDAs(ctx context.Context, fields []uda.Field) error {
	if err := s.discoverUDAs(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fields {
		if existing, ok := s.udas[f.Key]; ok && existing == f {
			continue
		}
		settings := [][2]string{
			{"uda." + f.Key + ".type", string(f.Type)},
			{"uda." + f.Key + ".label", f.Label},
		}
		for _, kv := range settings {
			if _, err := s.run(ctx, nil, s.args("config", kv[0], kv[1])...); err != nil {
				return fmt.Errorf("failed to set %s: %w", kv[0], err)
			}
		}
		s.udas[f.Key] = f
	}
	return nil
}

// discoverUDAs reads the UDA declarations already present in the taskrc.
func (s *Store) discoverUDAs(ctx context.Context) error {
	s.mu.Lock()
	done := s.discovered
	s.mu.Unlock()
	if done {
		return nil
	}

	out, err := s.run(ctx, nil, s.args("_udas")...)
	if err != nil {
		return fmt.Errorf("failed to list udas: %w", err)
	}

	discovered := make(map[string]uda.Field)
	for _, key := range strings.Fields(string(out)) {
		typ, err := s.run(ctx, nil, s.args("_get", "rc.uda."+key+".type")...)
		if err != nil {
			return fmt.Errorf("failed to read uda %s: %w", key, err)
		}
		label, err := s.run(ctx, nil, s.args("_get", "rc.uda."+key+".label")...)
		if err != nil {
			return fmt.Errorf("failed to read uda %s: %w", key, err)
		}
		discovered[key] = uda.Field{
			Key:   key,
			Type:  uda.Type(strings.TrimSpace(string(typ))),
			Label: strings.TrimSpace(string(label)),
		}
	}

	s.mu.Lock()
	for k, f := range discovered {
		if _, ok := s.udas[k]; !ok {
			s.udas[k] = f
		}
	}
	s.discovered = true
	s.mu.Unlock()
	return nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context) ([]*store.Task, error) {
	if err := s.discoverUDAs(ctx); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, nil, s.args("export")...)
	if err != nil {
		return nil, err
	}
	return s.parseExport(out)
}

func (s *Store) parseExport(out []byte) ([]*store.Task, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal taskwarrior output: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*store.Task, 0, len(raw))
	for _, obj := range raw {
		task, err := s.decodeTask(obj)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

type annotation struct {
	Entry       string `json:"entry"`
	Description string `json:"description"`
}

// decodeTask converts one exported object. Callers hold s.mu.
func (s *Store) decodeTask(obj map[string]json.RawMessage) (*store.Task, error) {
	var task store.Task
	if err := unmarshalKey(obj, "uuid", &task.UUID); err != nil {
		return nil, err
	}
	if err := unmarshalKey(obj, "id", &task.ID); err != nil {
		return nil, err
	}
	var status string
	if err := unmarshalKey(obj, "status", &status); err != nil {
		return nil, err
	}
	task.Status = store.Status(status)

	var err error
	if task.Entry, err = timeKey(obj, "entry"); err != nil {
		return nil, err
	}
	if task.Modified, err = timeKey(obj, "modified"); err != nil {
		return nil, err
	}
	end, err := timeKey(obj, "end")
	if err != nil {
		return nil, err
	}
	if !end.IsZero() {
		task.End = &end
	}

	fields := make(map[string]any)
	extra := make(map[string]json.RawMessage)
	for key, value := range obj {
		switch {
		case managedKeys[key]:
			continue
		case key == issue.FieldAnnotations:
			var anns []annotation
			if err := json.Unmarshal(value, &anns); err != nil {
				return nil, fmt.Errorf("task %s: failed to unmarshal annotations: %w", task.UUID, err)
			}
			entries := make(map[string]string, len(anns))
			texts := make([]string, 0, len(anns))
			for _, a := range anns {
				texts = append(texts, a.Description)
				entries[a.Description] = a.Entry
			}
			s.annotationEntries[task.UUID] = entries
			fields[key] = texts
		default:
			if _, known := store.TypeOf(key, s.udas); !known {
				extra[key] = value
				continue
			}
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return nil, fmt.Errorf("task %s: failed to unmarshal %s: %w", task.UUID, key, err)
			}
			fields[key] = v
		}
	}
	s.passthrough[task.UUID] = extra

	decoded, err := store.DecodeFields(fields, s.udas, parseTime)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", task.UUID, err)
	}
	task.Fields = decoded
	return &task, nil
}

// Save implements store.Store by importing a single task and reading it
// back for its Taskwarrior-assigned id.
func (s *Store) Save(ctx context.Context, t *store.Task) error {
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if err := s.discoverUDAs(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	err := store.ValidateFields(t, s.udas)
	if err == nil && t.UUID != "" {
		if _, ok := s.passthrough[t.UUID]; !ok {
			err = fmt.Errorf("%s: %w", t.UUID, store.ErrNotFound)
		}
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	saved := t.Clone()
	now := s.Now().UTC()
	if saved.UUID == "" {
		saved.UUID = uuid.NewString()
		saved.Entry = now
	}
	saved.Modified = now
	payload, err := s.encodeTask(saved)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := s.run(ctx, bytes.NewReader(payload), s.args("import", "-")...); err != nil {
		return fmt.Errorf("failed to import task %s: %w", saved.UUID, err)
	}

	out, err := s.run(ctx, nil, s.args(saved.UUID, "export")...)
	if err != nil {
		return fmt.Errorf("failed to read back task %s: %w", saved.UUID, err)
	}
	stored, err := s.parseExport(out)
	if err != nil {
		return err
	}
	if len(stored) != 1 {
		return fmt.Errorf("task %s: expected 1 exported task, got %d", saved.UUID, len(stored))
	}

	t.UUID, t.ID = stored[0].UUID, stored[0].ID
	t.Entry, t.Modified = stored[0].Entry, stored[0].Modified
	return nil
}

// encodeTask renders t as a Taskwarrior import object. Callers hold s.mu.
func (s *Store) encodeTask(t *store.Task) ([]byte, error) {
	obj := make(map[string]any)
	for k, v := range s.passthrough[t.UUID] {
		obj[k] = v
	}
	for k, v := range store.EncodeFields(t.Fields, TimeLayout) {
		obj[k] = v
	}

	if t.Has(issue.FieldAnnotations) {
		v, _ := t.Get(issue.FieldAnnotations)
		entries := s.annotationEntries[t.UUID]
		stamp := t.Modified.UTC()
		var anns []annotation
		for i, text := range merge.ToStrings(v) {
			entry, ok := entries[text]
			if !ok {
				// Taskwarrior keys annotations by entry time; keep them distinct.
				entry = stamp.Add(time.Duration(i) * time.Second).Format(TimeLayout)
			}
			anns = append(anns, annotation{Entry: entry, Description: text})
		}
		if len(anns) > 0 {
			obj[issue.FieldAnnotations] = anns
		} else {
			delete(obj, issue.FieldAnnotations)
		}
	}
	if tags, ok := obj[issue.FieldTags].([]string); ok && len(tags) == 0 {
		delete(obj, issue.FieldTags)
	}

	obj["uuid"] = t.UUID
	obj["status"] = string(t.Status)
	obj["entry"] = t.Entry.UTC().Format(TimeLayout)
	obj["modified"] = t.Modified.UTC().Format(TimeLayout)
	if t.End != nil {
		obj["end"] = t.End.UTC().Format(TimeLayout)
	}

	payload, err := json.Marshal([]map[string]any{obj})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task %s: %w", t.UUID, err)
	}
	return payload, nil
}

func unmarshalKey(obj map[string]json.RawMessage, key string, dst any) error {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func timeKey(obj map[string]json.RawMessage, key string) (time.Time, error) {
	var s string
	if err := unmarshalKey(obj, key, &s); err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	return parseTime(s)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse Taskwarrior time string '%s': %w", s, err)
	}
	return t, nil
}
