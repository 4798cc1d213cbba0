package service

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"testing"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

type stubConnector struct {
	target string
	ids    []string
	err    error
}

func (c *stubConnector) Target() string  { return c.target }
func (c *stubConnector) Service() string { return "stub" }

func (c *stubConnector) Issues(ctx context.Context, emit func(*issue.Issue) error) error {
	for _, id := range c.ids {
		iss := &issue.Issue{Fields: issue.Fields{"stubid": id, "description": id}}
		if err := emit(iss); err != nil {
			return err
		}
	}
	return c.err
}

func stubDefinition() Definition {
	return Definition{
		Service:        "stub",
		IdentityFields: []string{"stubid"},
		Schema:         []uda.Field{{Key: "stubid", Type: uda.TypeString, Label: "Stub ID"}},
		New: func(target string, opts config.TargetOptions, logger *log.Logger) (Connector, error) {
			return &stubConnector{target: target, ids: opts.Strings("ids")}, nil
		},
	}
}

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(stubDefinition())

	d, err := r.Lookup("stub")
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if d.Service != "stub" {
		t.Errorf("Service = %s", d.Service)
	}

	if _, err := r.Lookup("jira"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
	if got := r.Services(); len(got) != 1 || got[0] != "stub" {
		t.Errorf("Services() = %v", got)
	}
}

func TestRegistry_RegisterPanics(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{name: "duplicate", defs: []Definition{stubDefinition(), stubDefinition()}},
		{name: "nil constructor", defs: []Definition{{Service: "x", IdentityFields: []string{"x"}}}},
		{name: "no identity", defs: []Definition{{Service: "x", New: stubDefinition().New}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			r := NewRegistry()
			for _, d := range tt.defs {
				r.Register(d)
			}
		})
	}
}

func TestRegistry_Build(t *testing.T) {
	r := NewRegistry()
	r.Register(stubDefinition())

	targets, err := r.Build([]*config.Target{
		{Name: "a", Service: "stub", Options: config.TargetOptions{"ids": []any{"1"}}},
	}, discardLogger())
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if len(targets) != 1 || targets[0].Connector.Target() != "a" {
		t.Fatalf("Build() = %+v", targets)
	}

	_, err = r.Build([]*config.Target{{Name: "b", Service: "jira"}}, discardLogger())
	if !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

func TestDefinition_Owns(t *testing.T) {
	d := stubDefinition()

	if !d.Owns(issue.Fields{"stubid": "1"}) {
		t.Error("task with identity field must be owned")
	}
	if d.Owns(issue.Fields{"description": "manual task"}) {
		t.Error("task without identity field must not be owned")
	}
	if d.Owns(issue.Fields{"stubid": ""}) {
		t.Error("empty identity value must not be owned")
	}
}

func TestDeclarers_OnePerService(t *testing.T) {
	d := stubDefinition()
	decls := Declarers([]Target{{Name: "a", Definition: d}, {Name: "b", Definition: d}})
	if len(decls) != 1 {
		t.Errorf("expected 1 declarer, got %d", len(decls))
	}
}

func TestAggregate(t *testing.T) {
	d := stubDefinition()
	boom := errors.New("boom")

	targets := []Target{
		{Name: "a", Definition: d, Connector: &stubConnector{target: "a", ids: []string{"1", "2"}}},
		{Name: "b", Definition: d, Connector: &stubConnector{target: "b", ids: []string{"3"}, err: boom}},
	}

	var ids []string
	var fetchErrs []*FetchError
	for rec := range Aggregate(context.Background(), targets, discardLogger()) {
		if rec.Err != nil {
			fetchErrs = append(fetchErrs, rec.Err)
			continue
		}
		if rec.Issue.Service != "stub" || rec.Issue.Target != rec.Target {
			t.Errorf("issue not stamped: %+v", rec.Issue)
		}
		ids = append(ids, rec.Issue.Fields["stubid"].(string))
	}

	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "1" || ids[2] != "3" {
		t.Errorf("ids = %v", ids)
	}
	if len(fetchErrs) != 1 || fetchErrs[0].Target != "b" || !errors.Is(fetchErrs[0], boom) {
		t.Errorf("fetch errors = %v", fetchErrs)
	}
}
