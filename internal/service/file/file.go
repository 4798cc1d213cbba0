// Package file imports issues from a local JSON lines or YAML file. It
// serves offline imports and fixture-driven runs.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Service is the service name of this connector.
const Service = "file"

// Custom fields written by the connector.
const (
	FieldID     = "fileid"
	FieldSource = "filesource"
)

// Input formats.
const (
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
)

// compactLayout is the date format of task exports.
const compactLayout = "20060102T150405Z"

// Definition returns the registry definition of the connector. Record ids
// are only unique within one file, so the file path is part of the
// identity.
func Definition() service.Definition {
	return service.Definition{
		Service:        Service,
		IdentityFields: []string{FieldSource, FieldID},
		Schema: []uda.Field{
			{Key: FieldID, Type: uda.TypeString, Label: "File Record ID"},
			{Key: FieldSource, Type: uda.TypeString, Label: "File Source"},
		},
		New: New,
	}
}

// Record is one issue in the input file.
type Record struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Project     string   `json:"project,omitempty" yaml:"project,omitempty"`
	Priority    string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Annotations []string `json:"annotations,omitempty" yaml:"annotations,omitempty"`

	// Dates accept RFC3339, the compact export format, YYYY-MM-DD or
	// natural language such as "next friday".
	Due       string `json:"due,omitempty" yaml:"due,omitempty"`
	Scheduled string `json:"scheduled,omitempty" yaml:"scheduled,omitempty"`
	Wait      string `json:"wait,omitempty" yaml:"wait,omitempty"`
	Until     string `json:"until,omitempty" yaml:"until,omitempty"`
}

// Connector reads the records of one file.
type Connector struct {
	target  string
	path    string
	format  string
	project string
	logger  *log.Logger
	dates   *when.Parser

	// Now is the reference time of relative dates.
	Now func() time.Time
}

// New builds a connector from a target section.
//
// Options:
//
//	path     input file (required)
//	format   jsonl or yaml; inferred from the extension when unset
//	project  project of records that carry none
func New(target string, opts config.TargetOptions, logger *log.Logger) (service.Connector, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[file] ", log.LstdFlags)
	}
	if err := opts.Require("path"); err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}

	path := config.ExpandPath(opts.String("path", ""))
	format := opts.String("format", formatOf(path))
	if format != FormatJSONL && format != FormatYAML {
		return nil, fmt.Errorf("target %s: unknown format %q: %w", target, format, config.ErrInvalid)
	}

	dates := when.New(nil)
	dates.Add(en.All...)
	dates.Add(common.All...)

	return &Connector{
		target:  target,
		path:    path,
		format:  format,
		project: opts.String("project", ""),
		logger:  logger,
		dates:   dates,
		Now:     time.Now,
	}, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSONL
}

// Target implements service.Connector.
func (c *Connector) Target() string { return c.target }

// Service implements service.Connector.
func (c *Connector) Service() string { return Service }

// Issues implements service.Connector.
func (c *Connector) Issues(ctx context.Context, emit func(*issue.Issue) error) error {
	// #nosec G304 - path comes from the user's configuration
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.path, err)
	}
	defer f.Close()

	each := func(n int, rec *Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		iss, err := c.toIssue(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		return emit(iss)
	}

	if c.format == FormatYAML {
		var records []Record
		if err := yaml.NewDecoder(f).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid YAML in %s: %w", c.path, err)
		}
		for i := range records {
			if err := each(i+1, &records[i]); err != nil {
				return err
			}
		}
		return nil
	}

	decoder := json.NewDecoder(f)
	for line := 1; ; line++ {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("invalid JSON at record %d of %s: %w", line, c.path, err)
		}
		if err := each(line, &rec); err != nil {
			return err
		}
	}
}

func (c *Connector) toIssue(rec *Record) (*issue.Issue, error) {
	iss := issue.New(c.target, Service)
	f := iss.Fields

	f.Set(FieldID, strings.TrimSpace(rec.ID))
	f.Set(FieldSource, c.path)
	f.Set(issue.FieldDescription, rec.Description)

	project := rec.Project
	if project == "" {
		project = c.project
	}
	if project != "" {
		f.Set(issue.FieldProject, project)
	}
	if rec.Priority != "" {
		f.Set(issue.FieldPriority, rec.Priority)
	}
	if rec.Tags != nil {
		f.Set(issue.FieldTags, append([]string(nil), rec.Tags...))
	}
	if rec.Annotations != nil {
		f.Set(issue.FieldAnnotations, append([]string(nil), rec.Annotations...))
	}

	dates := []struct {
		key, value string
	}{
		{issue.FieldDue, rec.Due},
		{issue.FieldScheduled, rec.Scheduled},
		{issue.FieldWait, rec.Wait},
		{issue.FieldUntil, rec.Until},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		t, err := c.ParseDate(d.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		f.Set(d.key, t)
	}
	return iss, nil
}

// ParseDate parses an absolute or natural-language date relative to Now.
func (c *Connector) ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, compactLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	r, err := c.dates.Parse(s, c.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return r.Time.UTC(), nil
}
