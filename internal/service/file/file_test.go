package file

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestConnector(t *testing.T, opts config.TargetOptions) *Connector {
	t.Helper()
	conn, err := New("backlog", opts, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	c := conn.(*Connector)
	c.Now = func() time.Time { return base }
	return c
}

func collect(t *testing.T, c *Connector) []*issue.Issue {
	t.Helper()
	var out []*issue.Issue
	require.NoError(t, c.Issues(context.Background(), func(iss *issue.Issue) error {
		out = append(out, iss)
		return nil
	}))
	return out
}

func TestIssues_JSONL(t *testing.T) {
	path := writeFile(t, "issues.jsonl", `{"id": "a-1", "description": "First", "tags": ["ops"], "due": "2024-06-01T00:00:00Z"}
{"id": "a-2", "description": "Second", "project": "infra", "priority": "H", "scheduled": "20240601T090000Z"}
`)
	c := newTestConnector(t, config.TargetOptions{"path": path, "project": "backlog"})

	issues := collect(t, c)
	require.Len(t, issues, 2)

	first := issues[0]
	assert.Equal(t, "backlog", first.Target)
	assert.Equal(t, Service, first.Service)
	assert.Equal(t, "a-1", first.Fields[FieldID])
	assert.Equal(t, path, first.Fields[FieldSource])
	assert.Equal(t, "First", first.Fields["description"])
	assert.Equal(t, "backlog", first.Fields["project"])
	assert.Equal(t, []string{"ops"}, first.Fields["tags"])
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), first.Fields["due"])

	second := issues[1]
	assert.Equal(t, "infra", second.Fields["project"])
	assert.Equal(t, "H", second.Fields["priority"])
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), second.Fields["scheduled"])
	assert.NotContains(t, second.Fields, "tags")
}

func TestIssues_YAML(t *testing.T) {
	path := writeFile(t, "issues.yaml", `
- id: y-1
  description: Renew certificate
  due: tomorrow
  annotations:
    - expires soon
- id: y-2
  description: Rotate keys
`)
	c := newTestConnector(t, config.TargetOptions{"path": path})

	issues := collect(t, c)
	require.Len(t, issues, 2)

	due, ok := issues[0].Fields["due"].(time.Time)
	require.True(t, ok, "due must be parsed")
	assert.Equal(t, 11, due.Day())
	assert.Equal(t, []string{"expires soon"}, issues[0].Fields["annotations"])
	assert.Equal(t, "y-2", issues[1].Fields[FieldID])
}

func TestIssues_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "invalid json", file: "bad.jsonl", content: "{\"id\": \n"},
		{name: "invalid yaml", file: "bad.yaml", content: "- id: [unterminated\n"},
		{name: "bad date", file: "date.jsonl", content: `{"id": "x", "description": "x", "due": "zzqx"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConnector(t, config.TargetOptions{"path": writeFile(t, tt.file, tt.content)})
			err := c.Issues(context.Background(), func(*issue.Issue) error { return nil })
			assert.Error(t, err)
		})
	}

	c := newTestConnector(t, config.TargetOptions{"path": filepath.Join(t.TempDir(), "missing.jsonl")})
	assert.Error(t, c.Issues(context.Background(), func(*issue.Issue) error { return nil }))
}

func TestNew_Validation(t *testing.T) {
	_, err := New("t", config.TargetOptions{}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = New("t", config.TargetOptions{"path": "x.csv", "format": "csv"}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestParseDate(t *testing.T) {
	c := newTestConnector(t, config.TargetOptions{"path": "unused.jsonl"})

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-07-04T10:00:00+02:00", want: time.Date(2024, 7, 4, 8, 0, 0, 0, time.UTC)},
		{in: "20240704T100000Z", want: time.Date(2024, 7, 4, 10, 0, 0, 0, time.UTC)},
		{in: "2024-07-04", want: time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)},
		{in: "zzqx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := c.ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}
