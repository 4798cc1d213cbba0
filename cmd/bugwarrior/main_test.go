package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/bugwarrior/internal/lock"
	"github.com/mschirtzinger/bugwarrior/internal/sync"
)

// setupConfig writes a flavor pulling from a local issue file into a
// SQLite store, both under a temp directory.
func setupConfig(t *testing.T, issues string) (cfgPath, dataPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath = filepath.Join(dir, "data", "tasks.db")
	issuesPath := filepath.Join(dir, "issues.jsonl")
	require.NoError(t, os.WriteFile(issuesPath, []byte(issues), 0644))

	cfgPath = filepath.Join(dir, "bugwarrior.toml")
	content := fmt.Sprintf(`
[general]
targets = ["backlog"]
data = %q

[backlog]
service = "file"

[backlog.options]
path = %q
`, dataPath, issuesPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath, dataPath
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, flavorName, debug = "", "", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	for _, c := range []string{"dry-run", "apply"} {
		for _, sub := range rootCmd.Commands() {
			if f := sub.Flags().Lookup(c); f != nil {
				f.Value.Set(f.DefValue)
				f.Changed = false
			}
		}
	}
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPull_CreatesThenUnchanged(t *testing.T) {
	cfgPath, _ := setupConfig(t, `{"id": "1", "description": "First"}
{"id": "2", "description": "Second"}
`)

	out, err := run(t, "--config", cfgPath, "pull")
	require.NoError(t, err)
	assert.Regexp(t, `Created:\s+2`, out)

	out, err = run(t, "--config", cfgPath, "pull")
	require.NoError(t, err)
	assert.Regexp(t, `Unchanged:\s+2`, out)

	out, err = run(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Pending:\s+2`, out)
	assert.Regexp(t, `From file:\s+2`, out)
}

func TestPull_DryRunWritesNothing(t *testing.T) {
	cfgPath, _ := setupConfig(t, `{"id": "1", "description": "First"}`)

	out, err := run(t, "--config", cfgPath, "pull", "--dry-run")
	require.NoError(t, err)
	assert.Regexp(t, `Created:\s+1`, out)

	out, err = run(t, "--config", cfgPath, "pull")
	require.NoError(t, err)
	assert.Regexp(t, `Created:\s+1`, out, "dry run must not have written the task")
}

func TestPull_LockHeld(t *testing.T) {
	cfgPath, dataPath := setupConfig(t, `{"id": "1", "description": "First"}`)

	held, err := lock.Acquire(lock.DefaultPath(dataPath))
	require.NoError(t, err)
	defer held.Release()

	_, err = run(t, "--config", cfgPath, "pull")
	require.ErrorIs(t, err, lock.ErrLocked)
	assert.Equal(t, exitLocked, exitCode(err))
}

func TestUDA_PrintsSortedLines(t *testing.T) {
	cfgPath, _ := setupConfig(t, "")

	out, err := run(t, "--config", cfgPath, "uda")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"uda.fileid.label=File Record ID",
		"uda.fileid.type=string",
		"uda.filesource.label=File Source",
		"uda.filesource.type=string",
	}, lines)
}

func TestConfigShow(t *testing.T) {
	cfgPath, _ := setupConfig(t, "")

	out, err := run(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backlog")
}

func TestUnknownFlavor(t *testing.T) {
	cfgPath, _ := setupConfig(t, "")

	_, err := run(t, "--config", cfgPath, "--flavor", "nope", "pull")
	require.Error(t, err)
	assert.Equal(t, exitError, exitCode(err))
}

func TestConfigPath(t *testing.T) {
	cfgPath, _ := setupConfig(t, "")

	out, err := run(t, "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgPath, strings.TrimSpace(out))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "locked", err: fmt.Errorf("pull: %w", lock.ErrLocked), want: exitLocked},
		{name: "write failures", err: errors.Join(fmt.Errorf("%w: 2 tasks", sync.ErrWriteFailures), errors.New("disk full")), want: exitWriteFailures},
		{name: "other", err: errors.New("boom"), want: exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestUDAApply_LockHeld(t *testing.T) {
	cfgPath, dataPath := setupConfig(t, "")

	held, err := lock.Acquire(lock.DefaultPath(dataPath))
	require.NoError(t, err)
	defer held.Release()

	_, err = run(t, "--config", cfgPath, "uda", "--apply")
	require.ErrorIs(t, err, lock.ErrLocked)
	_, statErr := os.Stat(dataPath)
	assert.True(t, os.IsNotExist(statErr), "store must not be opened without the lock")
}
