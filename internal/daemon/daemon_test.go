package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Interval:         time.Hour,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestNewWithConfig(t *testing.T) {
	pull := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		pull    PullFunc
		config  *Config
		wantErr bool
	}{
		{name: "valid", pull: pull, config: testConfig()},
		{name: "nil config uses defaults", pull: pull, config: nil},
		{name: "nil pull", pull: nil, config: testConfig(), wantErr: true},
		{name: "zero interval", pull: pull, config: &Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithConfig(tt.pull, "", tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStart_PullsOnInterval(t *testing.T) {
	var pulls atomic.Int32
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond

	d, err := NewWithConfig(func(context.Context) error {
		pulls.Add(1)
		return errors.New("lock held")
	}, "", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return pulls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"failing pulls must be retried")

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, d.Pulls(), 3)
}

func TestStart_ReloadsOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bugwarrior.toml")
	writeConfig(t, path, "[general]\n")

	var pulls, reloads atomic.Int32
	cfg := testConfig()
	cfg.Reload = func() (time.Duration, error) {
		reloads.Add(1)
		return 30 * time.Minute, nil
	}

	d, err := NewWithConfig(func(context.Context) error {
		pulls.Add(1)
		return nil
	}, path, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return pulls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Unrelated files in the directory are ignored.
	writeConfig(t, filepath.Join(dir, "other.txt"), "x")
	writeConfig(t, path, "[general]\ninterval = \"30m\"\n")

	require.Eventually(t, func() bool { return reloads.Load() == 1 && pulls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 30*time.Minute, d.config.Interval)
}
