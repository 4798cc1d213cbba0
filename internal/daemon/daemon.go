// Package daemon runs pulls on an interval and reruns one as soon as the
// configuration file changes.
//
// The daemon:
// 1. Pulls once on start
// 2. Pulls again every Interval
// 3. Watches the configuration file and reloads it with debouncing
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PullFunc runs one pull. It is never called concurrently.
type PullFunc func(ctx context.Context) error

// ReloadFunc re-reads the configuration and returns the pull interval it
// now asks for; zero keeps the current interval.
type ReloadFunc func() (time.Duration, error)

// Config holds configuration for the daemon.
type Config struct {
	// Interval is the time between two pulls.
	Interval time.Duration

	// DebounceInterval is how long the configuration file must stay
	// unchanged before it is reloaded.
	DebounceInterval time.Duration

	// Reload is called after the configuration file changed. A failing
	// reload keeps the previous configuration.
	Reload ReloadFunc

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic pulls and configuration reloads.
type Daemon struct {
	pull       PullFunc
	configPath string
	config     *Config

	watcher *fsnotify.Watcher

	// changedAt is the time of the last unprocessed configuration event.
	changedAt   time.Time
	changedAtMu sync.Mutex

	pulls   int
	pullsMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(pull PullFunc, configPath string) (*Daemon, error) {
	return NewWithConfig(pull, configPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. An empty
// configPath disables reloading.
func NewWithConfig(pull PullFunc, configPath string, config *Config) (*Daemon, error) {
	if pull == nil {
		return nil, fmt.Errorf("pull cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	d := &Daemon{pull: pull, configPath: configPath, config: config}
	if configPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher
	}
	return d, nil
}

// Start pulls once and then keeps pulling until ctx is cancelled. Pull
// failures are logged and retried at the next interval.
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon, interval %v", d.config.Interval)

	if d.watcher != nil {
		// Watch the directory: editors replace the file rather than write it.
		if err := d.watcher.Add(filepath.Dir(d.configPath)); err != nil {
			d.watcher.Close()
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.configPath)

		d.wg.Add(1)
		go d.watchConfig(ctx)
	}

	d.runPull(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			return d.stop()

		case <-ticker.C:
			d.runPull(ctx)

		case <-debounce.C:
			if !d.reloadDue() {
				continue
			}
			if interval := d.reload(); interval > 0 && interval != d.config.Interval {
				d.config.Logger.Printf("Interval changed: %v -> %v", d.config.Interval, interval)
				d.config.Interval = interval
				ticker.Reset(interval)
			}
			d.runPull(ctx)
		}
	}
}

func (d *Daemon) stop() error {
	d.config.Logger.Println("Stopping daemon")
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Pulls returns how many pulls have run.
func (d *Daemon) Pulls() int {
	d.pullsMu.Lock()
	defer d.pullsMu.Unlock()
	return d.pulls
}

func (d *Daemon) runPull(ctx context.Context) {
	start := time.Now()
	err := d.pull(ctx)

	d.pullsMu.Lock()
	d.pulls++
	d.pullsMu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			d.config.Logger.Printf("WARNING: pull failed: %v", err)
		}
		return
	}
	d.config.Logger.Printf("Pull complete in %v", time.Since(start).Round(time.Millisecond))
}

// watchConfig monitors the configuration directory and queues changes to
// the configuration file.
func (d *Daemon) watchConfig(ctx context.Context) {
	defer d.wg.Done()

	target := filepath.Clean(d.configPath)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			d.config.Logger.Printf("Config event: %s %s", event.Op, event.Name)
			d.changedAtMu.Lock()
			d.changedAt = time.Now()
			d.changedAtMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// reloadDue reports whether a queued configuration change has settled,
// and consumes it if so.
func (d *Daemon) reloadDue() bool {
	d.changedAtMu.Lock()
	defer d.changedAtMu.Unlock()

	if d.changedAt.IsZero() || time.Since(d.changedAt) < d.config.DebounceInterval {
		return false
	}
	d.changedAt = time.Time{}
	return true
}

func (d *Daemon) reload() time.Duration {
	d.config.Logger.Printf("Reloading %s", d.configPath)
	if d.config.Reload == nil {
		return 0
	}
	interval, err := d.config.Reload()
	if err != nil {
		d.config.Logger.Printf("WARNING: keeping previous configuration: %v", err)
		return 0
	}
	return interval
}
