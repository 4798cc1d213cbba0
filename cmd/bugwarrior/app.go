package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/lock"
	"github.com/mschirtzinger/bugwarrior/internal/logging"
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/service/builtin"
	"github.com/mschirtzinger/bugwarrior/internal/store"
	"github.com/mschirtzinger/bugwarrior/internal/store/sqlite"
	"github.com/mschirtzinger/bugwarrior/internal/store/taskwarrior"
	"github.com/mschirtzinger/bugwarrior/internal/sync"
)

// app is the configuration of one command invocation.
type app struct {
	cfg    *config.Config
	flavor *config.Flavor
	logs   *logging.Logging
}

func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultPath()
}

// loadApp reads the configuration and opens the log output. Close must be
// called on the result.
func loadApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	flavor, err := cfg.Flavor(flavorName)
	if err != nil {
		return nil, err
	}

	level := flavor.LogLevel
	if debug {
		level = logging.LevelDebug
	}
	logs, err := logging.New(logging.Options{File: flavor.LogFile, Level: level})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, flavor: flavor, logs: logs}, nil
}

func (a *app) Close() error {
	return a.logs.Close()
}

// interval returns the daemon interval of the flavor.
func (a *app) interval() (time.Duration, error) {
	d, err := time.ParseDuration(a.flavor.Interval)
	if err != nil {
		return 0, fmt.Errorf("flavor %s: interval: %w", a.flavor.Name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("flavor %s: interval must be positive: %w", a.flavor.Name, config.ErrInvalid)
	}
	return d, nil
}

// acquireLock takes the store lock of the flavor. Opening a store may
// write to it, so commands that write take the lock first.
func (a *app) acquireLock() (*lock.Lock, error) {
	return lock.Acquire(a.flavor.LockPath())
}

// openStore opens the task store of the flavor. The returned function
// closes it.
func (a *app) openStore(ctx context.Context) (store.Store, func() error, error) {
	switch a.flavor.Store {
	case config.StoreTaskwarrior:
		return taskwarrior.New(a.flavor.Data, taskwarrior.ExecRunner("task")), func() error { return nil }, nil
	default:
		s, err := sqlite.OpenContext(ctx, a.flavor.Data)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

// resolveTargets looks up the definitions of the flavor's targets without
// constructing connectors.
func (a *app) resolveTargets() ([]service.Target, error) {
	return builtin.Registry().Resolve(a.cfg.FlavorTargets(a.flavor))
}

// pull runs one synchronization of the flavor.
func (a *app) pull(ctx context.Context, dryRun bool) (*sync.Result, error) {
	targets, err := builtin.Registry().Build(a.cfg.FlavorTargets(a.flavor), a.logs.Logger("service"))
	if err != nil {
		return nil, err
	}

	l, err := a.acquireLock()
	if err != nil {
		return nil, err
	}
	defer l.Release()

	st, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	engine := sync.New(st, sync.Options{
		Targets:           targets,
		Policies:          sync.PoliciesFromFlavor(a.flavor),
		LockPath:          a.flavor.LockPath(),
		Lock:              l,
		CloseOnFetchError: a.flavor.CloseOnFetchError,
		DryRun:            dryRun,
		Verbose:           a.logs.Debug(),
	}, a.logs.Logger("sync"))

	return engine.Synchronize(ctx, service.Aggregate(ctx, targets, a.logs.Logger("service")))
}
