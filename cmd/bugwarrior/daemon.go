package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/bugwarrior/internal/daemon"
	"github.com/mschirtzinger/bugwarrior/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Pull periodically (foreground)",
	Long: `Run pulls in the foreground until interrupted.

The daemon will:
  1. Pull once on start
  2. Pull again every interval (flavor setting, or --interval)
  3. Reload the configuration and pull when the file changes

A pull that finds the lock held is skipped and retried at the next tick.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "Time between pulls (default: the flavor's interval)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	override, _ := cmd.Flags().GetDuration("interval")

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	interval := override
	if interval <= 0 {
		if interval, err = a.interval(); err != nil {
			return err
		}
	}

	// Each pull sees the configuration as of its start; a reload swaps it.
	current := a
	cfg := daemon.DefaultConfig()
	cfg.Interval = interval
	cfg.Logger = a.logs.Logger("daemon")
	cfg.Reload = func() (time.Duration, error) {
		next, err := loadApp()
		if err != nil {
			return 0, err
		}
		if current != a {
			current.Close()
		}
		current = next
		if override > 0 {
			return 0, nil
		}
		return next.interval()
	}

	pull := func(ctx context.Context) error {
		result, err := current.pull(ctx, false)
		if result != nil {
			cfg.Logger.Printf("Pull result: %s", result)
		}
		return err
	}

	d, err := daemon.NewWithConfig(pull, resolveConfigPath(), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Starting bugwarrior daemon...\n", ui.RenderAccent("→"))
	fmt.Fprintf(out, "   Flavor: %s\n", a.flavor.Name)
	fmt.Fprintf(out, "   Interval: %v\n", interval)
	fmt.Fprintf(out, "   Config: %s\n", a.cfg.Path)
	fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = d.Start(ctx)
	if current != a {
		current.Close()
	}
	return err
}
