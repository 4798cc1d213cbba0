package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/bugwarrior/internal/lock"
	"github.com/mschirtzinger/bugwarrior/internal/sync"
	"github.com/mschirtzinger/bugwarrior/internal/ui"
)

// Version is set at build time.
var Version = "dev"

// Exit codes.
const (
	exitError         = 1
	exitLocked        = 2
	exitWriteFailures = 3
)

var (
	configPath string
	flavorName string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "bugwarrior",
	Short: "Pull issues from bug trackers into a local task list",
	Long: `bugwarrior pulls the open issues of the configured targets (GitHub
repositories, local issue files) and reconciles them into a local task store.

New issues become pending tasks, changed issues update their task, and tasks
whose issue disappeared are completed. A task whose issue comes back is
reopened with the same uuid.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Setup(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default $BUGWARRIOR_CONFIG or ~/.config/bugwarrior/bugwarrior.toml)")
	rootCmd.PersistentFlags().StringVarP(&flavorName, "flavor", "f", "", "Flavor (target group) to use (default \"general\")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log every field decision")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, lock.ErrLocked):
		return exitLocked
	case errors.Is(err, sync.ErrWriteFailures):
		return exitWriteFailures
	default:
		return exitError
	}
}
