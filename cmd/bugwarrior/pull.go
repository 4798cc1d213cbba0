package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/bugwarrior/internal/sync"
	"github.com/mschirtzinger/bugwarrior/internal/ui"
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Pull issues from every target of the flavor",
	Long: `Fetch the issues of every target in the flavor and reconcile them into
the task store.

The run holds the store lock from start to end; a second concurrent pull
exits with status 2. Tasks that could not be written are reported at the
end and make the command exit with status 3.

Examples:
  bugwarrior pull
  bugwarrior pull --flavor work
  bugwarrior pull --dry-run --debug`,
	RunE: runPull,
}

func init() {
	pullCmd.Flags().Bool("dry-run", false, "Classify and log every issue without writing")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	verb := "Pulling"
	if dryRun {
		verb = "Dry run of"
	}
	fmt.Fprintf(out, "%s %s flavor %s...\n", ui.RenderAccent("→"), verb, a.flavor.Name)

	start := time.Now()
	result, err := a.pull(ctx, dryRun)
	if result != nil && (err == nil || !sync.IsFatal(err)) {
		fmt.Fprintln(out, renderResult(result))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Pull complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	return nil
}

func renderResult(r *sync.Result) string {
	rows := []ui.Row{
		{Label: "Created", Value: ui.Count(r.Created)},
		{Label: "Updated", Value: ui.Count(r.Updated)},
		{Label: "Unchanged", Value: ui.Count(r.Unchanged)},
		{Label: "Completed", Value: ui.Count(r.Completed)},
		{Label: "Reopened", Value: ui.Count(r.Reopened)},
		{Label: "Duplicates", Value: ui.Count(r.Duplicates)},
	}
	if r.Skipped > 0 {
		rows = append(rows, ui.Row{Label: "Skipped", Value: ui.RenderWarn(fmt.Sprint(r.Skipped))})
	}
	if r.Ambiguous > 0 {
		rows = append(rows, ui.Row{Label: "Ambiguous", Value: ui.RenderWarn(fmt.Sprint(r.Ambiguous))})
	}
	if r.FetchErrors > 0 {
		rows = append(rows, ui.Row{Label: "Fetch errors", Value: ui.RenderWarn(fmt.Sprint(r.FetchErrors))})
	}
	if r.Failed > 0 {
		rows = append(rows, ui.Row{Label: "Failed", Value: ui.RenderFail(fmt.Sprint(r.Failed))})
	}
	return ui.KeyValues(rows)
}
