package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/bugwarrior/internal/lock"
	"github.com/mschirtzinger/bugwarrior/internal/store"
	"github.com/mschirtzinger/bugwarrior/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "maint",
	Short:   "Show the flavor's store and task counts",
	Long: `Display the status of the flavor:

Shows:
  - Configuration file, store kind and location
  - Whether a pull currently holds the lock
  - Task counts by status and by service`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s Flavor %s\n\n", ui.RenderAccent("●"), a.flavor.Name)

	lockState := ui.RenderMuted("free")
	if pid, held := lock.Holder(a.flavor.LockPath()); held {
		lockState = ui.RenderWarn(fmt.Sprintf("held by pid %d", pid))
	}
	fmt.Fprintln(out, ui.KeyValues([]ui.Row{
		{Label: "Config", Value: a.cfg.Path},
		{Label: "Targets", Value: strings.Join(a.flavor.Targets, ", ")},
		{Label: "Store", Value: a.flavor.Store},
		{Label: "Data", Value: a.flavor.Data},
		{Label: "Lock", Value: lockState},
	}))

	if _, err := os.Stat(a.flavor.Data); os.IsNotExist(err) {
		fmt.Fprintf(out, "\n%s Store not initialized\n", ui.RenderWarn("⚠"))
		fmt.Fprintf(out, "   Run 'bugwarrior pull' to create it\n\n")
		return nil
	}

	ctx := context.Background()
	st, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tasks, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	targets, err := a.resolveTargets()
	if err != nil {
		return err
	}

	byStatus := make(map[store.Status]int)
	byService := make(map[string]int)
	for _, t := range tasks {
		byStatus[t.Status]++
		for _, target := range targets {
			if target.Definition.Owns(t) {
				byService[target.Definition.Service]++
				break
			}
		}
	}

	rows := []ui.Row{
		{Label: "Pending", Value: ui.Count(byStatus[store.StatusPending])},
		{Label: "Waiting", Value: ui.Count(byStatus[store.StatusWaiting])},
		{Label: "Completed", Value: ui.Count(byStatus[store.StatusCompleted])},
		{Label: "Deleted", Value: ui.Count(byStatus[store.StatusDeleted])},
	}
	seen := make(map[string]bool)
	for _, target := range targets {
		name := target.Definition.Service
		if seen[name] {
			continue
		}
		seen[name] = true
		rows = append(rows, ui.Row{Label: "From " + name, Value: ui.Count(byService[name])})
	}

	fmt.Fprintf(out, "\n%s Tasks (%d)\n\n", ui.RenderAccent("●"), len(tasks))
	fmt.Fprintln(out, ui.KeyValues(rows))
	fmt.Fprintln(out)
	return nil
}
