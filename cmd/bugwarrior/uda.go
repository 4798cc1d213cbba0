package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
	"github.com/mschirtzinger/bugwarrior/internal/ui"
)

var udaCmd = &cobra.Command{
	Use:     "uda",
	GroupID: "maint",
	Short:   "List the custom fields the flavor's services write",
	Long: `Print the UDA declarations of every service used by the flavor as taskrc
lines, sorted by key. Pulls register them automatically; --apply registers
them with the store without pulling.`,
	RunE: runUDA,
}

func init() {
	udaCmd.Flags().Bool("apply", false, "Register the fields with the task store")
	rootCmd.AddCommand(udaCmd)
}

func runUDA(cmd *cobra.Command, args []string) error {
	apply, _ := cmd.Flags().GetBool("apply")

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	targets, err := a.resolveTargets()
	if err != nil {
		return err
	}
	fields, err := uda.Build(service.Declarers(targets))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, line := range uda.Strings(fields) {
		fmt.Fprintln(out, line)
	}

	if !apply {
		return nil
	}

	l, err := a.acquireLock()
	if err != nil {
		return err
	}
	defer l.Release()

	ctx := context.Background()
	st, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := uda.Ensure(ctx, st, fields); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Registered %d fields with %s\n", ui.RenderPass("✓"), len(fields), st.Path())
	return nil
}
