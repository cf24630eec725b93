package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove upload records that are too old to resume",
		Args:  cobra.NoArgs,
		RunE:  runClean,
	}
}

func runClean(cmd *cobra.Command, _ []string) error {
	logger, closeLog := buildLogger()
	defer closeLog()

	ctx := cmd.Context()

	orch, closeStore, err := openOrchestrator(ctx, logger, noHooks)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := orch.CleanStale(ctx)
	if err != nil {
		return fmt.Errorf("cleaning upload state: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired upload record(s)\n", n)

	return nil
}
