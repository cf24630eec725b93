package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slidelens/deckup/internal/upload"
)

// noHooks is used by commands that never run an upload.
var noHooks = upload.Hooks{}

var flagResetSize int64

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <file>",
		Short: "Forget saved progress so the next upload of a file starts over",
		Long: `Forget saved progress for a file so the next upload starts a new session.

The record is found by file name and size. If the file no longer exists,
pass its size in bytes with --size (see "deckup status --json").`,
		Args: cobra.ExactArgs(1),
		RunE: runReset,
	}

	cmd.Flags().Int64Var(&flagResetSize, "size", -1, "file size in bytes, for files that no longer exist")

	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	logger, closeLog := buildLogger()
	defer closeLog()

	ctx := cmd.Context()

	name, size := filepath.Base(args[0]), flagResetSize
	if size < 0 {
		src, err := upload.OpenFile(args[0])
		if err != nil {
			return fmt.Errorf("%w (use --size for files that no longer exist)", err)
		}

		name, size = src.Name, src.Size
		src.Close()
	}

	orch, closeStore, err := openOrchestrator(ctx, logger, noHooks)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := orch.Reset(ctx, name, size); err != nil {
		return err
	}

	statusf("Reset upload state for %s (%s)\n", name, formatSize(size))

	return nil
}
