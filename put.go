package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/slidelens/deckup/internal/api"
	"github.com/slidelens/deckup/internal/events"
	"github.com/slidelens/deckup/internal/upload"
)

// Flags of the put command. loadConfig reads them as CLI overrides.
var (
	flagChunkSize   string
	flagConcurrency int
	flagWatch       bool
	flagEventsURL   string
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file, resuming a previous interrupted upload of it",
		Long: `Upload a presentation or document in chunks.

If an earlier upload of the same file (same name and size) was interrupted,
only the missing chunks are sent. Press Ctrl-C once to stop after in-flight
chunks settle; progress is kept. Press it again to quit immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: runPut,
	}

	cmd.Flags().StringVar(&flagChunkSize, "chunk-size", "", "chunk size (e.g. 5MiB)")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "chunks uploaded in parallel per batch")
	cmd.Flags().BoolVar(&flagWatch, "watch", true, "abort if the file changes during upload")
	cmd.Flags().StringVar(&flagEventsURL, "events-url", "", "websocket URL receiving upload events")

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	logger, closeLog := buildLogger()
	defer closeLog()

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx := shutdownContext(runCtx, logger)

	src, err := upload.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	errOut := cmd.ErrOrStderr()
	progress := newProgressRenderer(errOut, isTerminal(errOut), flagQuiet || flagJSON, src.Name, src.Size)
	hooks := upload.Hooks{OnProgress: progress.update}

	if url := resolvedCfg.Events.WebsocketURL; url != "" {
		pub := events.NewWebsocketPublisher(url, logger)
		defer pub.Close()

		hooks.OnEvent = pub.Hook()
	}

	orch, closeStore, err := openOrchestrator(ctx, logger, hooks)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Debug("put",
		slog.String("path", src.Path),
		slog.Int64("size", src.Size),
		slog.String("server", resolvedCfg.Server.BaseURL),
	)

	res, err := orch.Upload(ctx, src)
	progress.finish()

	if err != nil {
		if hint := failureHint(args[0], src.Name, err); hint != "" {
			statusf("%s\n", hint)
		}

		return err
	}

	return printUploadResult(cmd, src, res)
}

// failureHint tells the user what to do after a failed put. path is the
// argument as given, name its base name.
func failureHint(path, name string, err error) string {
	switch {
	case errors.Is(err, upload.ErrValidation):
		// Rejected before anything was sent.
		return ""
	case errors.Is(err, upload.ErrSourceChanged):
		return name + " changed during upload; the next run starts over if its size changed."
	case errors.Is(err, api.ErrFinalizeIncomplete):
		// The record already covers every chunk, so re-running hits the same answer.
		return "The server is missing chunks recorded as sent. Run 'deckup reset " + path + "' and upload again."
	default:
		return "Upload progress saved. Re-run the same command to resume."
	}
}

func printUploadResult(cmd *cobra.Command, src *upload.Source, res *api.UploadResult) error {
	out := cmd.OutOrStdout()

	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	fmt.Fprintf(out, "Uploaded %s (%s) as %s\n", src.Name, formatSize(src.Size), res.ID)

	return nil
}
