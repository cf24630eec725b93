package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/slidelens/deckup/internal/state"
)

// Record states shown by the status command.
const (
	recordStateResumable = "resumable"
	recordStateExpired   = "expired"
)

// pendingUpload is the status view of one persisted upload record.
type pendingUpload struct {
	Filename    string    `json:"filename"`
	FileSize    int64     `json:"file_size"`
	UploadID    string    `json:"upload_id"`
	ChunkSize   int64     `json:"chunk_size"`
	Uploaded    int       `json:"uploaded_chunks"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	State       string    `json:"state"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List interrupted uploads that can be resumed",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger, closeLog := buildLogger()
	defer closeLog()

	ctx := cmd.Context()

	orch, closeStore, err := openOrchestrator(ctx, logger, noHooks)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := orch.Pending(ctx)
	if err != nil {
		return fmt.Errorf("listing uploads: %w", err)
	}

	ttl, err := resolvedCfg.RecordTTL()
	if err != nil {
		return err
	}

	pending := buildPending(records, ttl, time.Now())

	if flagJSON {
		return printPendingJSON(cmd.OutOrStdout(), pending)
	}

	printPendingText(cmd.OutOrStdout(), pending)

	return nil
}

func buildPending(records []*state.Record, ttl time.Duration, now time.Time) []pendingUpload {
	out := make([]pendingUpload, 0, len(records))

	for _, rec := range records {
		st := recordStateResumable
		if rec.Expired(now, ttl) {
			st = recordStateExpired
		}

		out = append(out, pendingUpload{
			Filename:    rec.Filename,
			FileSize:    rec.FileSize,
			UploadID:    rec.SessionID,
			ChunkSize:   rec.ChunkSize,
			Uploaded:    len(rec.Uploaded),
			TotalChunks: rec.TotalChunks,
			CreatedAt:   rec.CreatedAt,
			ExpiresAt:   rec.CreatedAt.Add(ttl),
			State:       st,
		})
	}

	return out
}

func printPendingJSON(w io.Writer, pending []pendingUpload) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(pending); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printPendingText(w io.Writer, pending []pendingUpload) {
	if len(pending) == 0 {
		fmt.Fprintln(w, "No interrupted uploads.")
		return
	}

	rows := make([][]string, 0, len(pending))
	for _, p := range pending {
		rows = append(rows, []string{
			p.Filename,
			formatSize(p.FileSize),
			strconv.Itoa(p.Uploaded) + "/" + strconv.Itoa(p.TotalChunks),
			formatTime(p.CreatedAt),
			p.State,
		})
	}

	printTable(w, []string{"FILE", "SIZE", "CHUNKS", "STARTED", "STATE"}, rows)
}
