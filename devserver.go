package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/slidelens/deckup/internal/collab"
)

// Dev server defaults.
const (
	defaultDevAddr     = "127.0.0.1:8000"
	defaultDevPrefix   = "/api/presentations"
	devReadHeaderLimit = 10 * time.Second
	devShutdownTimeout = 5 * time.Second
)

var (
	flagDevAddr       string
	flagDevPrefix     string
	flagDevChunkDelay time.Duration
)

func newDevServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run an in-memory upload backend for local testing",
		Long: `Run an in-memory implementation of the chunked upload endpoints.

Sessions and chunks live in memory only and are lost on exit. Point deckup at
it with --server http://<addr><prefix>.`,
		Args: cobra.NoArgs,
		RunE: runDevServer,
	}

	cmd.Flags().StringVar(&flagDevAddr, "addr", defaultDevAddr, "listen address")
	cmd.Flags().StringVar(&flagDevPrefix, "prefix", defaultDevPrefix, "path prefix of the upload endpoints")
	cmd.Flags().DurationVar(&flagDevChunkDelay, "chunk-delay", 0, "hold each chunk request open (simulates a slow link)")

	return cmd
}

func runDevServer(cmd *cobra.Command, _ []string) error {
	logger, closeLog := buildLogger()
	defer closeLog()

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx := shutdownContext(runCtx, logger)

	ln, err := net.Listen("tcp", flagDevAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", flagDevAddr, err)
	}

	srv := collab.NewServer(flagDevPrefix, logger)
	if flagDevChunkDelay > 0 {
		srv.SetFaults(collab.Faults{ChunkDelay: flagDevChunkDelay})
	}

	statusf("Serving upload endpoints at http://%s%s\n", ln.Addr(), flagDevPrefix)

	return serveDev(ctx, ln, srv, logger)
}

// serveDev serves h on ln until ctx is cancelled, then shuts down gracefully.
func serveDev(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: devReadHeaderLimit,
	}

	errCh := make(chan error, 1)

	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("dev server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("dev server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), devShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dev server shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dev server: %w", err)
	}

	return nil
}
