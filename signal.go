package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit ends the process on a second signal. Tests replace it.
var forceExit = os.Exit

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets an upload stop at its
// next chunk boundary with progress saved; the second quits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, cancelling upload",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			forceExit(exitCancelled)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
