package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/slidelens/deckup/internal/upload"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 130
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status. A cancelled
// upload exits like a process killed by SIGINT; a source file that changed
// mid-upload is a failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, upload.ErrCancelled) && !errors.Is(err, upload.ErrSourceChanged):
		return exitCancelled
	default:
		return exitFailure
	}
}
