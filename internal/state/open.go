package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Open creates the Store named by backend rooted at dir.
func Open(ctx context.Context, backend, dir string, logger *slog.Logger) (Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("state: state directory is empty")
	}

	switch backend {
	case BackendFile:
		return NewFileStore(dir, logger), nil
	case BackendSQLite, "":
		if err := os.MkdirAll(dir, recordDirPerms); err != nil {
			return nil, fmt.Errorf("state: creating state dir: %w", err)
		}

		return NewSQLiteStore(ctx, filepath.Join(dir, DatabaseFile), logger)
	default:
		return nil, fmt.Errorf("state: unknown backend %q", backend)
	}
}
