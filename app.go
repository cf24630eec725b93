package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slidelens/deckup/internal/api"
	"github.com/slidelens/deckup/internal/state"
	"github.com/slidelens/deckup/internal/upload"
)

// userAgent identifies deckup to the backend unless network.user_agent is set.
func userAgent() string {
	return "deckup/" + version
}

// openOrchestrator wires the state store and backend client described by
// resolvedCfg into an upload.Orchestrator. The returned func closes the store.
func openOrchestrator(ctx context.Context, logger *slog.Logger, hooks upload.Hooks) (*upload.Orchestrator, func(), error) {
	cfg := resolvedCfg
	if cfg == nil {
		return nil, nil, errors.New("no configuration loaded")
	}

	opts, err := cfg.UploadOptions()
	if err != nil {
		return nil, nil, err
	}

	opts.Hooks = hooks

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	ua := cfg.Network.UserAgent
	if ua == "" {
		ua = userAgent()
	}

	client := api.NewClient(cfg.Server.BaseURL, httpClient, logger,
		api.WithStaticToken(cfg.Server.Token),
		api.WithUserAgent(ua),
		api.WithMaxRetries(cfg.Network.MaxRetries),
	)

	store, err := state.Open(ctx, cfg.State.Backend, cfg.State.Dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening upload state: %w", err)
	}

	logger.Debug("upload state opened",
		slog.String("backend", cfg.State.Backend),
		slog.String("dir", cfg.State.Dir),
	)

	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing upload state", slog.String("error", err.Error()))
		}
	}

	return upload.New(client, store, opts, logger), closeStore, nil
}
