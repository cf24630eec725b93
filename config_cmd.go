package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/slidelens/deckup/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		shown := *resolvedCfg
		if shown.Server.Token != "" {
			shown.Server.Token = "<redacted>"
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(shown)
	}

	return config.RenderEffective(resolvedCfg, configSource(), out)
}
