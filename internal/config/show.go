package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// redacted replaces secrets in rendered output.
const redacted = "<redacted>"

// RenderEffective writes the resolved configuration to w as TOML, after all
// override layers have been applied. The token is never printed; the output
// can be saved and loaded as a config file once a token is filled in.
func RenderEffective(cfg *Config, source string, w io.Writer) error {
	shown := *cfg
	if shown.Server.Token != "" {
		shown.Server.Token = redacted
	}

	if source == "" {
		source = "defaults"
	}

	if _, err := fmt.Fprintf(w, "# Effective configuration (loaded from %s)\n\n", source); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := toml.NewEncoder(w).Encode(shown); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
