package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "DECKUP_CONFIG"
	EnvToken     = "DECKUP_TOKEN"
	EnvServerURL = "DECKUP_SERVER_URL"
	EnvStateDir  = "DECKUP_STATE_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DECKUP_CONFIG: override config file path
	Token      string // DECKUP_TOKEN: bearer token
	ServerURL  string // DECKUP_SERVER_URL: upload endpoint base URL
	StateDir   string // DECKUP_STATE_DIR: record directory
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Token:      os.Getenv(EnvToken),
		ServerURL:  os.Getenv(EnvServerURL),
		StateDir:   os.Getenv(EnvStateDir),
	}
}
