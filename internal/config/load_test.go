package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidelens/deckup/internal/upload"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "http://localhost:8000/api/presentations", cfg.Server.BaseURL)
	assert.Equal(t, "5MiB", cfg.Upload.ChunkSize)
	assert.Equal(t, 3, cfg.Upload.MaxConcurrentChunks)
	assert.Equal(t, 3, cfg.Upload.RetryAttempts)
	assert.Equal(t, "2s", cfg.Upload.RetryDelay)
	assert.True(t, cfg.Upload.WatchSource)
	assert.Equal(t, upload.DefaultAllowedTypes, cfg.Upload.AllowedTypes)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, "10s", cfg.Network.ConnectTimeout)
	assert.Equal(t, "60s", cfg.Network.DataTimeout)
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
base_url = "https://slides.example.com/api/presentations"
token = "secret"

[upload]
chunk_size = "8MiB"
max_concurrent_chunks = 6
retry_attempts = 5
retry_delay = "500ms"
retry_backoff = "exponential"
resume_check_attempts = 3
allowed_types = ["application/pdf", "*.key"]
max_file_size = "1GB"
watch_source = false

[state]
backend = "file"
dir = "/var/lib/deckup"
record_ttl = "48h"

[logging]
log_level = "debug"
log_format = "json"

[network]
connect_timeout = "30s"
data_timeout = "120s"
user_agent = "deckup-ci"
max_retries = 2

[events]
websocket_url = "ws://localhost:9000/events"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://slides.example.com/api/presentations", cfg.Server.BaseURL)
	assert.Equal(t, "secret", cfg.Server.Token)
	assert.Equal(t, "8MiB", cfg.Upload.ChunkSize)
	assert.Equal(t, 6, cfg.Upload.MaxConcurrentChunks)
	assert.Equal(t, []string{"application/pdf", "*.key"}, cfg.Upload.AllowedTypes)
	assert.False(t, cfg.Upload.WatchSource)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "/var/lib/deckup", cfg.State.Dir)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, "30s", cfg.Network.ConnectTimeout)
	assert.Equal(t, 2, cfg.Network.MaxRetries)
	assert.Equal(t, "ws://localhost:9000/events", cfg.Events.WebsocketURL)

	opts, err := cfg.UploadOptions()
	require.NoError(t, err)
	assert.Equal(t, int64(8*1024*1024), opts.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, opts.RetryDelay)
	assert.Equal(t, upload.BackoffExponential, opts.Backoff)
	assert.Equal(t, int64(1_000_000_000), opts.MaxFileSize)
	assert.Equal(t, 48*time.Hour, opts.RecordTTL)
	assert.Equal(t, 3, opts.ResumeCheckAttempts)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[upload]\nmax_concurrent_chunks = 8\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Upload.MaxConcurrentChunks)
	assert.Equal(t, "5MiB", cfg.Upload.ChunkSize)
	assert.Equal(t, upload.DefaultAllowedTypes, cfg.Upload.AllowedTypes)
}

func TestLoad_ShorterAllowedTypesReplacesDefault(t *testing.T) {
	path := writeTestConfig(t, "[upload]\nallowed_types = [\"application/pdf\"]\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"application/pdf"}, cfg.Upload.AllowedTypes)

	// Decoding must not have written into the shared default.
	assert.Len(t, upload.DefaultAllowedTypes, 4)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		upload.DefaultAllowedTypes[0])
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[upload\nchunk_size = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAreReported(t *testing.T) {
	path := writeTestConfig(t, "[upload]\nmax_concurrent_chunks = 0\nretry_backoff = \"linear\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.max_concurrent_chunks")
	assert.Contains(t, err.Error(), "upload.retry_backoff")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_LayerPrecedence(t *testing.T) {
	path := writeTestConfig(t, `
[server]
base_url = "https://file.example.com/api"

[upload]
chunk_size = "10MiB"
max_concurrent_chunks = 4

[state]
dir = "/from/file"
`)

	env := EnvOverrides{
		ConfigPath: path,
		Token:      "env-token",
		ServerURL:  "https://env.example.com/api",
	}

	server := "https://cli.example.com/api"
	stateDir := "/from/cli"
	concurrency := 2
	watch := false

	cfg, err := Resolve(env, CLIOverrides{
		ServerURL:   &server,
		StateDir:    &stateDir,
		Concurrency: &concurrency,
		WatchSource: &watch,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://cli.example.com/api", cfg.Server.BaseURL, "CLI beats env beats file")
	assert.Equal(t, "env-token", cfg.Server.Token)
	assert.Equal(t, "/from/cli", cfg.State.Dir)
	assert.Equal(t, "10MiB", cfg.Upload.ChunkSize, "file value survives when not overridden")
	assert.Equal(t, 2, cfg.Upload.MaxConcurrentChunks)
	assert.False(t, cfg.Upload.WatchSource)
}

func TestResolve_CLIConfigPathWins(t *testing.T) {
	envPath := writeTestConfig(t, "[upload]\nretry_attempts = 7\n")
	cliPath := writeTestConfig(t, "[upload]\nretry_attempts = 9\n")

	cfg, err := Resolve(EnvOverrides{ConfigPath: envPath, StateDir: "/tmp/deckup"},
		CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Upload.RetryAttempts)
}

func TestResolve_DefaultStateDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("HOME", "/home/testuser")

	cfg, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")}, CLIOverrides{})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.State.Dir))
	assert.Contains(t, cfg.State.Dir, appName)
}

func TestResolve_TildeExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/testuser")

	cfg, err := Resolve(EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		StateDir:   "~/deckup-state",
	}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "/home/testuser/deckup-state", cfg.State.Dir)
}

func TestResolve_RelativeStateDirRejected(t *testing.T) {
	_, err := Resolve(EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		StateDir:   "relative/dir",
	}, CLIOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.dir")
}

func TestResolve_CLIValuesAreValidated(t *testing.T) {
	bad := "1KB"

	_, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml"), StateDir: "/tmp/x"},
		CLIOverrides{ChunkSize: &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.chunk_size")
}
