package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad base url", func(c *Config) { c.Server.BaseURL = "localhost:8000" }, "server.base_url"},
		{"ftp base url", func(c *Config) { c.Server.BaseURL = "ftp://example.com/api" }, "server.base_url"},
		{"chunk too small", func(c *Config) { c.Upload.ChunkSize = "1KiB" }, "upload.chunk_size"},
		{"chunk unparsable", func(c *Config) { c.Upload.ChunkSize = "big" }, "upload.chunk_size"},
		{"no concurrency", func(c *Config) { c.Upload.MaxConcurrentChunks = 0 }, "upload.max_concurrent_chunks"},
		{"too many retries", func(c *Config) { c.Upload.RetryAttempts = 50 }, "upload.retry_attempts"},
		{"negative delay", func(c *Config) { c.Upload.RetryDelay = "-1s" }, "upload.retry_delay"},
		{"bad backoff", func(c *Config) { c.Upload.RetryBackoff = "linear" }, "upload.retry_backoff"},
		{"bad resume checks", func(c *Config) { c.Upload.ResumeCheckAttempts = 0 }, "upload.resume_check_attempts"},
		{"bad max size", func(c *Config) { c.Upload.MaxFileSize = "lots" }, "upload.max_file_size"},
		{"bad pattern", func(c *Config) { c.Upload.AllowedTypes = []string{"application/[pdf"} }, "upload.allowed_types"},
		{"bad backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"short ttl", func(c *Config) { c.State.RecordTTL = "10s" }, "state.record_ttl"},
		{"bad level", func(c *Config) { c.Logging.LogLevel = "trace" }, "logging.log_level"},
		{"bad format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"short connect", func(c *Config) { c.Network.ConnectTimeout = "100ms" }, "network.connect_timeout"},
		{"bad data timeout", func(c *Config) { c.Network.DataTimeout = "soon" }, "network.data_timeout"},
		{"negative retries", func(c *Config) { c.Network.MaxRetries = -1 }, "network.max_retries"},
		{"http events url", func(c *Config) { c.Events.WebsocketURL = "http://localhost/events" }, "events.websocket_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsEdgeValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upload.RetryDelay = "0s"
	cfg.Upload.MaxFileSize = "0"
	cfg.Upload.AllowedTypes = nil
	cfg.Network.MaxRetries = 0
	cfg.Events.WebsocketURL = "wss://ui.example.com/events"

	require.NoError(t, Validate(cfg))

	opts, err := cfg.UploadOptions()
	require.NoError(t, err)
	assert.Negative(t, opts.RetryDelay, "explicit zero delay maps to no delay")
	assert.Zero(t, opts.MaxFileSize)
	assert.Empty(t, opts.AllowedTypes)
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upload.RetryAttempts = 0
	cfg.State.Backend = ""
	cfg.Logging.LogLevel = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.retry_attempts")
	assert.Contains(t, err.Error(), "state.backend")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestTimeouts(t *testing.T) {
	cfg := DefaultConfig()

	connect, data, err := cfg.Timeouts()
	require.NoError(t, err)
	assert.Equal(t, "10s", connect.String())
	assert.Equal(t, "1m0s", data.String())
}
