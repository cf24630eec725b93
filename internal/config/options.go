package config

import (
	"fmt"
	"time"

	"github.com/slidelens/deckup/internal/upload"
)

// UploadOptions converts the [upload] and [state] sections into orchestrator
// options. Hooks are left for the caller to fill in.
func (c *Config) UploadOptions() (upload.Options, error) {
	chunkSize, err := ParseSize(c.Upload.ChunkSize)
	if err != nil {
		return upload.Options{}, fmt.Errorf("upload.chunk_size: %w", err)
	}

	maxSize, err := ParseSize(c.Upload.MaxFileSize)
	if err != nil {
		return upload.Options{}, fmt.Errorf("upload.max_file_size: %w", err)
	}

	delay, err := time.ParseDuration(c.Upload.RetryDelay)
	if err != nil {
		return upload.Options{}, fmt.Errorf("upload.retry_delay: %w", err)
	}

	// A zero Options.RetryDelay means "use the default"; an explicit "0s" in
	// the config means no delay.
	if delay == 0 {
		delay = -1
	}

	ttl, err := c.RecordTTL()
	if err != nil {
		return upload.Options{}, err
	}

	return upload.Options{
		ChunkSize:           chunkSize,
		MaxConcurrentChunks: c.Upload.MaxConcurrentChunks,
		RetryAttempts:       c.Upload.RetryAttempts,
		RetryDelay:          delay,
		Backoff:             upload.Backoff(c.Upload.RetryBackoff),
		ResumeCheckAttempts: c.Upload.ResumeCheckAttempts,
		AllowedTypes:        c.Upload.AllowedTypes,
		MaxFileSize:         maxSize,
		RecordTTL:           ttl,
		WatchSource:         c.Upload.WatchSource,
	}, nil
}

// RecordTTL is how long an upload record stays resumable.
func (c *Config) RecordTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.State.RecordTTL)
	if err != nil {
		return 0, fmt.Errorf("state.record_ttl: %w", err)
	}

	return d, nil
}

// Timeouts returns the connect and response-header timeouts from [network].
func (c *Config) Timeouts() (connect, data time.Duration, err error) {
	connect, err = time.ParseDuration(c.Network.ConnectTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("network.connect_timeout: %w", err)
	}

	data, err = time.ParseDuration(c.Network.DataTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("network.data_timeout: %w", err)
	}

	return connect, data, nil
}
