package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/slidelens/deckup/internal/state"
	"github.com/slidelens/deckup/internal/upload"
)

// Validation range constants.
const (
	minChunkBytes          = 64 * 1024
	maxChunkBytes          = 256 * 1024 * 1024
	minConcurrentChunks    = 1
	maxConcurrentChunks    = 32
	minRetryAttempts       = 1
	maxRetryAttempts       = 20
	maxResumeCheckAttempts = 10
	maxNetworkRetries      = 10
	minConnectTimeout      = 1 * time.Second
	minDataTimeout         = 5 * time.Second
	minRecordTTL           = 1 * time.Minute
)

// Validate checks all configuration values and returns all errors found,
// so a user can fix every problem in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateEvents(&cfg.Events)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense once every
// override layer has been applied.
func ValidateResolved(cfg *Config) error {
	if cfg.State.Dir == "" {
		return errors.New("state.dir: could not determine a default; set state.dir or DECKUP_STATE_DIR")
	}

	if !filepath.IsAbs(cfg.State.Dir) {
		return fmt.Errorf("state.dir: must be absolute after expansion, got %q", cfg.State.Dir)
	}

	return nil
}

func validateServer(s *ServerConfig) []error {
	if err := validateURL(s.BaseURL, "http", "https"); err != nil {
		return []error{fmt.Errorf("server.base_url: %w", err)}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}

	return fmt.Errorf("must be an absolute %v URL, got %q", schemes, raw)
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if n, err := ParseSize(u.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("upload.chunk_size: %w", err))
	} else if n < minChunkBytes || n > maxChunkBytes {
		errs = append(errs, fmt.Errorf("upload.chunk_size: must be between 64KiB and 256MiB, got %s", u.ChunkSize))
	}

	errs = append(errs, validateRange("upload.max_concurrent_chunks",
		u.MaxConcurrentChunks, minConcurrentChunks, maxConcurrentChunks)...)
	errs = append(errs, validateRange("upload.retry_attempts",
		u.RetryAttempts, minRetryAttempts, maxRetryAttempts)...)
	errs = append(errs, validateRange("upload.resume_check_attempts",
		u.ResumeCheckAttempts, 1, maxResumeCheckAttempts)...)
	errs = append(errs, validateDurationNonNeg("upload.retry_delay", u.RetryDelay)...)

	switch upload.Backoff(u.RetryBackoff) {
	case upload.BackoffFixed, upload.BackoffExponential:
	default:
		errs = append(errs, fmt.Errorf("upload.retry_backoff: must be one of fixed, exponential; got %q", u.RetryBackoff))
	}

	if _, err := ParseSize(u.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("upload.max_file_size: %w", err))
	}

	if err := upload.ValidatePatterns(u.AllowedTypes); err != nil {
		errs = append(errs, fmt.Errorf("upload.allowed_types: %w", err))
	}

	return errs
}

func validateState(s *StateConfig) []error {
	var errs []error

	switch s.Backend {
	case state.BackendSQLite, state.BackendFile:
	default:
		errs = append(errs, fmt.Errorf("state.backend: must be one of sqlite, file; got %q", s.Backend))
	}

	errs = append(errs, validateDurationMin("state.record_ttl", s.RecordTTL, minRecordTTL)...)

	return errs
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateOneOf("logging.log_level", l.LogLevel, validLogLevels)...)
	errs = append(errs, validateOneOf("logging.log_format", l.LogFormat, validLogFormats)...)

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)
	errs = append(errs, validateRange("network.max_retries", n.MaxRetries, 0, maxNetworkRetries)...)

	return errs
}

func validateEvents(e *EventsConfig) []error {
	if e.WebsocketURL == "" {
		return nil
	}

	if err := validateURL(e.WebsocketURL, "ws", "wss"); err != nil {
		return []error{fmt.Errorf("events.websocket_url: %w", err)}
	}

	return nil
}

func validateRange(field string, v, lo, hi int) []error {
	if v < lo || v > hi {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", field, lo, hi, v)}
	}

	return nil
}

func validateOneOf(field, v string, valid []string) []error {
	for _, s := range valid {
		if v == s {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be one of %v, got %q", field, valid, v)}
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, value)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must not be negative, got %s", field, value)}
	}

	return nil
}
