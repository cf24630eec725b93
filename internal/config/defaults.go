package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultBaseURL             = "http://localhost:8000/api/presentations"
	defaultChunkSize           = "5MiB"
	defaultMaxConcurrentChunks = 3
	defaultRetryAttempts       = 3
	defaultRetryDelay          = "2s"
	defaultRetryBackoff        = "fixed"
	defaultResumeCheckAttempts = 2
	defaultMaxFileSize         = "50MB"
	defaultStateBackend        = "sqlite"
	defaultRecordTTL           = "24h"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultConnectTimeout      = "10s"
	defaultDataTimeout         = "60s"
	defaultMaxRetries          = 4
)

// defaultAllowedTypes mirrors upload.DefaultAllowedTypes. It is a separate
// slice so decoding a config file never aliases the package-level default.
func defaultAllowedTypes() []string {
	return []string{
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.ms-powerpoint",
		"application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{BaseURL: defaultBaseURL},
		Upload: UploadConfig{
			ChunkSize:           defaultChunkSize,
			MaxConcurrentChunks: defaultMaxConcurrentChunks,
			RetryAttempts:       defaultRetryAttempts,
			RetryDelay:          defaultRetryDelay,
			RetryBackoff:        defaultRetryBackoff,
			ResumeCheckAttempts: defaultResumeCheckAttempts,
			AllowedTypes:        defaultAllowedTypes(),
			MaxFileSize:         defaultMaxFileSize,
			WatchSource:         true,
		},
		State: StateConfig{
			Backend:   defaultStateBackend,
			RecordTTL: defaultRecordTTL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			MaxRetries:     defaultMaxRetries,
		},
	}
}
