// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for deckup. Values are layered in four
// steps: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Upload  UploadConfig  `toml:"upload"`
	State   StateConfig   `toml:"state"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
	Events  EventsConfig  `toml:"events"`
}

// ServerConfig locates the presentation backend's upload endpoints.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// UploadConfig controls chunking, concurrency, and retry of uploads.
// Sizes accept SI and IEC suffixes ("5MiB", "50MB"); delays are Go durations.
type UploadConfig struct {
	ChunkSize           string   `toml:"chunk_size"`
	MaxConcurrentChunks int      `toml:"max_concurrent_chunks"`
	RetryAttempts       int      `toml:"retry_attempts"`
	RetryDelay          string   `toml:"retry_delay"`
	RetryBackoff        string   `toml:"retry_backoff"`
	ResumeCheckAttempts int      `toml:"resume_check_attempts"`
	AllowedTypes        []string `toml:"allowed_types"`
	MaxFileSize         string   `toml:"max_file_size"`
	WatchSource         bool     `toml:"watch_source"`
}

// StateConfig selects where resumable upload records are kept.
type StateConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	RecordTTL string `toml:"record_ttl"`
}

// LoggingConfig controls log level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	MaxRetries     int    `toml:"max_retries"`
}

// EventsConfig configures the optional websocket event feed.
type EventsConfig struct {
	WebsocketURL string `toml:"websocket_url"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath  string  // --config flag (empty = use default)
	ServerURL   *string // --server
	StateDir    *string // --state-dir
	ChunkSize   *string // --chunk-size
	Concurrency *int    // --concurrency
	WatchSource *bool   // --watch
	EventsURL   *string // --events-url
}
