package upload

import (
	"time"

	"github.com/slidelens/deckup/internal/chunk"
	"github.com/slidelens/deckup/internal/state"
)

// Backoff selects how the delay between chunk attempts grows.
type Backoff string

// Supported backoff strategies.
const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultMaxConcurrentChunks = 3
	DefaultRetryAttempts       = 3
	DefaultRetryDelay          = 2 * time.Second
	DefaultResumeCheckAttempts = 2
	DefaultMaxFileSize         = 50 * 1000 * 1000
)

// maxExponentialDelay caps exponential backoff.
const maxExponentialDelay = 60 * time.Second

// DefaultAllowedTypes are the presentation and document formats the backend
// accepts.
var DefaultAllowedTypes = []string{
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.ms-powerpoint",
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Hooks are optional caller sinks. They run on the upload's goroutines and
// must not block for long.
type Hooks struct {
	OnProgress func(percent int)
	OnError    func(err error)
	OnEvent    func(ev Event)
}

// Options configures an Orchestrator.
type Options struct {
	ChunkSize           int64
	MaxConcurrentChunks int
	RetryAttempts       int
	RetryDelay          time.Duration
	Backoff             Backoff

	// ResumeCheckAttempts bounds liveness checks that fail inconclusively
	// (network, 5xx) before a persisted session is abandoned.
	ResumeCheckAttempts int

	// AllowedTypes are MIME type globs ("application/pdf",
	// "application/vnd.openxmlformats-officedocument.*") or filename globs
	// ("*.pptx"). Empty allows everything.
	AllowedTypes []string

	// MaxFileSize in bytes; 0 means unlimited.
	MaxFileSize int64

	RecordTTL time.Duration

	// WatchSource cancels the upload with ErrSourceChanged when the source
	// file is modified. Only applies to sources with a Path.
	WatchSource bool

	Hooks Hooks
}

// DefaultOptions returns the documented defaults, including the default type
// allow-list and size limit.
func DefaultOptions() Options {
	return Options{
		ChunkSize:           chunk.DefaultSize,
		MaxConcurrentChunks: DefaultMaxConcurrentChunks,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		Backoff:             BackoffFixed,
		ResumeCheckAttempts: DefaultResumeCheckAttempts,
		AllowedTypes:        DefaultAllowedTypes,
		MaxFileSize:         DefaultMaxFileSize,
		RecordTTL:           state.DefaultTTL,
	}
}

// withDefaults fills numeric zero values. AllowedTypes and MaxFileSize keep
// their zero meaning (no restriction).
func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunk.DefaultSize
	}

	if o.MaxConcurrentChunks <= 0 {
		o.MaxConcurrentChunks = DefaultMaxConcurrentChunks
	}

	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}

	switch {
	case o.RetryDelay == 0:
		o.RetryDelay = DefaultRetryDelay
	case o.RetryDelay < 0: // explicit "no delay"
		o.RetryDelay = 0
	}

	if o.Backoff == "" {
		o.Backoff = BackoffFixed
	}

	if o.ResumeCheckAttempts <= 0 {
		o.ResumeCheckAttempts = DefaultResumeCheckAttempts
	}

	if o.RecordTTL <= 0 {
		o.RecordTTL = state.DefaultTTL
	}

	return o
}
