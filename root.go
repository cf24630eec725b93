package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/slidelens/deckup/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServer     string
	flagStateDir   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deckup",
		Short:   "Resumable presentation uploads",
		Long:    "Upload presentations and documents in chunks, resuming interrupted uploads where they left off.",
		Version: version,
		// Errors are printed by main together with the exit code.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServer, "server", "", "upload endpoint base URL")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "directory for resumable upload records")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newDevServerCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands. Only flags the
// user explicitly set override lower layers.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	flags := cmd.Flags()

	if flags.Changed("server") {
		cli.ServerURL = &flagServer
	}

	if flags.Changed("state-dir") {
		cli.StateDir = &flagStateDir
	}

	if flags.Changed("chunk-size") {
		cli.ChunkSize = &flagChunkSize
	}

	if flags.Changed("concurrency") {
		cli.Concurrency = &flagConcurrency
	}

	if flags.Changed("watch") {
		cli.WatchSource = &flagWatch
	}

	if flags.Changed("events-url") {
		cli.EventsURL = &flagEventsURL
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// configSource names the file the effective config was read from.
func configSource() string {
	path := flagConfigPath
	if path == "" {
		path = config.ReadEnvOverrides().ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err != nil {
		return ""
	}

	return path
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. The config level is the baseline; --verbose and --quiet win.
// The returned func closes the log file, if one was opened.
func buildLogger() (*slog.Logger, func()) {
	level := slog.LevelInfo
	format := "auto"
	logFile := ""

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
		logFile = resolvedCfg.Logging.LogFile
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	var (
		w        io.Writer = os.Stderr
		closeLog           = func() {}
	)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", logFile, err)
		} else {
			w = f
			closeLog = func() { f.Close() }
		}
	}

	return slog.New(newLogHandler(w, format, level)), closeLog
}

// newLogHandler picks text output for terminals and JSON otherwise when
// format is "auto".
func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format != "text" && !isTerminal(w)) {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient builds the client used for every backend request. There is
// no overall timeout: chunk bodies can take long, so only connection setup
// and the wait for response headers are bounded.
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	connect, data, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = data

	return &http.Client{Transport: transport}, nil
}
