// Package logs provides the logging facility shared by bootimg packages.
// Output goes to stderr by default so that stdout stays free for command
// results, with optional routing to systemd journald on CI hosts.
package logs

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// LogOutput defines the output destination for logs
type LogOutput string

const (
	// OutputStderr sends logs to standard error
	OutputStderr LogOutput = "stderr"
	// OutputStdout sends logs to standard output
	OutputStdout LogOutput = "stdout"
	// OutputJournald sends logs to systemd journald
	OutputJournald LogOutput = "journald"
	// OutputAuto selects journald when running under systemd, otherwise stderr
	OutputAuto LogOutput = "auto"
)

// Logger wraps the charm log.Logger with the resolved output destination
type Logger struct {
	*log.Logger
	output LogOutput
}

// Config holds the configuration for the logger
type Config struct {
	// Output specifies where logs should be sent (stderr, stdout, journald, auto)
	Output LogOutput
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Prefix sets a prefix for all log messages
	Prefix string
	// Writer overrides Output when set. Used by tests.
	Writer io.Writer
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Output: OutputStderr,
		Level:  "info",
	}
}

// journaldAvailable reports whether we were started by systemd and can
// reach journald through systemd-cat.
func journaldAvailable() bool {
	if os.Getenv("JOURNAL_STREAM") == "" && os.Getenv("INVOCATION_ID") == "" {
		return false
	}
	if _, err := exec.LookPath("systemd-cat"); err != nil {
		return false
	}
	_, err := os.Stat("/run/systemd/journal/socket")
	return err == nil
}

// ParseLevel converts a string level to log.Level. Unknown values map to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates a new Logger with the given configuration
func New(cfg Config) *Logger {
	writer, output := resolveOutput(cfg)

	logger := log.NewWithOptions(writer, log.Options{
		Level:           ParseLevel(cfg.Level),
		Prefix:          cfg.Prefix,
		ReportTimestamp: output != OutputJournald,
	})

	return &Logger{
		Logger: logger,
		output: output,
	}
}

func resolveOutput(cfg Config) (io.Writer, LogOutput) {
	if cfg.Writer != nil {
		return cfg.Writer, cfg.Output
	}
	switch cfg.Output {
	case OutputStdout:
		return os.Stdout, OutputStdout
	case OutputJournald, OutputAuto:
		if journaldAvailable() {
			return newJournaldWriter("bootimg"), OutputJournald
		}
		return os.Stderr, OutputStderr
	default:
		return os.Stderr, OutputStderr
	}
}

// NewDefault creates a new Logger with default configuration
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Config{Writer: io.Discard, Level: "error"})
}

// Output returns the current output destination
func (l *Logger) Output() LogOutput {
	return l.output
}

// journaldWriter pipes each log line through systemd-cat
type journaldWriter struct {
	identifier string
}

func newJournaldWriter(identifier string) *journaldWriter {
	return &journaldWriter{identifier: identifier}
}

// Write implements io.Writer. It falls back to stderr if systemd-cat
// cannot be started.
func (w *journaldWriter) Write(p []byte) (int, error) {
	cmd := exec.Command("systemd-cat", "-t", w.identifier)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return os.Stderr.Write(p)
	}
	if err := cmd.Start(); err != nil {
		return os.Stderr.Write(p)
	}

	n, err := stdin.Write(p)
	stdin.Close()
	_ = cmd.Wait()

	return n, err
}
