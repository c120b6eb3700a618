// Package logging configures charmbracelet/log for the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

// Options controls Setup.
type Options struct {
	// Level is a charmbracelet/log level name; empty means info.
	Level string
	// Debug forces debug level and a log file.
	Debug bool
	// File, if set, receives the log instead of Output.
	File string
	// Output is used when no file is configured (defaults to stderr).
	Output io.Writer
}

// DefaultFile returns the log file used in debug mode.
func DefaultFile(app string) (string, error) {
	dir, err := gap.NewScope(gap.User, app).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, app+".log"), nil
}

// Setup configures the default logger and returns a func closing any file
// it opened.
func Setup(app string, opts Options) (func() error, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}
	if opts.Debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	path := opts.File
	if path == "" && opts.Debug {
		p, err := DefaultFile(app)
		if err != nil {
			return nil, err
		}
		path = p
	}
	if path == "" {
		log.SetOutput(out)
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.RFC3339)
	log.Debug("Logging to file", "path", path, "level", level)
	return f.Close, nil
}

// New returns a logger for a component, tagged with its name.
func New(component string) *log.Logger {
	return log.Default().WithPrefix(component)
}
