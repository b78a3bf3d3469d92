package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// NewWithLevel creates a logger at the given level writing to the log file and,
// when console is set, to stderr. The terminal UI owns stderr and passes false.
// If the log file cannot be opened the logger still works and the error is
// returned for the caller to report.
func NewWithLevel(level string, console bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	logPath := Path()
	var fileErr error
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		fileErr = fmt.Errorf("create log directory: %w", err)
	} else if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err != nil {
		fileErr = fmt.Errorf("open log file: %w", err)
	} else {
		writers = append(writers, f)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger(), fileErr
}

// Path returns platform-specific log file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "loudkeep", "loudkeep.log")
}
