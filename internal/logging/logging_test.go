package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithLevelWritesFile(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("log path override uses XDG_STATE_HOME")
	}
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	logger, err := NewWithLevel("warn", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", logger.GetLevel())
	}

	logger.Info().Msg("hidden")
	logger.Warn().Msg("visible")

	data, err := os.ReadFile(filepath.Join(dir, "loudkeep", "loudkeep.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "visible") {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

func TestNewWithLevelUnknownLevel(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("log path override uses XDG_STATE_HOME")
	}
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	logger, _ := NewWithLevel("chatty", false)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
}
