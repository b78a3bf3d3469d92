package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
)

// DefaultFilenameFormat names files after the segment start time.
const DefaultFilenameFormat = "grabacion_%Y%m%d_%H%M%S.wav"

// Store writes segments into one output directory.
type Store struct {
	dir      string
	template string
	log      zerolog.Logger
}

// New creates a store. The directory is created on first save.
func New(dir, template string, log zerolog.Logger) *Store {
	if template == "" {
		template = DefaultFilenameFormat
	}
	return &Store{dir: dir, template: template, log: log}
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes frames for a segment that started at startedAt.
func (s *Store) Save(frames [][]byte, f audio.Format, startedAt time.Time) (Written, error) {
	path, err := s.path(startedAt)
	if err != nil {
		return Written{}, &PersistError{Path: s.dir, Primary: err, Fallback: errors.New("not attempted")}
	}

	written, err := Write(path, frames, f)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Recording lost")
		return Written{}, err
	}

	if written.FallbackCause != nil {
		s.log.Warn().Err(written.FallbackCause).Str("path", path).Str("format", written.Format.String()).Msg("Recording saved with baseline format")
	} else {
		s.log.Info().Str("path", path).Int64("bytes", written.Bytes).Str("format", f.String()).Msg("Recording saved")
	}
	return written, nil
}

func (s *Store) path(t time.Time) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	name, err := Filename(s.template, t)
	if err != nil {
		return "", err
	}
	return uniquePath(filepath.Join(s.dir, name)), nil
}

// Filename expands a strftime template. Directory components are stripped and
// a .wav extension is added when missing.
func Filename(template string, t time.Time) (string, error) {
	name, err := strftime.Format(template, t)
	if err != nil {
		return "", fmt.Errorf("invalid filename format %q: %w", template, err)
	}

	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("filename format %q produced an empty name", template)
	}
	if filepath.Ext(name) == "" {
		name += ".wav"
	}
	return name, nil
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
