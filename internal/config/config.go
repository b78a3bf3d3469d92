package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/storage"
)

type Config struct {
	Audio      AudioConfig     `yaml:"audio"`
	Thresholds ThresholdConfig `yaml:"threshold"`
	Storage    StorageConfig   `yaml:"storage"`
	Display    DisplayConfig   `yaml:"display"`
	Recording  RecordingConfig `yaml:"recording"`
	S3         S3Config        `yaml:"s3"`
	Server     ServerConfig    `yaml:"server"`
	LogLevel   string          `yaml:"log_level"`

	// Problems lists values that were ignored in favour of defaults.
	Problems []string `yaml:"-"`

	path string
}

type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	BitDepth       int     `yaml:"bit_depth"`
	ChunkSize      int     `yaml:"chunk_size"`
	SegmentSeconds float64 `yaml:"segment_seconds"`
	Device         int     `yaml:"device"` // -1 is the system default
}

type ThresholdConfig struct {
	DefaultDB float64 `yaml:"default_db"`
	MinDB     float64 `yaml:"min_db"`
	MaxDB     float64 `yaml:"max_db"`
}

type StorageConfig struct {
	OutputDirectory string `yaml:"output_directory"`
	FilenameFormat  string `yaml:"filename_format"`
}

type DisplayConfig struct {
	UpdateIntervalMS int     `yaml:"update_interval_ms"`
	MinDisplayDB     float64 `yaml:"min_display_db"`
}

type RecordingConfig struct {
	PauseMS int `yaml:"pause_ms"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Enabled reports whether kept files should be mirrored to a bucket.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the documented defaults.
func Default() *Config {
	f := audio.DefaultFormat()
	t := audio.DefaultThreshold()
	return &Config{
		Audio: AudioConfig{
			SampleRate:     f.SampleRate,
			Channels:       f.Channels,
			BitDepth:       f.BitDepth,
			ChunkSize:      f.ChunkFrames,
			SegmentSeconds: f.SegmentSeconds,
			Device:         audio.DefaultDevice,
		},
		Thresholds: ThresholdConfig{DefaultDB: t.DB, MinDB: t.MinDB, MaxDB: t.MaxDB},
		Storage: StorageConfig{
			OutputDirectory: "grabaciones",
			FilenameFormat:  storage.DefaultFilenameFormat,
		},
		Display:   DisplayConfig{UpdateIntervalMS: 100, MinDisplayDB: audio.MinDB},
		Recording: RecordingConfig{PauseMS: 3000},
		LogLevel:  "info",
	}
}

// Load reads the config at path, or DefaultPath when path is empty. A missing
// file yields defaults. The returned config is always usable; a non-nil error
// reports a file that could not be read or parsed.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	f, err := os.Open(path)
	if err != nil {
		cfg := Default()
		cfg.path = path
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	cfg.path = path
	return cfg, err
}

// LoadFromReader decodes a YAML document. Malformed field values fall back to
// their defaults and are listed in Problems.
func LoadFromReader(r io.Reader) (*Config, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	return doc.resolve(), nil
}

// Path returns where Save writes.
func (c *Config) Path() string {
	if c.path == "" {
		return DefaultPath()
	}
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Format returns the audio format described by the config.
func (c *Config) Format() audio.Format {
	return audio.Format{
		SampleRate:     c.Audio.SampleRate,
		BitDepth:       c.Audio.BitDepth,
		Channels:       c.Audio.Channels,
		ChunkFrames:    c.Audio.ChunkSize,
		SegmentSeconds: c.Audio.SegmentSeconds,
	}
}

// SetFormat stores f, leaving the device untouched.
func (c *Config) SetFormat(f audio.Format) {
	c.Audio.SampleRate = f.SampleRate
	c.Audio.BitDepth = f.BitDepth
	c.Audio.Channels = f.Channels
	c.Audio.ChunkSize = f.ChunkFrames
	c.Audio.SegmentSeconds = f.SegmentSeconds
}

func (c *Config) Threshold() audio.Threshold {
	return audio.Threshold{DB: c.Thresholds.DefaultDB, MinDB: c.Thresholds.MinDB, MaxDB: c.Thresholds.MaxDB}
}

func (c *Config) SetThreshold(t audio.Threshold) {
	c.Thresholds = ThresholdConfig{DefaultDB: t.DB, MinDB: t.MinDB, MaxDB: t.MaxDB}
}

func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Display.UpdateIntervalMS) * time.Millisecond
}

func (c *Config) Pause() time.Duration {
	return time.Duration(c.Recording.PauseMS) * time.Millisecond
}

// DefaultPath returns the platform-specific config file path
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "loudkeep", "config.yaml")
}

var leadingNumber = regexp.MustCompile(`-?\d+\.?\d*`)

// ParseNumber extracts the first numeric token from a possibly dirty value,
// so "44100 Hz" and "'30'" both parse.
func ParseNumber(s string) (float64, bool) {
	tok := leadingNumber.FindString(s)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Unquote trims whitespace and one layer of matching quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
