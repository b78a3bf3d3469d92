package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// number is a scalar that tolerates units, comments and quotes.
type number struct {
	raw string
	set bool
}

func (n *number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n.raw = node.Value
		n.set = true
	}
	return nil
}

// text is a scalar string with surrounding quotes stripped.
type text struct {
	value string
	set   bool
}

func (t *text) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.value = Unquote(node.Value)
		t.set = true
	}
	return nil
}

// document mirrors Config with lenient field types.
type document struct {
	Audio struct {
		SampleRate     number `yaml:"sample_rate"`
		Channels       number `yaml:"channels"`
		BitDepth       number `yaml:"bit_depth"`
		ChunkSize      number `yaml:"chunk_size"`
		SegmentSeconds number `yaml:"segment_seconds"`
		Device         number `yaml:"device"`
	} `yaml:"audio"`
	Threshold struct {
		DefaultDB number `yaml:"default_db"`
		MinDB     number `yaml:"min_db"`
		MaxDB     number `yaml:"max_db"`
	} `yaml:"threshold"`
	Storage struct {
		OutputDirectory text `yaml:"output_directory"`
		FilenameFormat  text `yaml:"filename_format"`
	} `yaml:"storage"`
	Display struct {
		UpdateIntervalMS number `yaml:"update_interval_ms"`
		MinDisplayDB     number `yaml:"min_display_db"`
	} `yaml:"display"`
	Recording struct {
		PauseMS number `yaml:"pause_ms"`
	} `yaml:"recording"`
	S3 struct {
		Bucket          text `yaml:"bucket"`
		Prefix          text `yaml:"prefix"`
		Endpoint        text `yaml:"endpoint"`
		Region          text `yaml:"region"`
		AccessKeyID     text `yaml:"access_key_id"`
		SecretAccessKey text `yaml:"secret_access_key"`
	} `yaml:"s3"`
	Server struct {
		Listen text `yaml:"listen"`
	} `yaml:"server"`
	LogLevel text `yaml:"log_level"`
}

// resolver applies one field at a time and records rejected values.
type resolver struct {
	problems []string
}

func (r *resolver) floatField(name string, n number, tag string, def float64) float64 {
	if !n.set {
		return def
	}
	v, ok := ParseNumber(n.raw)
	if !ok || (tag != "" && validate.Var(v, tag) != nil) {
		r.problems = append(r.problems, fmt.Sprintf("%s: invalid value %q, using %v", name, n.raw, def))
		return def
	}
	return v
}

func (r *resolver) intField(name string, n number, tag string, def int) int {
	if !n.set {
		return def
	}
	f, ok := ParseNumber(n.raw)
	v := int(f)
	if !ok || (tag != "" && validate.Var(v, tag) != nil) {
		r.problems = append(r.problems, fmt.Sprintf("%s: invalid value %q, using %d", name, n.raw, def))
		return def
	}
	return v
}

func (r *resolver) textField(t text, def string) string {
	if !t.set || t.value == "" {
		return def
	}
	return t.value
}

func (d document) resolve() *Config {
	cfg := Default()
	r := &resolver{}

	a := &cfg.Audio
	a.SampleRate = r.intField("audio.sample_rate", d.Audio.SampleRate, "gte=8000,lte=384000", a.SampleRate)
	a.Channels = r.intField("audio.channels", d.Audio.Channels, "oneof=1 2", a.Channels)
	a.BitDepth = r.intField("audio.bit_depth", d.Audio.BitDepth, "oneof=16 24 32", a.BitDepth)
	a.ChunkSize = r.intField("audio.chunk_size", d.Audio.ChunkSize, "gt=0", a.ChunkSize)
	a.SegmentSeconds = r.floatField("audio.segment_seconds", d.Audio.SegmentSeconds, "gt=0", a.SegmentSeconds)
	a.Device = r.intField("audio.device", d.Audio.Device, "gte=-1", a.Device)

	if err := cfg.Format().Validate(); err != nil {
		r.problems = append(r.problems, fmt.Sprintf("audio: %v, using defaults", err))
		def := Default().Audio
		def.Device = a.Device
		cfg.Audio = def
	}

	th := &cfg.Thresholds
	th.MinDB = r.floatField("threshold.min_db", d.Threshold.MinDB, "", th.MinDB)
	th.MaxDB = r.floatField("threshold.max_db", d.Threshold.MaxDB, "", th.MaxDB)
	th.DefaultDB = r.floatField("threshold.default_db", d.Threshold.DefaultDB, "", th.DefaultDB)
	cfg.SetThreshold(cfg.Threshold().Normalize())

	cfg.Storage.OutputDirectory = r.textField(d.Storage.OutputDirectory, cfg.Storage.OutputDirectory)
	cfg.Storage.FilenameFormat = r.textField(d.Storage.FilenameFormat, cfg.Storage.FilenameFormat)

	cfg.Display.UpdateIntervalMS = r.intField("display.update_interval_ms", d.Display.UpdateIntervalMS, "gte=10,lte=5000", cfg.Display.UpdateIntervalMS)
	cfg.Display.MinDisplayDB = r.floatField("display.min_display_db", d.Display.MinDisplayDB, "lt=0", cfg.Display.MinDisplayDB)
	cfg.Recording.PauseMS = r.intField("recording.pause_ms", d.Recording.PauseMS, "gte=0", cfg.Recording.PauseMS)

	cfg.S3 = S3Config{
		Bucket:          r.textField(d.S3.Bucket, ""),
		Prefix:          r.textField(d.S3.Prefix, ""),
		Endpoint:        r.textField(d.S3.Endpoint, ""),
		Region:          r.textField(d.S3.Region, ""),
		AccessKeyID:     r.textField(d.S3.AccessKeyID, ""),
		SecretAccessKey: r.textField(d.S3.SecretAccessKey, ""),
	}
	cfg.Server.Listen = r.textField(d.Server.Listen, "")
	cfg.LogLevel = r.textField(d.LogLevel, cfg.LogLevel)

	cfg.Problems = r.problems
	return cfg
}
