package audio

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// Safe baseline used when a requested configuration cannot be opened or persisted.
const (
	BaselineSampleRate  = 44100
	BaselineBitDepth    = 16
	BaselineChannels    = 1
	BaselineChunkFrames = 1024
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Format is the active capture format plus the segment length it is sliced into.
type Format struct {
	SampleRate     int     `validate:"gt=0"`
	BitDepth       int     `validate:"oneof=16 24 32"`
	Channels       int     `validate:"oneof=1 2"`
	ChunkFrames    int     `validate:"gt=0"`
	SegmentSeconds float64 `validate:"gt=0"`
}

// DefaultFormat returns 44.1 kHz, 16-bit mono in 1024-frame chunks and 30 s segments.
func DefaultFormat() Format {
	return Format{
		SampleRate:     BaselineSampleRate,
		BitDepth:       BaselineBitDepth,
		Channels:       BaselineChannels,
		ChunkFrames:    BaselineChunkFrames,
		SegmentSeconds: 30,
	}
}

// Validate checks field ranges and that at least one chunk fits in a segment.
func (f Format) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid audio format: %w", err)
	}
	if f.rawChunks() < 1 {
		return fmt.Errorf("invalid audio format: segment of %.2fs holds no %d-frame chunk at %d Hz",
			f.SegmentSeconds, f.ChunkFrames, f.SampleRate)
	}
	return nil
}

// Baseline returns the safe 44.1 kHz/16-bit/mono/1024 format, keeping the segment length.
func (f Format) Baseline() Format {
	return Format{
		SampleRate:     BaselineSampleRate,
		BitDepth:       BaselineBitDepth,
		Channels:       BaselineChannels,
		ChunkFrames:    BaselineChunkFrames,
		SegmentSeconds: f.SegmentSeconds,
	}
}

func (f Format) rawChunks() int {
	if f.ChunkFrames <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return int(math.Round(float64(f.SampleRate) / float64(f.ChunkFrames) * f.SegmentSeconds))
}

// ChunksNeeded is round(rate / chunk * seconds), never less than one.
func (f Format) ChunksNeeded() int {
	return max(f.rawChunks(), 1)
}

// SampleWidth is the size of one sample in bytes.
func (f Format) SampleWidth() int {
	return f.BitDepth / 8
}

// FrameBytes is the size of one interleaved frame in bytes.
func (f Format) FrameBytes() int {
	return f.SampleWidth() * f.Channels
}

// ChunkBytes is the size of one full chunk in bytes.
func (f Format) ChunkBytes() int {
	return f.ChunkFrames * f.FrameBytes()
}

// ChunkDuration is the wall-clock length of one chunk.
func (f Format) ChunkDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.ChunkFrames) * time.Second / time.Duration(f.SampleRate)
}

// SegmentDuration is the configured segment length.
func (f Format) SegmentDuration() time.Duration {
	return time.Duration(f.SegmentSeconds * float64(time.Second))
}

func (f Format) String() string {
	mode := "Mono"
	if f.Channels == 2 {
		mode = "Stereo"
	}
	return fmt.Sprintf("%dHz, %dbit, %s", f.SampleRate, f.BitDepth, mode)
}

// ChunkFramesForRate picks a buffer size that keeps the chunk rate reasonable at high sample rates.
func ChunkFramesForRate(rate int) int {
	switch {
	case rate >= 96000:
		return 4096
	case rate >= 48000:
		return 2048
	default:
		return 1024
	}
}

func (f Format) streamParams(device int) StreamParams {
	return StreamParams{
		Device:          device,
		SampleRate:      f.SampleRate,
		BitDepth:        f.BitDepth,
		Channels:        f.Channels,
		FramesPerBuffer: f.ChunkFrames,
	}
}

// Threshold is the keep/discard level and the range it may be set within.
type Threshold struct {
	DB    float64
	MinDB float64
	MaxDB float64
}

// DefaultThreshold returns -40 dB within [-60, 0].
func DefaultThreshold() Threshold {
	return Threshold{DB: -40, MinDB: MinDB, MaxDB: 0}
}

// Normalize orders the bounds and clamps DB into them.
func (t Threshold) Normalize() Threshold {
	if t.MinDB > t.MaxDB {
		t.MinDB, t.MaxDB = t.MaxDB, t.MinDB
	}
	t.DB = t.Clamp(t.DB)
	return t
}

// Clamp limits db to [MinDB, MaxDB].
func (t Threshold) Clamp(db float64) float64 {
	return min(max(db, t.MinDB), t.MaxDB)
}

// Keep reports whether a segment peaking at peakDB is retained.
func (t Threshold) Keep(peakDB float64) bool {
	return peakDB >= t.DB
}
