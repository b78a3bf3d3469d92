package audio

import (
	"testing"
	"time"
)

func TestChunksNeeded(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		want   int
	}{
		{"44.1k 1s", Format{SampleRate: 44100, ChunkFrames: 1024, SegmentSeconds: 1}, 43},
		{"44.1k 30s", Format{SampleRate: 44100, ChunkFrames: 1024, SegmentSeconds: 30}, 1292},
		{"48k 2048 10s", Format{SampleRate: 48000, ChunkFrames: 2048, SegmentSeconds: 10}, 234},
		{"rounds up", Format{SampleRate: 1000, ChunkFrames: 300, SegmentSeconds: 1}, 3},
		{"at least one", Format{SampleRate: 8000, ChunkFrames: 4096, SegmentSeconds: 0.1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.ChunksNeeded(); got != tt.want {
				t.Fatalf("expected %d chunks, got %d", tt.want, got)
			}
		})
	}
}

func TestFormatValidate(t *testing.T) {
	valid := DefaultFormat()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default format should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(f *Format)
	}{
		{"bit depth", func(f *Format) { f.BitDepth = 8 }},
		{"channels", func(f *Format) { f.Channels = 6 }},
		{"rate", func(f *Format) { f.SampleRate = 0 }},
		{"chunk", func(f *Format) { f.ChunkFrames = -1 }},
		{"segment", func(f *Format) { f.SegmentSeconds = 0 }},
		{"segment shorter than a chunk", func(f *Format) { f.SegmentSeconds = 0.001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFormat()
			tt.mutate(&f)
			if err := f.Validate(); err == nil {
				t.Fatalf("expected validation error for %+v", f)
			}
		})
	}
}

func TestFormatSizes(t *testing.T) {
	f := Format{SampleRate: 48000, BitDepth: 24, Channels: 2, ChunkFrames: 480, SegmentSeconds: 2.5}

	if got := f.SampleWidth(); got != 3 {
		t.Errorf("sample width: expected 3, got %d", got)
	}
	if got := f.FrameBytes(); got != 6 {
		t.Errorf("frame bytes: expected 6, got %d", got)
	}
	if got := f.ChunkBytes(); got != 2880 {
		t.Errorf("chunk bytes: expected 2880, got %d", got)
	}
	if got := f.ChunkDuration(); got != 10*time.Millisecond {
		t.Errorf("chunk duration: expected 10ms, got %v", got)
	}
	if got := f.SegmentDuration(); got != 2500*time.Millisecond {
		t.Errorf("segment duration: expected 2.5s, got %v", got)
	}
	if got := f.String(); got != "48000Hz, 24bit, Stereo" {
		t.Errorf("unexpected string %q", got)
	}
}

func TestBaselineKeepsSegmentLength(t *testing.T) {
	f := Format{SampleRate: 96000, BitDepth: 32, Channels: 2, ChunkFrames: 4096, SegmentSeconds: 12}
	b := f.Baseline()

	want := Format{SampleRate: 44100, BitDepth: 16, Channels: 1, ChunkFrames: 1024, SegmentSeconds: 12}
	if b != want {
		t.Fatalf("expected %+v, got %+v", want, b)
	}
}

func TestChunkFramesForRate(t *testing.T) {
	tests := map[int]int{
		22050:  1024,
		44100:  1024,
		48000:  2048,
		88200:  2048,
		96000:  4096,
		192000: 4096,
	}
	for rate, want := range tests {
		if got := ChunkFramesForRate(rate); got != want {
			t.Errorf("rate %d: expected %d, got %d", rate, want, got)
		}
	}
}

func TestThresholdNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Threshold
		want Threshold
	}{
		{"in range", Threshold{DB: -40, MinDB: -60, MaxDB: 0}, Threshold{DB: -40, MinDB: -60, MaxDB: 0}},
		{"below min", Threshold{DB: -80, MinDB: -60, MaxDB: 0}, Threshold{DB: -60, MinDB: -60, MaxDB: 0}},
		{"above max", Threshold{DB: 6, MinDB: -60, MaxDB: 0}, Threshold{DB: 0, MinDB: -60, MaxDB: 0}},
		{"swapped bounds", Threshold{DB: -10, MinDB: 0, MaxDB: -60}, Threshold{DB: -10, MinDB: -60, MaxDB: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestThresholdKeepIsInclusive(t *testing.T) {
	th := Threshold{DB: -40, MinDB: -60, MaxDB: 0}
	if !th.Keep(-40) {
		t.Error("peak equal to threshold should be kept")
	}
	if th.Keep(-40.01) {
		t.Error("peak below threshold should be discarded")
	}
}
