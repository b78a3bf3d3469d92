package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/petems/loudkeep/internal/audio"
)

// tone builds n chunks of a repeating ramp for the given format.
func tone(f audio.Format, n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		chunk := make([]byte, f.ChunkBytes())
		for j := range chunk {
			chunk[j] = byte((i*31 + j*7) % 251)
		}
		frames[i] = chunk
	}
	return frames
}

func TestWriteRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format audio.Format
	}{
		{"16-bit mono 44.1k", audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 1, ChunkFrames: 1024, SegmentSeconds: 1}},
		{"24-bit stereo 48k", audio.Format{SampleRate: 48000, BitDepth: 24, Channels: 2, ChunkFrames: 2048, SegmentSeconds: 1}},
		{"32-bit mono 96k", audio.Format{SampleRate: 96000, BitDepth: 32, Channels: 1, ChunkFrames: 4096, SegmentSeconds: 1}},
		{"32-bit stereo 22.05k", audio.Format{SampleRate: 22050, BitDepth: 32, Channels: 2, ChunkFrames: 512, SegmentSeconds: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "segment.wav")
			frames := tone(tt.format, 3)

			written, err := Write(path, frames, tt.format)
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if written.FallbackCause != nil {
				t.Fatalf("unexpected fallback: %v", written.FallbackCause)
			}
			if written.Bytes <= MinFileSize {
				t.Fatalf("expected more than %d bytes, got %d", MinFileSize, written.Bytes)
			}

			h, err := ReadHeader(path)
			if err != nil {
				t.Fatalf("read header: %v", err)
			}
			if h.Channels != tt.format.Channels || h.BitDepth != tt.format.BitDepth || h.SampleRate != tt.format.SampleRate {
				t.Fatalf("header %+v does not match format %+v", h, tt.format)
			}

			frameCount := int64(3 * tt.format.ChunkFrames)
			wantPayload := frameCount * int64(tt.format.Channels) * int64(tt.format.BitDepth/8)
			if h.PayloadBytes != wantPayload {
				t.Fatalf("expected payload %d, got %d", wantPayload, h.PayloadBytes)
			}
			if h.Frames() != frameCount {
				t.Fatalf("expected %d frames, got %d", frameCount, h.Frames())
			}

			if _, err := os.Stat(path + partialSuffix); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("partial file left behind: %v", err)
			}
		})
	}
}

func TestWriteFallsBackToBaseline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.wav")
	bad := audio.Format{SampleRate: 44100, BitDepth: 12, Channels: 2, ChunkFrames: 1024, SegmentSeconds: 1}
	frames := [][]byte{make([]byte, 4096), make([]byte, 4096)}
	frames[0][0] = 1

	written, err := Write(path, frames, bad)
	if err != nil {
		t.Fatalf("baseline fallback should succeed: %v", err)
	}
	if written.FallbackCause == nil {
		t.Fatal("expected the fallback cause to be reported")
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.Channels != 1 || h.BitDepth != 16 || h.SampleRate != 44100 {
		t.Fatalf("expected baseline header, got %+v", h)
	}
	if h.PayloadBytes != 8192 {
		t.Fatalf("expected the same 8192 bytes reused, got %d", h.PayloadBytes)
	}
}

func TestWriteReportsBothFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "segment.wav")
	f := audio.DefaultFormat()

	_, err := Write(path, tone(f, 1), f)
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("expected ErrPersistFailed, got %v", err)
	}

	var perr *PersistError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PersistError, got %T", err)
	}
	if perr.Primary == nil || perr.Fallback == nil {
		t.Fatalf("expected both errors to be recorded: %+v", perr)
	}
}

func TestWriteRejectsEmptyPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.wav")

	_, err := Write(path, nil, audio.DefaultFormat())
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("expected ErrPersistFailed for an empty segment, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no file should exist at the final path: %v", err)
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.wav")
	if err := os.WriteFile(path, []byte("definitely not a riff file"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Fatal("expected an error for a non-WAV file")
	}
}

func TestVerifyReopensHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.wav")
	f := audio.Format{SampleRate: 8000, BitDepth: 16, Channels: 1, ChunkFrames: 800, SegmentSeconds: 0.5}
	if _, err := Write(path, tone(f, 2), f); err != nil {
		t.Fatalf("write: %v", err)
	}

	size, err := verify(path, f)
	if err != nil {
		t.Fatalf("a freshly written file should verify: %v", err)
	}
	if size != MinFileSize+3200 {
		t.Errorf("expected %d bytes, got %d", MinFileSize+3200, size)
	}

	stereo := f
	stereo.Channels = 2
	if _, err := verify(path, stereo); err == nil {
		t.Error("a header that disagrees with the format must fail verification")
	}

	if err := os.WriteFile(path, make([]byte, 200), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := verify(path, f); err == nil {
		t.Error("a file without a RIFF header must fail verification")
	}
}
