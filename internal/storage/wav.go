// Package storage persists kept segments as WAV files.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/loudkeep/internal/audio"
)

// MinFileSize is the size of a canonical PCM WAV header. A file that is not
// larger than this holds no audio and counts as a failed write.
const MinFileSize = 44

const partialSuffix = ".partial"

// ErrPersistFailed is returned when neither the active nor the baseline format could be written.
var ErrPersistFailed = errors.New("could not persist segment")

// PersistError carries both the original and the fallback failure.
type PersistError struct {
	Path     string
	Primary  error
	Fallback error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v (baseline fallback: %v)", e.Path, e.Primary, e.Fallback)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistFailed, e.Primary, e.Fallback}
}

// Written describes a file that passed verification.
type Written struct {
	Path   string
	Bytes  int64
	Format audio.Format
	// FallbackCause is set when the active format failed and the baseline was written instead.
	FallbackCause error
}

// Header is what a WAV file reports about itself.
type Header struct {
	Channels     int
	BitDepth     int
	SampleRate   int
	PayloadBytes int64
}

// Frames is the number of interleaved frames in the payload.
func (h Header) Frames() int64 {
	frameBytes := int64(h.Channels * h.BitDepth / 8)
	if frameBytes == 0 {
		return 0
	}
	return h.PayloadBytes / frameBytes
}

// Write stores frames at path using format f. If that fails it retries once
// with the mono 16-bit 44.1 kHz baseline over the same bytes. The file only
// appears at path after it has been verified.
func Write(path string, frames [][]byte, f audio.Format) (Written, error) {
	n, err := writeVerified(path, frames, f)
	if err == nil {
		return Written{Path: path, Bytes: n, Format: f}, nil
	}

	base := f.Baseline()
	n, fallbackErr := writeVerified(path, frames, base)
	if fallbackErr == nil {
		return Written{Path: path, Bytes: n, Format: base, FallbackCause: err}, nil
	}

	return Written{}, &PersistError{Path: path, Primary: err, Fallback: fallbackErr}
}

func writeVerified(path string, frames [][]byte, f audio.Format) (int64, error) {
	tmp := path + partialSuffix
	if err := encode(tmp, frames, f); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	size, err := verify(tmp, f)
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return size, nil
}

// verify re-opens a written file and checks that its header describes f and
// that it holds audio beyond the header.
func verify(path string, f audio.Format) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("verify %s: %w", path, err)
	}
	if info.Size() <= MinFileSize {
		return 0, fmt.Errorf("verify %s: %d bytes is not larger than the %d byte header", path, info.Size(), MinFileSize)
	}

	h, err := ReadHeader(path)
	if err != nil {
		return 0, fmt.Errorf("verify: %w", err)
	}
	if h.SampleRate != f.SampleRate || h.BitDepth != f.BitDepth || h.Channels != f.Channels {
		return 0, fmt.Errorf("verify %s: header reads %d Hz %d-bit %d ch, expected %s",
			path, h.SampleRate, h.BitDepth, h.Channels, f)
	}
	if h.PayloadBytes <= 0 {
		return 0, fmt.Errorf("verify %s: no audio after the header", path)
	}
	return info.Size(), nil
}

func encode(path string, frames [][]byte, f audio.Format) error {
	if err := validateForWrite(f); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	enc := wav.NewEncoder(file, f.SampleRate, f.BitDepth, f.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		SourceBitDepth: f.BitDepth,
	}

	for _, chunk := range frames {
		buf.Data = samples(chunk, f.BitDepth, buf.Data[:0])
		if len(buf.Data) == 0 {
			continue
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize header: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return file.Close()
}

func validateForWrite(f audio.Format) error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	case f.Channels != 1 && f.Channels != 2:
		return fmt.Errorf("invalid channel count %d", f.Channels)
	case f.BitDepth != 16 && f.BitDepth != 24 && f.BitDepth != 32:
		return fmt.Errorf("invalid bit depth %d", f.BitDepth)
	}
	return nil
}

// samples decodes little-endian PCM into ints, dropping a trailing partial sample.
func samples(chunk []byte, bitDepth int, dst []int) []int {
	switch bitDepth {
	case 24:
		for i := 0; i+3 <= len(chunk); i += 3 {
			v := int32(chunk[i]) | int32(chunk[i+1])<<8 | int32(chunk[i+2])<<16
			if v >= 1<<23 {
				v -= 1 << 24
			}
			dst = append(dst, int(v))
		}
	case 32:
		for i := 0; i+4 <= len(chunk); i += 4 {
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(chunk[i:]))))
		}
	default:
		for i := 0; i+2 <= len(chunk); i += 2 {
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(chunk[i:]))))
		}
	}
	return dst
}

// ReadHeader opens a WAV file and reports its format and payload size.
func ReadHeader(path string) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if err := dec.FwdToPCM(); err != nil {
		return Header{}, fmt.Errorf("read header of %s: %w", path, err)
	}
	if dec.NumChans == 0 {
		return Header{}, fmt.Errorf("read header of %s: not a PCM WAV file", path)
	}

	return Header{
		Channels:     int(dec.NumChans),
		BitDepth:     int(dec.BitDepth),
		SampleRate:   int(dec.SampleRate),
		PayloadBytes: dec.PCMLen(),
	}, nil
}
