// Package audio captures PCM chunks from an input device and measures their loudness.
package audio

import "errors"

// DefaultDevice selects the host's default input device instead of an explicit index.
const DefaultDevice = -1

var (
	// ErrProbeFailed is returned when a device cannot be opened with the reference probe format.
	ErrProbeFailed = errors.New("device probe failed")
	// ErrOpenFailed is returned when every tier of the open fallback chain failed.
	ErrOpenFailed = errors.New("could not open any audio stream")
	// ErrTransientRead marks a read failure that only costs the current chunk.
	ErrTransientRead = errors.New("transient read error")
	// ErrNotStreaming is returned when reading from an engine without an open stream.
	ErrNotStreaming = errors.New("capture engine is not streaming")
)

// HostDevice is a device as reported by the host audio subsystem.
type HostDevice struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// StreamParams configures a blocking input stream.
type StreamParams struct {
	Device          int // DefaultDevice for the host default
	SampleRate      int
	BitDepth        int
	Channels        int
	FramesPerBuffer int
}

// Stream is an open blocking input stream.
type Stream interface {
	// Read blocks until FramesPerBuffer frames are available and returns them
	// as interleaved little-endian signed PCM.
	Read() ([]byte, error)
	Close() error
}

// Host is the audio subsystem: device enumeration plus stream opening.
type Host interface {
	Devices() ([]HostDevice, error)
	// DefaultInput describes the device DefaultDevice resolves to.
	DefaultInput() (HostDevice, error)
	Open(p StreamParams) (Stream, error)
}
