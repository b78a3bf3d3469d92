package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioHost talks to the system audio stack through PortAudio.
type PortAudioHost struct{}

// NewPortAudioHost initializes PortAudio. Call Close to terminate it.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioHost{}, nil
}

// Devices lists every device PortAudio knows about, input-capable or not.
func (h *PortAudioHost) Devices() ([]HostDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]HostDevice, 0, len(devices))
	for i, d := range devices {
		result = append(result, HostDevice{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return result, nil
}

// DefaultInput reports the host default input device.
func (h *PortAudioHost) DefaultInput() (HostDevice, error) {
	d, err := h.device(DefaultDevice)
	if err != nil {
		return HostDevice{}, err
	}
	return HostDevice{
		Index:             DefaultDevice,
		Name:              d.Name,
		MaxInputChannels:  d.MaxInputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
	}, nil
}

func (h *PortAudioHost) device(index int) (*portaudio.DeviceInfo, error) {
	if index == DefaultDevice {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("device not found: %d", index)
	}
	return devices[index], nil
}

// Open starts a blocking input stream. 24-bit streams are captured into an
// int32 buffer and repacked into three little-endian bytes per sample.
func (h *PortAudioHost) Open(p StreamParams) (Stream, error) {
	device, err := h.device(p.Device)
	if err != nil {
		return nil, err
	}
	if p.Channels > device.MaxInputChannels {
		return nil, fmt.Errorf("device %q supports %d input channels, requested %d", device.Name, device.MaxInputChannels, p.Channels)
	}

	s := &paStream{bitDepth: p.BitDepth}
	n := p.FramesPerBuffer * p.Channels

	var buffer interface{}
	switch p.BitDepth {
	case 16:
		s.i16 = make([]int16, n)
		buffer = s.i16
	case 24, 32:
		s.i32 = make([]int32, n)
		buffer = s.i32
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", p.BitDepth)
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: p.Channels,
			Latency:  device.DefaultHighInputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FramesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	s.stream = stream
	return s, nil
}

// Close terminates PortAudio.
func (h *PortAudioHost) Close() error {
	return portaudio.Terminate()
}

type paStream struct {
	stream   *portaudio.Stream
	bitDepth int
	i16      []int16
	i32      []int32
	once     sync.Once
}

func (s *paStream) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("%w: %w", ErrTransientRead, err)
		}
		return nil, err
	}

	switch s.bitDepth {
	case 16:
		out := make([]byte, len(s.i16)*2)
		for i, v := range s.i16 {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out, nil
	case 24:
		out := make([]byte, len(s.i32)*3)
		for i, v := range s.i32 {
			// PortAudio left-aligns 24-bit data in an int32; keep the top three bytes.
			u := uint32(v)
			out[i*3] = byte(u >> 8)
			out[i*3+1] = byte(u >> 16)
			out[i*3+2] = byte(u >> 24)
		}
		return out, nil
	default:
		out := make([]byte, len(s.i32)*4)
		for i, v := range s.i32 {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out, nil
	}
}

func (s *paStream) Close() error {
	var err error
	s.once.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}
