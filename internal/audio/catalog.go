package audio

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Reference configuration every device must accept to be listed.
const (
	probeBitDepth    = 16
	probeChunkFrames = 1024
)

// DeviceDescriptor is a validated input device. Descriptors are never mutated;
// a refresh replaces the whole list.
type DeviceDescriptor struct {
	Index             int    `json:"index"`
	Name              string `json:"name"`
	MaxInputChannels  int    `json:"max_input_channels"`
	DefaultSampleRate int    `json:"default_sample_rate"`
	Compatible        bool   `json:"compatible"`
}

// SystemDefaultDevice is the sentinel used when no device passed the probe or
// the configured index is not listed. Its channel count is unknown (zero);
// ResolveDefault fills it in from the host.
func SystemDefaultDevice() DeviceDescriptor {
	return DeviceDescriptor{
		Index:             DefaultDevice,
		Name:              "System default device",
		DefaultSampleRate: BaselineSampleRate,
		Compatible:        true,
	}
}

// ResolveDefault returns the system default sentinel carrying the channel
// count and rate of the device the host actually uses as default input.
func ResolveDefault(host Host) DeviceDescriptor {
	d := SystemDefaultDevice()
	hd, err := host.DefaultInput()
	if err != nil {
		return d
	}
	if hd.MaxInputChannels > 0 {
		d.MaxInputChannels = hd.MaxInputChannels
	}
	if hd.DefaultSampleRate > 0 {
		d.DefaultSampleRate = int(hd.DefaultSampleRate)
	}
	return d
}

// IsSystemDefault reports whether d is the default-device sentinel.
func (d DeviceDescriptor) IsSystemDefault() bool {
	return d.Index == DefaultDevice
}

// DisplayName is the name shown in device pickers.
func (d DeviceDescriptor) DisplayName() string {
	if d.IsSystemDefault() {
		return d.Name
	}
	return fmt.Sprintf("%s (ID: %d)", d.Name, d.Index)
}

// MaxChannels caps requested channels to what the device supports (at most stereo).
func (d DeviceDescriptor) MaxChannels(requested int) int {
	if d.MaxInputChannels <= 0 {
		return requested
	}
	return max(min(requested, d.MaxInputChannels, 2), 1)
}

// Catalog holds the most recent list of usable input devices.
// Refresh publishes a new list with an atomic swap, so readers never lock.
type Catalog struct {
	host     Host
	log      zerolog.Logger
	devices  atomic.Pointer[[]DeviceDescriptor]
	fallback atomic.Pointer[DeviceDescriptor]
}

// NewCatalog creates an empty catalog. Call Refresh to populate it.
func NewCatalog(host Host, log zerolog.Logger) *Catalog {
	return &Catalog{host: host, log: log}
}

// Refresh enumerates input devices, probe-opens each one and publishes the
// compatible ones. The result always holds at least one descriptor.
func (c *Catalog) Refresh() []DeviceDescriptor {
	devices, err := c.host.Devices()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to enumerate audio devices")
		devices = nil
	}

	result := make([]DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}

		rate := int(d.DefaultSampleRate)
		if rate <= 0 {
			rate = BaselineSampleRate
		}

		if err := c.probe(d, rate); err != nil {
			c.log.Debug().Err(err).Str("device", d.Name).Int("index", d.Index).Msg("Device not compatible")
			continue
		}

		result = append(result, DeviceDescriptor{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: rate,
			Compatible:        true,
		})
	}

	def := ResolveDefault(c.host)
	c.fallback.Store(&def)
	if len(result) == 0 {
		result = append(result, def)
	}

	c.devices.Store(&result)
	c.log.Info().Int("devices", len(result)).Msg("Audio devices refreshed")
	return result
}

func (c *Catalog) probe(d HostDevice, rate int) error {
	stream, err := c.host.Open(StreamParams{
		Device:          d.Index,
		SampleRate:      rate,
		BitDepth:        probeBitDepth,
		Channels:        min(1, d.MaxInputChannels),
		FramesPerBuffer: probeChunkFrames,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrProbeFailed, err)
	}
	return nil
}

// Devices returns the last published list, or the sentinel if Refresh never ran.
func (c *Catalog) Devices() []DeviceDescriptor {
	if p := c.devices.Load(); p != nil {
		return *p
	}
	return []DeviceDescriptor{SystemDefaultDevice()}
}

// Lookup finds a device by host index.
func (c *Catalog) Lookup(index int) (DeviceDescriptor, bool) {
	for _, d := range c.Devices() {
		if d.Index == index {
			return d, true
		}
	}
	return DeviceDescriptor{}, false
}

// Select returns the device with the given index, or the system default when
// the index is not listed.
func (c *Catalog) Select(index int) DeviceDescriptor {
	if d, ok := c.Lookup(index); ok {
		return d
	}
	if p := c.fallback.Load(); p != nil {
		return *p
	}
	return ResolveDefault(c.host)
}

// Probe opens and immediately closes a stream for f on dev.
func (c *Catalog) Probe(dev DeviceDescriptor, f Format) error {
	stream, err := c.host.Open(f.streamParams(dev.Index))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrProbeFailed, err)
	}
	return nil
}
