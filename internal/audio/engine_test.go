package audio

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func stereo48k() Format {
	return Format{SampleRate: 48000, BitDepth: 24, Channels: 2, ChunkFrames: 2048, SegmentSeconds: 5}
}

func usbMic() DeviceDescriptor {
	return DeviceDescriptor{Index: 4, Name: "USB Mic", MaxInputChannels: 2, DefaultSampleRate: 48000, Compatible: true}
}

func TestEngineOpensRequestedConfiguration(t *testing.T) {
	host := &fakeHost{}
	engine := NewEngine(host, zerolog.Nop())

	opened, err := engine.Open(usbMic(), stereo48k())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened.Tier != TierRequested || opened.Device != 4 || opened.Format != stereo48k() {
		t.Fatalf("unexpected open result %+v", opened)
	}
	if engine.State() != StateStreaming {
		t.Fatalf("expected streaming, got %v", engine.State())
	}
	if len(host.opened) != 1 {
		t.Fatalf("expected a single open attempt, got %d", len(host.opened))
	}
}

func TestEngineFallsBackToDefaultDevice(t *testing.T) {
	host := &fakeHost{reject: func(p StreamParams) bool { return p.Device == 4 }}
	engine := NewEngine(host, zerolog.Nop())

	opened, err := engine.Open(usbMic(), stereo48k())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened.Tier != TierDefaultDevice || opened.Device != DefaultDevice {
		t.Fatalf("expected default device tier, got %+v", opened)
	}
	if opened.Format != stereo48k() {
		t.Fatalf("default device tier should keep the requested format, got %+v", opened.Format)
	}
}

func TestEngineFallsBackToBaseline(t *testing.T) {
	host := &fakeHost{reject: func(p StreamParams) bool { return p.SampleRate == 48000 }}
	engine := NewEngine(host, zerolog.Nop())

	opened, err := engine.Open(usbMic(), stereo48k())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened.Tier != TierBaseline {
		t.Fatalf("expected baseline tier, got %v", opened.Tier)
	}

	want := Format{SampleRate: 44100, BitDepth: 16, Channels: 1, ChunkFrames: 1024, SegmentSeconds: 5}
	if opened.Format != want {
		t.Fatalf("expected baseline format %+v, got %+v", want, opened.Format)
	}
	if len(host.opened) != 3 {
		t.Fatalf("expected three open attempts, got %d", len(host.opened))
	}
}

func TestEngineOpenFailsAfterAllTiers(t *testing.T) {
	host := &fakeHost{reject: func(StreamParams) bool { return true }}
	engine := NewEngine(host, zerolog.Nop())

	_, err := engine.Open(usbMic(), stereo48k())
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected tier errors to be joined, got %v", err)
	}
	if engine.State() != StateOpenFailed {
		t.Fatalf("expected open-failed state, got %v", engine.State())
	}
	if _, err := engine.ReadChunk(); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("expected ErrNotStreaming, got %v", err)
	}
}

func TestEngineDowngradesChannels(t *testing.T) {
	host := &fakeHost{}
	engine := NewEngine(host, zerolog.Nop())
	mono := DeviceDescriptor{Index: 1, Name: "Headset", MaxInputChannels: 1, DefaultSampleRate: 48000}

	opened, err := engine.Open(mono, stereo48k())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened.Format.Channels != 1 || host.opened[0].Channels != 1 {
		t.Fatalf("expected downgrade to mono, got %+v / %+v", opened.Format, host.opened[0])
	}
	if opened.Tier != TierRequested {
		t.Fatalf("downgrade should not count as a fallback, got %v", opened.Tier)
	}
}

func TestEngineCapsChannelsOfSystemDefault(t *testing.T) {
	host := &fakeHost{
		defaultIn: HostDevice{Index: DefaultDevice, Name: "Built-in Mic", MaxInputChannels: 1, DefaultSampleRate: 48000},
		reject:    func(p StreamParams) bool { return p.Channels > 1 },
	}
	engine := NewEngine(host, zerolog.Nop())

	opened, err := engine.Open(SystemDefaultDevice(), stereo48k())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Format{SampleRate: 48000, BitDepth: 24, Channels: 1, ChunkFrames: 2048, SegmentSeconds: 5}
	if opened.Tier != TierRequested || opened.Format != want {
		t.Fatalf("expected %+v on the requested tier, got %v %+v", want, opened.Tier, opened.Format)
	}
	if len(host.opened) != 1 {
		t.Fatalf("expected a single open attempt, got %+v", host.opened)
	}
}

func TestEngineDefaultTierUsesDefaultDeviceChannels(t *testing.T) {
	host := &fakeHost{
		defaultIn: HostDevice{Index: DefaultDevice, Name: "Built-in Mic", MaxInputChannels: 1, DefaultSampleRate: 48000},
		reject: func(p StreamParams) bool {
			return p.Device == 4 || p.Channels > 1
		},
	}
	engine := NewEngine(host, zerolog.Nop())

	opened, err := engine.Open(usbMic(), stereo48k())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Format{SampleRate: 48000, BitDepth: 24, Channels: 1, ChunkFrames: 2048, SegmentSeconds: 5}
	if opened.Tier != TierDefaultDevice || opened.Format != want {
		t.Fatalf("expected %+v on the default-device tier, got %v %+v", want, opened.Tier, opened.Format)
	}
	if host.opened[0].Channels != 2 {
		t.Fatalf("requested tier should keep the USB mic's stereo, got %+v", host.opened[0])
	}
}

func TestEngineReadErrorsAreTransient(t *testing.T) {
	host := &fakeHost{chunk: []byte{1, 2, 3, 4}}
	engine := NewEngine(host, zerolog.Nop())
	if _, err := engine.Open(usbMic(), stereo48k()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	host.streams[0].errs = []error{errors.New("input overflowed")}

	if _, err := engine.ReadChunk(); !errors.Is(err, ErrTransientRead) {
		t.Fatalf("expected transient read error, got %v", err)
	}
	data, err := engine.ReadChunk()
	if err != nil {
		t.Fatalf("stream should keep working after a transient error: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(data))
	}
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	host := &fakeHost{}
	engine := NewEngine(host, zerolog.Nop())
	if _, err := engine.Open(usbMic(), stereo48k()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := engine.Open(usbMic(), stereo48k()); err == nil {
		t.Fatal("expected error when opening twice")
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if host.streams[0].closed != 1 {
		t.Fatalf("expected stream closed once, got %d", host.streams[0].closed)
	}
	if engine.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", engine.State())
	}
	if _, err := engine.ReadChunk(); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("expected ErrNotStreaming after close, got %v", err)
	}

	// A closed engine can be reopened for the next segment.
	if _, err := engine.Open(usbMic(), stereo48k()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}
