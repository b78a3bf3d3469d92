package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// State is the capture engine lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateClosed
	StateOpenFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateOpenFailed:
		return "open-failed"
	default:
		return "unknown"
	}
}

// Tier identifies which step of the fallback chain opened the stream.
type Tier int

const (
	TierRequested Tier = iota
	TierDefaultDevice
	TierBaseline
)

func (t Tier) String() string {
	switch t {
	case TierRequested:
		return "requested"
	case TierDefaultDevice:
		return "default-device"
	case TierBaseline:
		return "baseline"
	default:
		return "unknown"
	}
}

// Opened describes the stream the engine ended up with.
type Opened struct {
	Format Format
	Device int
	Tier   Tier
}

// Engine owns one input stream at a time. Open, ReadChunk and Close are meant
// to be called from the single capture goroutine.
type Engine struct {
	host  Host
	log   zerolog.Logger
	state atomic.Int32

	mu     sync.Mutex
	stream Stream
}

// NewEngine creates an idle engine on top of host.
func NewEngine(host Host, log zerolog.Logger) *Engine {
	return &Engine{host: host, log: log}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Open tries the requested device and format, then the default device, then
// the safe baseline. The returned format is what was actually opened and must
// be used for analysis and persistence.
func (e *Engine) Open(dev DeviceDescriptor, f Format) (Opened, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return Opened{}, fmt.Errorf("capture engine already streaming")
	}
	e.state.Store(int32(StateOpening))

	def := ResolveDefault(e.host)
	target := dev
	if target.IsSystemDefault() && target.MaxInputChannels <= 0 {
		target = def
	}

	requested := f
	requested.Channels = target.MaxChannels(f.Channels)
	if requested.Channels != f.Channels {
		e.log.Info().
			Int("requested", f.Channels).
			Int("channels", requested.Channels).
			Str("device", dev.Name).
			Msg("Device supports fewer channels, downgrading")
	}

	// The default device has its own channel limit.
	onDefault := f
	onDefault.Channels = def.MaxChannels(f.Channels)

	attempts := []Opened{
		{Format: requested, Device: dev.Index, Tier: TierRequested},
		{Format: onDefault, Device: DefaultDevice, Tier: TierDefaultDevice},
		{Format: f.Baseline(), Device: DefaultDevice, Tier: TierBaseline},
	}

	var errs []error
	for _, a := range attempts {
		stream, err := e.host.Open(a.Format.streamParams(a.Device))
		if err != nil {
			e.log.Warn().Err(err).Str("tier", a.Tier.String()).Str("format", a.Format.String()).Msg("Failed to open audio stream")
			errs = append(errs, fmt.Errorf("%s: %w", a.Tier, err))
			continue
		}

		e.stream = stream
		e.state.Store(int32(StateStreaming))
		if a.Tier != TierRequested {
			e.log.Warn().Str("tier", a.Tier.String()).Str("format", a.Format.String()).Msg("Opened audio stream with fallback")
		}
		return a, nil
	}

	e.state.Store(int32(StateOpenFailed))
	return Opened{}, fmt.Errorf("%w: %w", ErrOpenFailed, errors.Join(errs...))
}

// ReadChunk blocks for the next chunk. Every read failure is reported as
// ErrTransientRead; the caller skips the chunk and keeps going.
func (e *Engine) ReadChunk() ([]byte, error) {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil || e.State() != StateStreaming {
		return nil, ErrNotStreaming
	}

	data, err := stream.Read()
	if err != nil {
		if errors.Is(err, ErrTransientRead) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTransientRead, err)
	}
	return data, nil
}

// Close stops and releases the stream. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream == nil {
		return nil
	}

	err := e.stream.Close()
	e.stream = nil
	e.state.Store(int32(StateClosed))
	if err != nil {
		return fmt.Errorf("close audio stream: %w", err)
	}
	return nil
}
