package session

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/storage"
)

// synthHost is a simulated capture device producing constant-amplitude 16-bit
// chunks. onRead runs after every successful read with the running read count
// across all streams.
type synthHost struct {
	mu        sync.Mutex
	amplitude int16
	failOpen  bool
	rejectHz  int
	errAt     map[int]error
	onRead    func(n int)
	reads     int
	opened    []audio.StreamParams
	streams   []*synthStream
}

var errNoDevice = errors.New("device unavailable")

func (h *synthHost) Devices() ([]audio.HostDevice, error) {
	return []audio.HostDevice{{Index: 0, Name: "Synth", MaxInputChannels: 2, DefaultSampleRate: 8000}}, nil
}

func (h *synthHost) DefaultInput() (audio.HostDevice, error) {
	return audio.HostDevice{Index: audio.DefaultDevice, Name: "Synth", MaxInputChannels: 2, DefaultSampleRate: 8000}, nil
}

func (h *synthHost) Open(p audio.StreamParams) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, p)
	if h.failOpen || (h.rejectHz != 0 && p.SampleRate == h.rejectHz) {
		return nil, errNoDevice
	}
	s := &synthStream{host: h, params: p}
	h.streams = append(h.streams, s)
	return s, nil
}

func (h *synthHost) allClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.streams {
		if !s.closed {
			return false
		}
	}
	return true
}

type synthStream struct {
	host   *synthHost
	params audio.StreamParams
	closed bool
}

func (s *synthStream) Read() ([]byte, error) {
	h := s.host
	h.mu.Lock()
	h.reads++
	n := h.reads
	err := h.errAt[n]
	amp := h.amplitude
	onRead := h.onRead
	h.mu.Unlock()

	if err != nil {
		return nil, err
	}
	chunk := make([]byte, s.params.FramesPerBuffer*s.params.Channels*2)
	for i := 0; i+1 < len(chunk); i += 2 {
		binary.LittleEndian.PutUint16(chunk[i:], uint16(amp))
	}
	if onRead != nil {
		onRead(n)
	}
	return chunk, nil
}

func (s *synthStream) Close() error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.closed = true
	return nil
}

// testFormat yields 100 ms chunks and five chunks per segment.
func testFormat() audio.Format {
	return audio.Format{SampleRate: 8000, BitDepth: 16, Channels: 1, ChunkFrames: 800, SegmentSeconds: 0.5}
}

func newTestController(host *synthHost, state *State) *Controller {
	return NewController(ControllerConfig{
		Capture: audio.NewEngine(host, zerolog.Nop()),
		State:   state,
		Logger:  zerolog.Nop(),
	})
}

type failingStore struct{ calls int }

func (s *failingStore) Save(frames [][]byte, f audio.Format, startedAt time.Time) (storage.Written, error) {
	s.calls++
	return storage.Written{}, &storage.PersistError{
		Path:     "/nowhere/x.wav",
		Primary:  errors.New("disk full"),
		Fallback: errors.New("disk still full"),
	}
}

type recordingUploads struct {
	mu    sync.Mutex
	paths []string
}

func (u *recordingUploads) Enqueue(path string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, path)
	return true
}

type countingMetrics struct {
	mu        sync.Mutex
	decided   map[Decision]int
	persist   int
	readErrs  int
	fallbacks []audio.Tier
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{decided: make(map[Decision]int)}
}

func (m *countingMetrics) SegmentDecided(_ context.Context, d Decision, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decided[d]++
}

func (m *countingMetrics) PersistFailed(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist++
}

func (m *countingMetrics) ReadError(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs++
}

func (m *countingMetrics) Fallback(_ context.Context, tier audio.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, tier)
}

func (h *synthHost) readCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}
