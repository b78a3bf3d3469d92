package audio

import (
	"errors"
	"sync"
)

// fakeStream returns a fixed chunk, or the queued errors first.
type fakeStream struct {
	mu      sync.Mutex
	chunk   []byte
	errs    []error
	reads   int
	closed  int
	closeFn func() error
}

func (s *fakeStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	out := make([]byte, len(s.chunk))
	copy(out, s.chunk)
	return out, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// fakeHost records every open attempt and lets tests reject some of them.
type fakeHost struct {
	mu         sync.Mutex
	devices    []HostDevice
	devicesErr error
	defaultIn  HostDevice
	reject     func(p StreamParams) bool
	opened     []StreamParams
	streams    []*fakeStream
	chunk      []byte
}

var errRejected = errors.New("invalid sample rate")

func (h *fakeHost) Devices() ([]HostDevice, error) {
	if h.devicesErr != nil {
		return nil, h.devicesErr
	}
	return h.devices, nil
}

// DefaultInput reports defaultIn; a zero value leaves the channel count unknown.
func (h *fakeHost) DefaultInput() (HostDevice, error) {
	if h.defaultIn.Name == "" {
		return HostDevice{}, errors.New("no default input")
	}
	return h.defaultIn, nil
}

func (h *fakeHost) Open(p StreamParams) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, p)
	if h.reject != nil && h.reject(p) {
		return nil, errRejected
	}
	s := &fakeStream{chunk: h.chunk}
	h.streams = append(h.streams, s)
	return s, nil
}
