package session

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/petems/loudkeep/internal/audio"
)

// Decision is the outcome of one segment.
type Decision int

const (
	Discarded Decision = iota
	Kept
)

func (d Decision) String() string {
	if d == Kept {
		return "kept"
	}
	return "discarded"
}

// Segment is one bounded capture cycle. Frames are released by the loop once
// the segment has been persisted or rejected.
type Segment struct {
	Frames       [][]byte
	Format       audio.Format
	PeakDB       float64
	Decision     Decision
	StartedAt    time.Time
	ChunksNeeded int
	Skipped      int
	Cancelled    bool
}

// Duration returns the amount of audio held in the segment.
func (s Segment) Duration() time.Duration {
	return time.Duration(len(s.Frames)) * s.Format.ChunkDuration()
}

// Snapshot is an immutable copy of the session state handed to presentation
// layers.
type Snapshot struct {
	Recording bool          `json:"recording"`
	Saved     uint64        `json:"saved"`
	Discarded uint64        `json:"discarded"`
	LevelDB   float64       `json:"level_db"`
	PeakDB    float64       `json:"peak_db"`
	Threshold float64       `json:"threshold_db"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Total     time.Duration `json:"total_ns"`
	Format    string        `json:"format,omitempty"`
	Status    string        `json:"status"`
	Preview   string        `json:"preview,omitempty"`
	LastFile  string        `json:"last_file,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Progress formats the elapsed/total pair as "12.0s / 30.0s".
func (s Snapshot) Progress() string {
	return fmt.Sprintf("%.1fs / %.1fs", s.Elapsed.Seconds(), s.Total.Seconds())
}

// State is shared between the capture goroutine and the control surface.
// Every field is read and written atomically.
type State struct {
	recording atomic.Bool
	saved     atomic.Uint64
	discarded atomic.Uint64
	level     atomic.Uint64
	peak      atomic.Uint64
	elapsed   atomic.Int64
	total     atomic.Int64

	threshold atomic.Pointer[audio.Threshold]
	format    atomic.Pointer[string]
	status    atomic.Pointer[string]
	preview   atomic.Pointer[string]
	lastFile  atomic.Pointer[string]
	lastErr   atomic.Pointer[string]
}

// NewState returns an idle state using the given threshold.
func NewState(t audio.Threshold) *State {
	s := &State{}
	s.SetThreshold(t)
	s.ResetLevels()
	s.SetStatus("Ready")
	return s
}

func storeString(p *atomic.Pointer[string], v string) { p.Store(&v) }

func loadString(p *atomic.Pointer[string]) string {
	if v := p.Load(); v != nil {
		return *v
	}
	return ""
}

func storeFloat(u *atomic.Uint64, v float64) { u.Store(math.Float64bits(v)) }

func loadFloat(u *atomic.Uint64) float64 { return math.Float64frombits(u.Load()) }

// Recording reports whether a session is active. The capture goroutine checks
// it before every chunk.
func (s *State) Recording() bool { return s.recording.Load() }

// SetRecording flips the cancellation flag.
func (s *State) SetRecording(on bool) { s.recording.Store(on) }

// TryStart sets the recording flag if it was clear.
func (s *State) TryStart() bool { return s.recording.CompareAndSwap(false, true) }

func (s *State) Saved() uint64     { return s.saved.Load() }
func (s *State) Discarded() uint64 { return s.discarded.Load() }

func (s *State) addSaved()     { s.saved.Add(1) }
func (s *State) addDiscarded() { s.discarded.Add(1) }

// Threshold returns the threshold that applies to the next decision.
func (s *State) Threshold() audio.Threshold {
	if t := s.threshold.Load(); t != nil {
		return *t
	}
	return audio.DefaultThreshold()
}

// SetThreshold replaces the threshold; the level is clamped into its bounds.
func (s *State) SetThreshold(t audio.Threshold) {
	t = t.Normalize()
	s.threshold.Store(&t)
}

func (s *State) SetStatus(text string) { storeString(&s.status, text) }
func (s *State) SetLastFile(p string)  { storeString(&s.lastFile, p) }
func (s *State) LastFile() string      { return loadString(&s.lastFile) }

// SetError records a user-visible error; an empty string clears it.
func (s *State) SetError(text string) { storeString(&s.lastErr, text) }

func (s *State) setFormat(f audio.Format) { storeString(&s.format, f.String()) }

func (s *State) setProgress(level, peak float64, elapsed, total time.Duration) {
	storeFloat(&s.level, level)
	storeFloat(&s.peak, peak)
	s.elapsed.Store(int64(elapsed))
	s.total.Store(int64(total))
	storeString(&s.preview, Preview(peak, s.Threshold()))
}

// ResetLevels puts the meter back to the floor between segments.
func (s *State) ResetLevels() {
	storeFloat(&s.level, audio.MinDB)
	storeFloat(&s.peak, audio.MinDB)
	s.elapsed.Store(0)
	storeString(&s.preview, "")
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Recording: s.Recording(),
		Saved:     s.Saved(),
		Discarded: s.Discarded(),
		LevelDB:   loadFloat(&s.level),
		PeakDB:    loadFloat(&s.peak),
		Threshold: s.Threshold().DB,
		Elapsed:   time.Duration(s.elapsed.Load()),
		Total:     time.Duration(s.total.Load()),
		Format:    loadString(&s.format),
		Status:    loadString(&s.status),
		Preview:   loadString(&s.preview),
		LastFile:  loadString(&s.lastFile),
		Error:     loadString(&s.lastErr),
	}
}

// Preview is the live "what would happen now" text shown while recording.
func Preview(peak float64, t audio.Threshold) string {
	if t.Keep(peak) {
		return fmt.Sprintf("Will keep (peak %.1f dB >= %.1f dB)", peak, t.DB)
	}
	return fmt.Sprintf("Will discard (peak %.1f dB < %.1f dB)", peak, t.DB)
}
