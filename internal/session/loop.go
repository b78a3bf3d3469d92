package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/storage"
)

// DefaultPause is the gap between segments during which the outcome of the
// last one stays on screen.
const DefaultPause = 3 * time.Second

// Persister writes kept segments. *storage.Store satisfies it.
type Persister interface {
	Save(frames [][]byte, f audio.Format, startedAt time.Time) (storage.Written, error)
}

// Uploads receives paths of saved files. Enqueue must not block.
type Uploads interface {
	Enqueue(path string) bool
}

// Loop repeats segments while recording is active.
type Loop struct {
	ctrl    *Controller
	store   Persister
	uploads Uploads
	state   *State
	bc      *Broadcaster
	metrics Metrics
	log     zerolog.Logger
	pause   time.Duration
}

type LoopConfig struct {
	Controller *Controller
	Store      Persister
	Uploads    Uploads // optional
	Pause      time.Duration
	Logger     zerolog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		ctrl:    cfg.Controller,
		store:   cfg.Store,
		uploads: cfg.Uploads,
		state:   cfg.Controller.state,
		bc:      cfg.Controller.bc,
		metrics: cfg.Controller.metrics,
		log:     cfg.Logger,
		pause:   cfg.Pause,
	}
}

// Run records segments from dev until ctx is cancelled or the recording flag
// is cleared, then returns nil. A segment that could not be opened or a kept
// segment that could not be written ends the session with an error. The
// recording flag is always cleared on return.
func (l *Loop) Run(ctx context.Context, dev audio.DeviceDescriptor, f audio.Format) error {
	defer func() {
		l.state.SetRecording(false)
		l.state.ResetLevels()
		l.bc.Publish(l.state.Snapshot())
	}()

	l.state.SetError("")
	l.log.Info().Str("device", dev.DisplayName()).Str("format", f.String()).Msg("Session started")

	for l.active(ctx) {
		seg, err := l.ctrl.Record(ctx, dev, f)
		if err != nil {
			return l.fail(err, "Could not open any audio input")
		}

		if err := l.finish(ctx, seg); err != nil {
			return err
		}

		if !l.wait(ctx) {
			break
		}
		l.state.ResetLevels()
	}

	l.state.SetStatus("Stopped")
	l.log.Info().
		Uint64("saved", l.state.Saved()).
		Uint64("discarded", l.state.Discarded()).
		Msg("Session stopped")
	return nil
}

func (l *Loop) active(ctx context.Context) bool {
	return ctx.Err() == nil && l.state.Recording()
}

// finish persists or drops one segment and updates the counters.
func (l *Loop) finish(ctx context.Context, seg Segment) error {
	l.metrics.SegmentDecided(ctx, seg.Decision, seg.PeakDB)

	if seg.Decision == Discarded {
		l.state.addDiscarded()
		l.state.SetStatus(fmt.Sprintf("Discarded (peak %.1f dB < %.1f dB)", seg.PeakDB, l.state.Threshold().DB))
		l.bc.Publish(l.state.Snapshot())
		return nil
	}

	written, err := l.store.Save(seg.Frames, seg.Format, seg.StartedAt)
	if err != nil {
		l.metrics.PersistFailed(ctx)
		return l.fail(err, "Recording lost")
	}

	l.state.addSaved()
	l.state.SetLastFile(written.Path)
	status := "Saved " + filepath.Base(written.Path)
	if written.FallbackCause != nil {
		status += " (baseline format)"
	}
	l.state.SetStatus(status)
	l.bc.Publish(l.state.Snapshot())

	if l.uploads != nil && !l.uploads.Enqueue(written.Path) {
		l.log.Warn().Str("path", written.Path).Msg("Upload queue full, skipping mirror")
	}
	return nil
}

// wait holds the outcome on screen for the configured pause. It returns false
// when the session was stopped meanwhile.
func (l *Loop) wait(ctx context.Context) bool {
	if l.pause <= 0 {
		return l.active(ctx)
	}

	t := time.NewTimer(l.pause)
	defer t.Stop()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return l.active(ctx)
		case <-tick.C:
			if !l.state.Recording() {
				return false
			}
		}
	}
}

func (l *Loop) fail(err error, status string) error {
	msg := fmt.Sprintf("%s: %v", status, err)
	l.state.SetStatus(status)
	l.state.SetError(msg)
	l.bc.Publish(l.state.Snapshot())

	var perr *storage.PersistError
	if errors.As(err, &perr) {
		l.log.Error().
			AnErr("primary", perr.Primary).
			AnErr("fallback", perr.Fallback).
			Str("path", perr.Path).
			Msg("Segment data lost")
	} else {
		l.log.Error().Err(err).Msg("Session aborted")
	}
	return err
}
