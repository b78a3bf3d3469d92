package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
)

// ErrNoFrames means the segment could not record at all, as opposed to a
// segment that recorded only silence.
var ErrNoFrames = errors.New("no frames captured")

// Capturer is the capture side of a segment. *audio.Engine satisfies it.
type Capturer interface {
	Open(dev audio.DeviceDescriptor, f audio.Format) (audio.Opened, error)
	ReadChunk() ([]byte, error)
	Close() error
}

// Metrics receives session events. A nil Metrics is replaced by a no-op.
type Metrics interface {
	SegmentDecided(ctx context.Context, d Decision, peakDB float64)
	PersistFailed(ctx context.Context)
	ReadError(ctx context.Context)
	Fallback(ctx context.Context, tier audio.Tier)
}

type nopMetrics struct{}

func (nopMetrics) SegmentDecided(context.Context, Decision, float64) {}
func (nopMetrics) PersistFailed(context.Context)                     {}
func (nopMetrics) ReadError(context.Context)                         {}
func (nopMetrics) Fallback(context.Context, audio.Tier)              {}

// Controller runs exactly one record-evaluate-decide cycle at a time.
type Controller struct {
	capture  Capturer
	state    *State
	bc       *Broadcaster
	metrics  Metrics
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time
}

type ControllerConfig struct {
	Capture     Capturer
	State       *State
	Broadcaster *Broadcaster
	Metrics     Metrics
	Logger      zerolog.Logger
	// UpdateInterval limits how often progress snapshots are published.
	UpdateInterval time.Duration
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewBroadcaster()
	}
	return &Controller{
		capture:  cfg.Capture,
		state:    cfg.State,
		bc:       cfg.Broadcaster,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		interval: cfg.UpdateInterval,
		now:      time.Now,
	}
}

// Record captures one segment from dev. The stream is always closed before
// Record returns. It stops early when ctx is cancelled or the recording flag
// is cleared; the partial segment is still evaluated.
func (c *Controller) Record(ctx context.Context, dev audio.DeviceDescriptor, f audio.Format) (Segment, error) {
	seg := Segment{StartedAt: c.now()}

	opened, err := c.capture.Open(dev, f)
	if err != nil {
		return seg, fmt.Errorf("%w: %w", ErrNoFrames, err)
	}
	defer func() {
		if err := c.capture.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to release audio device")
		}
	}()

	if opened.Tier != audio.TierRequested {
		c.metrics.Fallback(ctx, opened.Tier)
	}

	seg.Format = opened.Format
	seg.ChunksNeeded = opened.Format.ChunksNeeded()
	seg.Frames = make([][]byte, 0, seg.ChunksNeeded)
	seg.PeakDB = audio.MinDB

	chunk := opened.Format.ChunkDuration()
	total := time.Duration(seg.ChunksNeeded) * chunk
	c.state.setFormat(opened.Format)
	c.state.setProgress(audio.MinDB, audio.MinDB, 0, total)
	c.state.SetStatus("Recording")
	c.bc.Publish(c.state.Snapshot())

	var lastPublish time.Time
	for i := 0; i < seg.ChunksNeeded; i++ {
		if ctx.Err() != nil || !c.state.Recording() {
			seg.Cancelled = true
			break
		}

		data, err := c.capture.ReadChunk()
		if err != nil {
			if errors.Is(err, audio.ErrTransientRead) {
				c.log.Debug().Err(err).Int("chunk", i).Msg("Skipping chunk")
				c.metrics.ReadError(ctx)
				seg.Skipped++
				continue
			}
			c.log.Error().Err(err).Int("chunk", i).Msg("Capture stopped")
			seg.Cancelled = true
			break
		}

		level := audio.Decibels(data, seg.Format)
		seg.PeakDB = max(seg.PeakDB, level)
		seg.Frames = append(seg.Frames, data)

		c.state.setProgress(level, seg.PeakDB, time.Duration(i+1)*chunk, total)
		if now := c.now(); i == seg.ChunksNeeded-1 || now.Sub(lastPublish) >= c.interval {
			lastPublish = now
			c.bc.Publish(c.state.Snapshot())
		}
	}

	seg.Decision = decide(seg, c.state.Threshold())
	c.log.Info().
		Str("decision", seg.Decision.String()).
		Float64("peak_db", seg.PeakDB).
		Float64("threshold_db", c.state.Threshold().DB).
		Int("chunks", len(seg.Frames)).
		Dur("audio", seg.Duration()).
		Int("skipped", seg.Skipped).
		Bool("cancelled", seg.Cancelled).
		Msg("Segment finished")
	return seg, nil
}

// decide keeps a segment whose peak reaches the threshold. A segment with no
// audio at all is never kept.
func decide(seg Segment, t audio.Threshold) Decision {
	if len(seg.Frames) == 0 {
		return Discarded
	}
	if t.Keep(seg.PeakDB) {
		return Kept
	}
	return Discarded
}
