// Package observe records session metrics through OpenTelemetry and exposes
// them for Prometheus scraping.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/session"
)

const meterName = "github.com/petems/loudkeep"

// Metrics holds the instruments. It satisfies session.Metrics.
type Metrics struct {
	SegmentsKept      metric.Int64Counter
	SegmentsDiscarded metric.Int64Counter

	// PeakDB records the peak level of every finished segment.
	PeakDB metric.Float64Histogram

	PersistFailures metric.Int64Counter
	ReadErrors      metric.Int64Counter

	// Fallbacks counts streams opened below the requested tier. Attribute: tier.
	Fallbacks metric.Int64Counter

	// UploadResults counts mirror uploads. Attribute: status.
	UploadResults metric.Int64Counter
}

var _ session.Metrics = (*Metrics)(nil)

// peakBuckets cover the meter range in 6 dB steps.
var peakBuckets = []float64{-60, -54, -48, -42, -36, -30, -24, -18, -12, -6, 0}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentsKept, err = m.Int64Counter("loudkeep.segments.kept",
		metric.WithDescription("Segments that reached the threshold and were saved."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("loudkeep.segments.discarded",
		metric.WithDescription("Segments dropped for staying below the threshold."),
	); err != nil {
		return nil, err
	}
	if met.PeakDB, err = m.Float64Histogram("loudkeep.segments.peak_db",
		metric.WithDescription("Peak RMS level of finished segments."),
		metric.WithUnit("dB"),
		metric.WithExplicitBucketBoundaries(peakBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PersistFailures, err = m.Int64Counter("loudkeep.persist.failures",
		metric.WithDescription("Kept segments lost because no format could be written."),
	); err != nil {
		return nil, err
	}
	if met.ReadErrors, err = m.Int64Counter("loudkeep.capture.read_errors",
		metric.WithDescription("Chunks skipped after a transient read error."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("loudkeep.capture.fallbacks",
		metric.WithDescription("Streams opened on a fallback tier, by tier."),
	); err != nil {
		return nil, err
	}
	if met.UploadResults, err = m.Int64Counter("loudkeep.upload.results",
		metric.WithDescription("Mirror uploads by status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) SegmentDecided(ctx context.Context, d session.Decision, peakDB float64) {
	if d == session.Kept {
		m.SegmentsKept.Add(ctx, 1)
	} else {
		m.SegmentsDiscarded.Add(ctx, 1)
	}
	m.PeakDB.Record(ctx, peakDB)
}

func (m *Metrics) PersistFailed(ctx context.Context) {
	m.PersistFailures.Add(ctx, 1)
}

func (m *Metrics) ReadError(ctx context.Context) {
	m.ReadErrors.Add(ctx, 1)
}

func (m *Metrics) Fallback(ctx context.Context, tier audio.Tier) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier.String())))
}

// UploadResult counts one finished upload; status is "ok" or "failed".
func (m *Metrics) UploadResult(ctx context.Context, status string) {
	m.UploadResults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
