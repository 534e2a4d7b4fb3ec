// Package observe provides the OpenTelemetry metric instruments for
// wavelink sessions and the Prometheus exporter bridge that makes them
// scrapeable.
//
// Instruments are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) covers the
// common case; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution. Metrics are
// supplementary: sessions also report the same counters in periodic log
// lines, so the CLI stays useful without a scraper.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all wavelink metrics.
const meterName = "github.com/opd-ai/wavelink"

// Metrics holds the metric instruments for one process. All fields are
// safe for concurrent use; the OTel types synchronize themselves.
type Metrics struct {
	// FramesSent counts frames transmitted, keepalives excluded.
	FramesSent metric.Int64Counter

	// FramesReceived counts frames accepted off the wire, keepalives
	// excluded.
	FramesReceived metric.Int64Counter

	// FramesConcealed counts lost frames replaced with silence.
	FramesConcealed metric.Int64Counter

	// FramesLate counts frames discarded for missing their playout
	// window: stale, purged, or evicted.
	FramesLate metric.Int64Counter

	// HandoffDrops counts captured frames dropped because the send queue
	// was full.
	HandoffDrops metric.Int64Counter

	// DecodeErrors counts datagrams that failed to decode.
	DecodeErrors metric.Int64Counter

	// JitterDepth tracks how many frames sit in the jitter buffer.
	JitterDepth metric.Int64UpDownCounter

	// TransitGap tracks the spacing between consecutive audio frame
	// arrivals, the receive-side view of network jitter.
	TransitGap metric.Float64Histogram
}

// gapBuckets covers inter-arrival spacing from sub-frame to whole-second
// stalls (seconds).
var gapBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.15, 0.3, 0.6, 1.2,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// provider. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("wavelink.frames.sent",
		metric.WithDescription("Audio frames transmitted."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("wavelink.frames.received",
		metric.WithDescription("Audio frames accepted off the wire."),
	); err != nil {
		return nil, err
	}
	if met.FramesConcealed, err = m.Int64Counter("wavelink.frames.concealed",
		metric.WithDescription("Lost frames replaced with silence."),
	); err != nil {
		return nil, err
	}
	if met.FramesLate, err = m.Int64Counter("wavelink.frames.late",
		metric.WithDescription("Frames discarded for missing their playout window."),
	); err != nil {
		return nil, err
	}
	if met.HandoffDrops, err = m.Int64Counter("wavelink.handoff.drops",
		metric.WithDescription("Captured frames dropped on send-queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("wavelink.decode.errors",
		metric.WithDescription("Datagrams that failed to decode."),
	); err != nil {
		return nil, err
	}

	if met.JitterDepth, err = m.Int64UpDownCounter("wavelink.jitter.depth",
		metric.WithDescription("Frames currently held in the jitter buffer."),
	); err != nil {
		return nil, err
	}

	if met.TransitGap, err = m.Float64Histogram("wavelink.transit.gap",
		metric.WithDescription("Spacing between consecutive audio frame arrivals."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gapBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
