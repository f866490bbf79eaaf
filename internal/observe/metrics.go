// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics and the provider plumbing that exposes them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/whisperkey/whisperkey"

// Cycle outcomes recorded on [Metrics.Cycles].
const (
	OutcomeSuccess    = "success"
	OutcomeBlank      = "blank"
	OutcomeCancelled  = "cancelled"
	OutcomeError      = "error"
	OutcomeSuperseded = "superseded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks whisper inference latency. Use with
	// attribute.String("variant", ...).
	TranscriptionDuration metric.Float64Histogram

	// Cycles counts completed push-to-talk cycles. Use with
	// attribute.String("outcome", ...).
	Cycles metric.Int64Counter

	// CaptureErrors counts audio capture failures.
	CaptureErrors metric.Int64Counter

	// HotkeyErrors counts hotkey registration and event source failures.
	HotkeyErrors metric.Int64Counter

	// RecordingActive is 1 while a recording is in progress, 0 otherwise.
	RecordingActive metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// local whisper inference: sub-second for small models, tens of seconds for
// the large ones on slow hardware.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("whisperkey.transcription.duration",
		metric.WithDescription("Latency of whisper transcription by model variant."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Cycles, err = m.Int64Counter("whisperkey.cycles",
		metric.WithDescription("Completed push-to-talk cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("whisperkey.capture.errors",
		metric.WithDescription("Audio capture failures."),
	); err != nil {
		return nil, err
	}
	if met.HotkeyErrors, err = m.Int64Counter("whisperkey.hotkey.errors",
		metric.WithDescription("Hotkey registration and event source failures."),
	); err != nil {
		return nil, err
	}
	if met.RecordingActive, err = m.Int64UpDownCounter("whisperkey.recording.active",
		metric.WithDescription("Whether a recording is currently in progress."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordTranscription records one successful inference duration. Satisfies
// the engine's duration recorder.
func (m *Metrics) RecordTranscription(ctx context.Context, variant string, elapsed time.Duration) {
	m.TranscriptionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("variant", variant)),
	)
}

// RecordCycle records a finished push-to-talk cycle with its outcome.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string) {
	m.Cycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCaptureError increments the capture failure counter.
func (m *Metrics) RecordCaptureError(ctx context.Context) {
	m.CaptureErrors.Add(ctx, 1)
}

// RecordHotkeyError increments the hotkey failure counter.
func (m *Metrics) RecordHotkeyError(ctx context.Context) {
	m.HotkeyErrors.Add(ctx, 1)
}

// SetRecording flips the recording-active gauge.
func (m *Metrics) SetRecording(ctx context.Context, active bool) {
	if active {
		m.RecordingActive.Add(ctx, 1)
	} else {
		m.RecordingActive.Add(ctx, -1)
	}
}
