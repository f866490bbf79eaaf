package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsCreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTranscriptionHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "base.en", 1200*time.Millisecond)
	m.RecordTranscription(ctx, "base.en", 800*time.Millisecond)

	rm := collect(t, reader)
	found := findMetric(rm, "whisperkey.transcription.duration")
	if found == nil {
		t.Fatal("transcription duration metric not found")
	}

	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if v, ok := dp.Attributes.Value(attribute.Key("variant")); !ok || v.AsString() != "base.en" {
		t.Errorf("variant attribute missing or wrong: %v", dp.Attributes)
	}
}

func TestRecordCycleOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCycle(ctx, OutcomeSuccess)
	m.RecordCycle(ctx, OutcomeSuccess)
	m.RecordCycle(ctx, OutcomeBlank)

	rm := collect(t, reader)
	found := findMetric(rm, "whisperkey.cycles")
	if found == nil {
		t.Fatal("cycles metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok {
			counts[v.AsString()] = dp.Value
		}
	}
	if counts[OutcomeSuccess] != 2 {
		t.Errorf("success count = %d, want 2", counts[OutcomeSuccess])
	}
	if counts[OutcomeBlank] != 1 {
		t.Errorf("blank count = %d, want 1", counts[OutcomeBlank])
	}
}

func TestRecordingGaugeBalances(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SetRecording(ctx, true)
	m.SetRecording(ctx, false)
	m.SetRecording(ctx, true)

	rm := collect(t, reader)
	found := findMetric(rm, "whisperkey.recording.active")
	if found == nil {
		t.Fatal("recording gauge not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge value = %+v, want single point of 1", sum.DataPoints)
	}
}

func TestErrorCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureError(ctx)
	m.RecordHotkeyError(ctx)
	m.RecordHotkeyError(ctx)

	rm := collect(t, reader)

	capture := findMetric(rm, "whisperkey.capture.errors")
	if capture == nil {
		t.Fatal("capture errors metric not found")
	}
	if sum := capture.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Errorf("capture errors = %d, want 1", sum.DataPoints[0].Value)
	}

	hk := findMetric(rm, "whisperkey.hotkey.errors")
	if hk == nil {
		t.Fatal("hotkey errors metric not found")
	}
	if sum := hk.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 2 {
		t.Errorf("hotkey errors = %d, want 2", sum.DataPoints[0].Value)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
