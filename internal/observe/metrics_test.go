package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// recorded runs record against fresh instruments and returns what a scrape
// would see afterwards.
func recorded(t *testing.T, record func(ctx context.Context, m *Metrics)) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	record(context.Background(), m)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// point returns the value of counter or up-down counter name at the data
// point matching attrs, or -1 when no point matches.
func point(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s: not exported", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: got %T, want an int64 sum", name, met.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return -1
}

// samples returns how many observations histogram name holds across all
// attribute sets.
func samples(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s: not exported", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s: got %T, want a float64 histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestLatencyHistograms(t *testing.T) {
	t.Parallel()
	rm := recorded(t, func(ctx context.Context, m *Metrics) {
		for _, h := range []metric.Float64Histogram{m.STTDuration, m.ChatDuration, m.TTSDuration, m.UploadDuration} {
			h.Record(ctx, 0.2)
			h.Record(ctx, 1.4)
		}
		m.HTTPRequestDuration.Record(ctx, 0.003, metric.WithAttributes(Attr("route", "GET /api/state"), Attr("status", "200")))
	})

	tests := []struct {
		name string
		want uint64
	}{
		{"earshot.stt.duration", 2},
		{"earshot.chat.duration", 2},
		{"earshot.tts.duration", 2},
		{"earshot.recordings.upload.duration", 2},
		{"earshot.http.request.duration", 1},
	}
	for _, tt := range tests {
		if got := samples(t, rm, tt.name); got != tt.want {
			t.Errorf("%s: %d samples, want %d", tt.name, got, tt.want)
		}
	}
}

func TestLatencyHistograms_UseSecondBuckets(t *testing.T) {
	t.Parallel()
	rm := recorded(t, func(ctx context.Context, m *Metrics) {
		m.STTDuration.Record(ctx, 0.7)
	})
	met := findMetric(rm, "earshot.stt.duration")
	if met == nil {
		t.Fatal("earshot.stt.duration not exported")
	}
	if met.Unit != "s" {
		t.Errorf("unit = %q, want s", met.Unit)
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Bounds; len(got) != len(latencyBuckets) {
		t.Errorf("bounds = %v, want %v", got, latencyBuckets)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	rm := recorded(t, func(ctx context.Context, m *Metrics) {
		m.RecordSegment(ctx, OutcomeTranscribed)
		m.RecordSegment(ctx, OutcomeDroppedBusy)
		m.RecordSegment(ctx, OutcomeDroppedBusy)
		m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
		m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
		m.RecordProviderRequest(ctx, "openai", "stt", "skipped")
		m.RecordProviderError(ctx, "elevenlabs", "tts")
		m.RecordEventDropped(ctx, "coordinator")
		m.RecordEventDropped(ctx, "hub")
		m.RecordEventDropped(ctx, "hub")
	})

	tests := []struct {
		name   string
		metric string
		attrs  []attribute.KeyValue
		want   int64
	}{
		{"transcribed segment", "earshot.segments", []attribute.KeyValue{Attr("outcome", OutcomeTranscribed)}, 1},
		{"busy drops", "earshot.segments", []attribute.KeyValue{Attr("outcome", OutcomeDroppedBusy)}, 2},
		{"no paused drops", "earshot.segments", []attribute.KeyValue{Attr("outcome", OutcomeDroppedPaused)}, -1},
		{"primary ok", "earshot.provider.requests", []attribute.KeyValue{Attr("provider", "whisper"), Attr("kind", "stt"), Attr("status", "ok")}, 2},
		{"fallback skipped", "earshot.provider.requests", []attribute.KeyValue{Attr("provider", "openai"), Attr("kind", "stt"), Attr("status", "skipped")}, 1},
		{"tts error", "earshot.provider.errors", []attribute.KeyValue{Attr("provider", "elevenlabs"), Attr("kind", "tts")}, 1},
		{"hub drops", "earshot.events.dropped", []attribute.KeyValue{Attr("source", "hub")}, 2},
		{"coordinator drops", "earshot.events.dropped", []attribute.KeyValue{Attr("source", "coordinator")}, 1},
	}
	for _, tt := range tests {
		if got := point(t, rm, tt.metric, tt.attrs...); got != tt.want {
			t.Errorf("%s: %s = %d, want %d", tt.name, tt.metric, got, tt.want)
		}
	}
}

func TestGauges_GoUpAndDown(t *testing.T) {
	t.Parallel()
	rm := recorded(t, func(ctx context.Context, m *Metrics) {
		m.QueueDepth.Add(ctx, 3)
		m.QueueDepth.Add(ctx, -1)
		m.PlaybackActive.Add(ctx, 1)
		m.PlaybackActive.Add(ctx, -1)
	})
	if got := point(t, rm, "earshot.worker.queue_depth"); got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}
	if got := point(t, rm, "earshot.playback.active"); got != 0 {
		t.Errorf("playback active = %d, want 0", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
