// Package observe holds Earshot's telemetry: OpenTelemetry instruments,
// spans and correlation IDs, context-aware slog loggers, and the HTTP
// middleware that records all three per request.
//
// [InitProvider] installs the global providers and exports metrics to
// Prometheus, served by [MetricsHandler]. Production code records into
// [DefaultMetrics]; tests build their own with [NewMetrics] over a manual
// reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/earshot"

// Segment outcomes recorded on [Metrics.Segments].
const (
	OutcomeTranscribed   = "transcribed"
	OutcomeEmpty         = "empty"
	OutcomeDroppedPaused = "dropped_paused"
	OutcomeDroppedBusy   = "dropped_busy"
	OutcomeDiscarded     = "discarded"
	OutcomeMisfire       = "misfire"
	OutcomeError         = "error"
)

// Metrics is the instrument set Earshot records into. The fields may be used
// directly; the Record methods cover the counters that carry attributes.
type Metrics struct {
	// Latencies, in seconds.
	STTDuration         metric.Float64Histogram // worker transcription, queue wait included
	ChatDuration        metric.Float64Histogram // chat backend round trip
	TTSDuration         metric.Float64Histogram // synthesis in the direct backend
	UploadDuration      metric.Float64Histogram // recording upload
	HTTPRequestDuration metric.Float64Histogram // control surface, by route and status

	Segments         metric.Int64Counter // by outcome
	ProviderRequests metric.Int64Counter // by provider, kind and status
	ProviderErrors   metric.Int64Counter // by provider and kind
	EventsDropped    metric.Int64Counter // by source

	QueueDepth     metric.Int64UpDownCounter
	PlaybackActive metric.Int64UpDownCounter
}

// latencyBuckets span a fast HTTP handler up to a slow model load, in
// seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp. It fails if any instrument
// cannot be created.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error

	latency := func(dst *metric.Float64Histogram, name, desc string) {
		h, err := m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		*dst = h
		errs = append(errs, err)
	}
	counter := func(dst *metric.Int64Counter, name, desc string) {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		*dst = c
		errs = append(errs, err)
	}
	gauge := func(dst *metric.Int64UpDownCounter, name, desc string) {
		g, err := m.Int64UpDownCounter(name, metric.WithDescription(desc))
		*dst = g
		errs = append(errs, err)
	}

	latency(&met.STTDuration, "earshot.stt.duration", "Latency of speech-to-text transcription.")
	latency(&met.ChatDuration, "earshot.chat.duration", "Latency of chat backend round trips.")
	latency(&met.TTSDuration, "earshot.tts.duration", "Latency of text-to-speech synthesis.")
	latency(&met.UploadDuration, "earshot.recordings.upload.duration", "Latency of recording uploads.")
	latency(&met.HTTPRequestDuration, "earshot.http.request.duration", "HTTP request latency by route and status.")

	counter(&met.Segments, "earshot.segments", "Finished speech segments by outcome.")
	counter(&met.ProviderRequests, "earshot.provider.requests", "Provider calls by provider, kind and status.")
	counter(&met.ProviderErrors, "earshot.provider.errors", "Failed provider calls by provider and kind.")
	counter(&met.EventsDropped, "earshot.events.dropped", "Events dropped because a subscriber was not keeping up.")

	gauge(&met.QueueDepth, "earshot.worker.queue_depth", "Transcription requests waiting for the worker.")
	gauge(&met.PlaybackActive, "earshot.playback.active", "Whether a reply clip is currently playing.")

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. Call it after [InitProvider] so the instruments are exported.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSegment counts one finished speech segment. outcome is one of the
// Outcome constants.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	add(ctx, m.Segments, Attr("outcome", outcome))
}

// RecordProviderRequest counts one call to a provider. status is "ok",
// "error" or "skipped".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	add(ctx, m.ProviderRequests, Attr("provider", provider), Attr("kind", kind), Attr("status", status))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	add(ctx, m.ProviderErrors, Attr("provider", provider), Attr("kind", kind))
}

// RecordEventDropped counts one event a slow subscriber of source missed.
func (m *Metrics) RecordEventDropped(ctx context.Context, source string) {
	add(ctx, m.EventsDropped, Attr("source", source))
}
