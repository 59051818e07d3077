package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/coordinator"
	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/listen"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/worker"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

// ─── fakes ────────────────────────────────────────────────────────────────────

type fakeDetector struct {
	mu        sync.Mutex
	events    chan listen.Event
	initErr   error
	inits     int
	starts    int
	stops     int
	releases  int
	destroys  int
	destroyed bool
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{events: make(chan listen.Event, 32)}
}

func (d *fakeDetector) Initialize(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inits++
	return d.initErr
}

func (d *fakeDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	return nil
}

func (d *fakeDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDetector) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return nil
}

func (d *fakeDetector) released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *fakeDetector) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroys++
	if !d.destroyed {
		d.destroyed = true
		close(d.events)
	}
	return nil
}

func (d *fakeDetector) Events() <-chan listen.Event { return d.events }

func (d *fakeDetector) counts() (inits, starts, stops, destroys int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inits, d.starts, d.stops, d.destroys
}

var _ coordinator.Detector = (*fakeDetector)(nil)

// ─── fixture ──────────────────────────────────────────────────────────────────

type fixture struct {
	coord  *coordinator.Coordinator
	det    *fakeDetector
	prov   *sttmock.Provider
	proxy  *worker.Proxy
	gate   chan struct{}
	events <-chan coordinator.Event
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		det:    newFakeDetector(),
		gate:   make(chan struct{}),
		reader: reader,
	}
	f.prov = &sttmock.Provider{Gate: f.gate, Entered: make(chan stt.Request, 8)}
	f.proxy = worker.New(
		func(context.Context) (stt.Provider, error) { return f.prov, nil },
		worker.WithTimeout(timeout),
		worker.WithMetrics(m),
	)
	f.coord = coordinator.New(f.det, f.proxy, coordinator.WithMetrics(m))
	events, cancel := f.coord.Subscribe(64)
	f.events = events
	t.Cleanup(func() {
		cancel()
		close(f.gate)
		_ = f.coord.Destroy()
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.waitStatus(t, coordinator.StatusListening)
}

func (f *fixture) segment() {
	f.det.events <- listen.SpeechEnd{Segment: listen.Segment{
		Samples:    make([]float32, 16000),
		SampleRate: 16000,
	}}
}

// sync pushes a SpeechStart and waits for its status, so every detector event
// pushed before it has been handled on return.
func (f *fixture) sync(t *testing.T) []coordinator.Event {
	t.Helper()
	f.det.events <- listen.SpeechStart{}
	return f.waitStatus(t, coordinator.StatusSpeaking)
}

func (f *fixture) entered(t *testing.T) {
	t.Helper()
	select {
	case <-f.prov.Entered:
	case <-time.After(2 * time.Second):
		t.Fatal("transcription never reached the provider")
	}
}

// waitStatus reads events until a StatusEvent with want arrives and returns
// everything read before it.
func (f *fixture) waitStatus(t *testing.T, want coordinator.Status) []coordinator.Event {
	t.Helper()
	var seen []coordinator.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-f.events:
			if !ok {
				t.Fatalf("events closed while waiting for %q", want)
			}
			if st, ok := ev.(coordinator.StatusEvent); ok && st.Status == want {
				return seen
			}
			seen = append(seen, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for status %q (seen %#v)", want, seen)
		}
	}
}

func (f *fixture) segments(t *testing.T, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "earshot.segments" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("earshot.segments is %T", met.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok && v.AsString() == outcome {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func results(events []coordinator.Event) (res []coordinator.ResultEvent, errs []coordinator.ErrorEvent) {
	for _, ev := range events {
		switch ev := ev.(type) {
		case coordinator.ResultEvent:
			res = append(res, ev)
		case coordinator.ErrorEvent:
			errs = append(errs, ev)
		}
	}
	return res, errs
}

// drain returns whatever is currently buffered on the events channel.
func (f *fixture) drain() []coordinator.Event {
	var out []coordinator.Event
	for {
		select {
		case ev, ok := <-f.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestStart_LoadsThenListens(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)

	if got := f.coord.State(); got != coordinator.Idle {
		t.Fatalf("initial state = %v, want idle", got)
	}
	if err := f.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var statuses []coordinator.Status
	for _, ev := range append(f.waitStatus(t, coordinator.StatusListening), coordinator.StatusEvent{Status: coordinator.StatusListening}) {
		if st, ok := ev.(coordinator.StatusEvent); ok {
			statuses = append(statuses, st.Status)
		}
	}
	want := []coordinator.Status{coordinator.StatusLoading, coordinator.StatusReady, coordinator.StatusListening}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status[%d] = %q, want %q", i, statuses[i], want[i])
		}
	}
	if got := f.coord.State(); got != coordinator.Listening {
		t.Errorf("state = %v, want listening", got)
	}
	if !f.proxy.Ready() {
		t.Error("worker not initialised by Start")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)

	for range 2 {
		if err := f.coord.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if _, starts, _, _ := f.det.counts(); starts != 1 {
		t.Errorf("detector started %d times, want 1", starts)
	}
	for range 2 {
		if err := f.coord.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if _, _, stops, _ := f.det.counts(); stops != 1 {
		t.Errorf("detector stopped %d times, want 1", stops)
	}
	if got := f.coord.State(); got != coordinator.Idle {
		t.Errorf("state = %v, want idle", got)
	}

	if err := f.coord.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if inits, starts, _, _ := f.det.counts(); inits != 1 || starts != 2 {
		t.Errorf("after restart inits=%d starts=%d, want 1 and 2", inits, starts)
	}
}

func TestStart_DetectorFailureStaysIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.det.initErr = &fault.DeviceError{Err: errors.New("permission denied")}

	err := f.coord.Start(context.Background())
	var te *fault.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *fault.TranscriptionError", err)
	}
	if !errors.Is(err, fault.ErrDevice) {
		t.Errorf("err = %v, want to wrap ErrDevice", err)
	}
	if got := f.coord.State(); got != coordinator.Idle {
		t.Errorf("state = %v, want idle", got)
	}
	if _, starts, _, _ := f.det.counts(); starts != 0 {
		t.Errorf("detector started %d times after failed init", starts)
	}
}

func TestStart_WorkerFailureStaysIdle(t *testing.T) {
	t.Parallel()
	det := newFakeDetector()
	proxy := worker.New(func(context.Context) (stt.Provider, error) {
		return nil, errors.New("model file missing")
	})
	c := coordinator.New(det, proxy)
	defer c.Destroy()

	err := c.Start(context.Background())
	if !errors.Is(err, fault.ErrTranscription) || !errors.Is(err, fault.ErrModelLoad) {
		t.Fatalf("err = %v, want TranscriptionError wrapping ModelLoadError", err)
	}
	if got := c.State(); got != coordinator.Idle {
		t.Errorf("state = %v, want idle", got)
	}
	// The detector initialised fine, but the microphone must not stay held.
	if got := det.released(); got != 1 {
		t.Errorf("detector released %d times, want 1", got)
	}
	if _, _, _, destroys := det.counts(); destroys != 0 {
		t.Errorf("detector destroyed %d times before Destroy", destroys)
	}
}

func TestDestroy_ReleasesAndRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.start(t)

	if err := f.coord.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := f.coord.Destroy(); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
	if _, _, _, destroys := f.det.counts(); destroys != 1 {
		t.Errorf("detector destroyed %d times, want 1", destroys)
	}
	if f.prov.Closes() != 1 {
		t.Errorf("provider closed %d times, want 1", f.prov.Closes())
	}
	if err := f.coord.Start(context.Background()); !errors.Is(err, coordinator.ErrDestroyed) {
		t.Errorf("Start after Destroy = %v, want ErrDestroyed", err)
	}
	eventually(t, "events channel closed", func() bool {
		_, ok := <-f.events
		return !ok
	})
}

func TestPauseResume_WhileIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	if err := f.coord.Pause(); !errors.Is(err, coordinator.ErrNotRunning) {
		t.Errorf("Pause while idle = %v, want ErrNotRunning", err)
	}
	if err := f.coord.Resume(); !errors.Is(err, coordinator.ErrNotRunning) {
		t.Errorf("Resume while idle = %v, want ErrNotRunning", err)
	}
}

// ─── segments ─────────────────────────────────────────────────────────────────

func TestSegment_PublishesResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Results = []sttmock.Result{{Transcript: stt.Transcript{Text: " hello ", Language: "en"}}}
	f.start(t)

	f.segment()
	f.waitStatus(t, coordinator.StatusProcessing)
	f.entered(t)
	if got := f.coord.State(); got != coordinator.Processing {
		t.Errorf("state while transcribing = %v, want processing", got)
	}
	f.gate <- struct{}{}

	seen := f.waitStatus(t, coordinator.StatusListening)
	res, errs := results(seen)
	if len(errs) != 0 || len(res) != 1 {
		t.Fatalf("got %d results and %d errors, want 1 and 0", len(res), len(errs))
	}
	if res[0].Result.Text != "hello" || res[0].Result.Language != "en" {
		t.Errorf("result = %+v", res[0].Result)
	}
	if len(res[0].Result.Segment.Samples) != 16000 {
		t.Errorf("result carries %d samples, want 16000", len(res[0].Result.Segment.Samples))
	}
	if got := f.coord.State(); got != coordinator.Listening {
		t.Errorf("state = %v, want listening", got)
	}
	if n := f.segments(t, observe.OutcomeTranscribed); n != 1 {
		t.Errorf("transcribed segments = %d, want 1", n)
	}
}

func TestSegment_EmptyTextIsFiltered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Results = []sttmock.Result{{Transcript: stt.Transcript{Text: "  \n"}}}
	f.start(t)

	f.segment()
	f.entered(t)
	f.gate <- struct{}{}

	seen := f.waitStatus(t, coordinator.StatusListening)
	if res, errs := results(seen); len(res) != 0 || len(errs) != 0 {
		t.Fatalf("got %d results and %d errors for silence, want none", len(res), len(errs))
	}
	if n := f.segments(t, observe.OutcomeEmpty); n != 1 {
		t.Errorf("empty segments = %d, want 1", n)
	}
}

func TestSegment_FailureKeepsListening(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Results = []sttmock.Result{
		{Err: errors.New("decoder crashed")},
		{Transcript: stt.Transcript{Text: "second"}},
	}
	f.start(t)

	f.segment()
	f.entered(t)
	f.gate <- struct{}{}
	seen := f.waitStatus(t, coordinator.StatusListening)
	_, errs := results(seen)
	if len(errs) != 1 || !errors.Is(errs[0].Err, fault.ErrTranscription) {
		t.Fatalf("errors = %#v, want one TranscriptionError", errs)
	}

	f.segment()
	f.entered(t)
	f.gate <- struct{}{}
	res, _ := results(f.waitStatus(t, coordinator.StatusListening))
	if len(res) != 1 || res[0].Result.Text != "second" {
		t.Errorf("results = %#v, want one \"second\"", res)
	}
}

func TestSegment_AtMostOneInFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Default = stt.Transcript{Text: "ok"}
	f.start(t)

	for range 5 {
		f.segment()
	}
	f.sync(t)
	f.entered(t)

	if n := f.prov.CallCount(); n != 1 {
		t.Errorf("provider called %d times while busy, want 1", n)
	}
	if n := f.segments(t, observe.OutcomeDroppedBusy); n != 4 {
		t.Errorf("dropped_busy = %d, want 4", n)
	}

	f.gate <- struct{}{}
	f.waitStatus(t, coordinator.StatusListening)
	f.segment()
	f.entered(t)
	f.gate <- struct{}{}
	f.waitStatus(t, coordinator.StatusListening)

	if got := f.prov.MaxInFlight(); got != 1 {
		t.Errorf("max in-flight = %d, want 1", got)
	}
	if n := f.prov.CallCount(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestSegment_TimeoutThenRecovers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 200*time.Millisecond)
	f.prov.Default = stt.Transcript{Text: "after timeout"}
	f.start(t)

	f.segment()
	f.entered(t)
	seen := f.waitStatus(t, coordinator.StatusListening)
	_, errs := results(seen)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !errors.Is(errs[0].Err, fault.ErrTranscription) || !errors.Is(errs[0].Err, fault.ErrTimeout) {
		t.Errorf("err = %v, want a timed-out TranscriptionError", errs[0].Err)
	}
	if got := f.coord.State(); got != coordinator.Listening {
		t.Errorf("state after timeout = %v, want listening", got)
	}

	f.segment()
	f.entered(t)
	f.gate <- struct{}{}
	res, _ := results(f.waitStatus(t, coordinator.StatusListening))
	if len(res) != 1 || res[0].Result.Text != "after timeout" {
		t.Errorf("results = %#v, want the next segment transcribed", res)
	}
}

func TestMisfireAndSpeech_AreStatusOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.start(t)

	f.det.events <- listen.Misfire{Frames: 2}
	f.waitStatus(t, coordinator.StatusMisfire)
	f.sync(t)

	if got := f.coord.State(); got != coordinator.Listening {
		t.Errorf("state = %v, want listening", got)
	}
	if n := f.prov.CallCount(); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
	if n := f.segments(t, observe.OutcomeMisfire); n != 1 {
		t.Errorf("misfire segments = %d, want 1", n)
	}
}

// ─── pause and stop ───────────────────────────────────────────────────────────

func TestPaused_SegmentsAreNeverTranscribed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Default = stt.Transcript{Text: "resumed"}
	f.start(t)

	if err := f.coord.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	for range 3 {
		f.segment()
	}
	f.sync(t)
	if n := f.prov.CallCount(); n != 0 {
		t.Fatalf("provider called %d times while paused", n)
	}
	if n := f.segments(t, observe.OutcomeDroppedPaused); n != 3 {
		t.Errorf("dropped_paused = %d, want 3", n)
	}
	if got := f.coord.State(); got != coordinator.Paused {
		t.Errorf("state = %v, want paused", got)
	}

	if err := f.coord.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.segment()
	f.entered(t)
	f.gate <- struct{}{}
	res, _ := results(f.waitStatus(t, coordinator.StatusListening))
	if len(res) != 1 {
		t.Errorf("got %d results after resume, want 1", len(res))
	}
}

func TestPauseDuringProcessing_AlwaysDiscards(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Default = stt.Transcript{Text: "hello"}
	f.start(t)

	for i := range 10 {
		resume := i%2 == 1
		f.segment()
		f.entered(t)
		if err := f.coord.Pause(); err != nil {
			t.Fatalf("Pause: %v", err)
		}
		if resume {
			if err := f.coord.Resume(); err != nil {
				t.Fatalf("Resume: %v", err)
			}
		}
		f.gate <- struct{}{}

		eventually(t, "discarded result", func() bool {
			return f.segments(t, observe.OutcomeDiscarded) == int64(i+1)
		})
		if res, errs := results(f.drain()); len(res) != 0 || len(errs) != 0 {
			t.Fatalf("round %d: got %d results and %d errors after pause", i, len(res), len(errs))
		}
		want := coordinator.Paused
		if resume {
			want = coordinator.Listening
		}
		if got := f.coord.State(); got != want {
			t.Fatalf("round %d: state = %v, want %v", i, got, want)
		}
		if !resume {
			_ = f.coord.Resume()
		}
	}
}

func TestStop_SuppressesOutstandingResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.prov.Results = []sttmock.Result{{Transcript: stt.Transcript{Text: "late"}}}
	f.start(t)

	f.segment()
	f.entered(t)
	if err := f.coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f.gate <- struct{}{}

	eventually(t, "ignored result", func() bool {
		return f.segments(t, observe.OutcomeDiscarded) == 1
	})
	if res, errs := results(f.drain()); len(res) != 0 || len(errs) != 0 {
		t.Errorf("got %d results and %d errors after Stop", len(res), len(errs))
	}
	if got := f.coord.State(); got != coordinator.Idle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestDeviceLost_GoesIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	f.start(t)

	f.det.events <- listen.DeviceLost{Err: &fault.DeviceError{Err: errors.New("unplugged")}}
	_, errs := results(f.waitStatus(t, coordinator.StatusIdle))
	if len(errs) != 1 || !errors.Is(errs[0].Err, fault.ErrDevice) {
		t.Fatalf("errors = %#v, want one DeviceError", errs)
	}
	if got := f.coord.State(); got != coordinator.Idle {
		t.Errorf("state = %v, want idle", got)
	}

	// Restarting reopens the device instead of reporting Listening on a
	// detector with nothing to read.
	if err := f.coord.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.waitStatus(t, coordinator.StatusListening)
	if inits, starts, _, _ := f.det.counts(); inits != 2 || starts != 2 {
		t.Errorf("after restart inits=%d starts=%d, want 2 and 2", inits, starts)
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)
	ch, cancel := f.coord.Subscribe(1)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
}
