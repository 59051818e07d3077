package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/worker"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func staticFactory(p stt.Provider) worker.Factory {
	return func(context.Context) (stt.Provider, error) { return p, nil }
}

func newProxy(t *testing.T, f worker.Factory, opts ...worker.Option) *worker.Proxy {
	t.Helper()
	opts = append([]worker.Option{worker.WithMetrics(testMetrics(t))}, opts...)
	p := worker.New(f, opts...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestTranscribe_ReturnsTranscript(t *testing.T) {
	t.Parallel()
	prov := &mock.Provider{Default: stt.Transcript{Text: "hello world", Confidence: 0.9}}
	p := newProxy(t, staticFactory(prov), worker.WithLanguage("de"), worker.WithSampleRate(16000))

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" {
		t.Errorf("Text = %q", tr.Text)
	}

	calls := prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	if got := calls[0].Req; got.SampleRate != 16000 || got.Language != "de" || len(got.Samples) != 1600 {
		t.Errorf("request = rate %d lang %q samples %d", got.SampleRate, got.Language, len(got.Samples))
	}
}

func TestInitialize_ModelLoadError(t *testing.T) {
	t.Parallel()
	var loads atomic.Int32
	cause := errors.New("model file corrupt")
	p := newProxy(t, func(context.Context) (stt.Provider, error) {
		loads.Add(1)
		return nil, cause
	})

	err := p.Initialize(context.Background())
	var mle *fault.ModelLoadError
	if !errors.As(err, &mle) {
		t.Fatalf("err = %v, want *fault.ModelLoadError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not wrapped: %v", err)
	}
	if err2 := p.Initialize(context.Background()); err2 != err {
		t.Errorf("second Initialize = %v, want first outcome %v", err2, err)
	}

	_, err = p.Transcribe(context.Background(), make([]float32, 10))
	if !errors.Is(err, fault.ErrTranscription) || !errors.Is(err, fault.ErrModelLoad) {
		t.Errorf("Transcribe err = %v, want transcription error wrapping model load", err)
	}
	if n := loads.Load(); n != 1 {
		t.Errorf("factory ran %d times, want 1", n)
	}
	if p.Ready() {
		t.Error("Ready() = true after failed load")
	}
}

func TestInitialize_ConcurrentCallsLoadOnce(t *testing.T) {
	t.Parallel()
	var loads atomic.Int32
	p := newProxy(t, func(context.Context) (stt.Provider, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &mock.Provider{}, nil
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Initialize(context.Background()); err != nil {
				t.Errorf("Initialize: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := loads.Load(); n != 1 {
		t.Errorf("factory ran %d times, want 1", n)
	}
	if !p.Ready() {
		t.Error("Ready() = false after load")
	}
}

func TestTranscribe_QueuedUntilReadyInArrivalOrder(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	prov := &mock.Provider{Default: stt.Transcript{Text: "ok"}}
	p := newProxy(t, func(context.Context) (stt.Provider, error) {
		<-release
		return prov, nil
	}, worker.WithTimeout(5*time.Second))

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Transcribe(context.Background(), make([]float32, i)); err != nil {
				t.Errorf("Transcribe %d: %v", i, err)
			}
		}()
		waitFor(t, func() bool { return p.Queued() == i })
	}
	if n := prov.CallCount(); n != 0 {
		t.Fatalf("provider called %d times before ready", n)
	}

	close(release)
	wg.Wait()

	calls := prov.Calls()
	if len(calls) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(calls))
	}
	for i, c := range calls {
		if len(c.Req.Samples) != i+1 {
			t.Errorf("call %d carried %d samples, want %d", i, len(c.Req.Samples), i+1)
		}
	}
	if got := prov.MaxInFlight(); got != 1 {
		t.Errorf("max in flight = %d, want 1", got)
	}
}

func TestTranscribe_TimeoutThenNextRequestSucceeds(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	prov := &mock.Provider{Gate: gate, Default: stt.Transcript{Text: "second"}}
	p := newProxy(t, staticFactory(prov), worker.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := p.Transcribe(context.Background(), make([]float32, 100))
	if !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var te *fault.TranscriptionError
	if !errors.As(err, &te) || te.RequestID == "" {
		t.Errorf("err = %v, want TranscriptionError with request id", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("timed out after %v, before the configured timeout", elapsed)
	}

	close(gate)
	tr, err := p.Transcribe(context.Background(), make([]float32, 100))
	if err != nil {
		t.Fatalf("second Transcribe: %v", err)
	}
	if tr.Text != "second" {
		t.Errorf("Text = %q, want second", tr.Text)
	}
}

// stubbornProvider ignores cancellation, which lets a response arrive after
// its request timed out.
type stubbornProvider struct {
	release chan struct{}
}

func (s *stubbornProvider) Transcribe(_ context.Context, req stt.Request) (stt.Transcript, error) {
	<-s.release
	return stt.Transcript{Text: fmt.Sprintf("samples=%d", len(req.Samples))}, nil
}

func TestTranscribe_LateResponseIsDropped(t *testing.T) {
	t.Parallel()
	prov := &stubbornProvider{release: make(chan struct{})}
	p := newProxy(t, staticFactory(prov), worker.WithTimeout(200*time.Millisecond))

	if _, err := p.Transcribe(context.Background(), make([]float32, 1)); !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("first err = %v, want ErrTimeout", err)
	}

	type outcome struct {
		tr  stt.Transcript
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		tr, err := p.Transcribe(context.Background(), make([]float32, 2))
		second <- outcome{tr, err}
	}()
	waitFor(t, func() bool { return p.Queued() == 1 })
	close(prov.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("second err = %v", got.err)
	}
	if got.tr.Text != "samples=2" {
		t.Errorf("second Text = %q, want the second request's answer", got.tr.Text)
	}
}

func TestTranscribe_ProviderError(t *testing.T) {
	t.Parallel()
	cause := errors.New("decoder crashed")
	p := newProxy(t, staticFactory(&mock.Provider{TranscribeErr: cause}))

	_, err := p.Transcribe(context.Background(), make([]float32, 10))
	if !errors.Is(err, cause) || !errors.Is(err, fault.ErrTranscription) {
		t.Errorf("err = %v, want TranscriptionError wrapping cause", err)
	}
}

func TestTranscribe_CallerCancellation(t *testing.T) {
	t.Parallel()
	prov := &mock.Provider{Gate: make(chan struct{})}
	p := newProxy(t, staticFactory(prov))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, make([]float32, 10))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestClose_ClosesProviderAndRejectsCalls(t *testing.T) {
	t.Parallel()
	prov := &mock.Provider{}
	p := worker.New(staticFactory(prov), worker.WithMetrics(testMetrics(t)))
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if n := prov.Closes(); n != 1 {
		t.Errorf("provider closed %d times, want 1", n)
	}

	_, err := p.Transcribe(context.Background(), make([]float32, 10))
	if !errors.Is(err, worker.ErrClosed) {
		t.Errorf("Transcribe after Close = %v, want ErrClosed", err)
	}
	if err := p.Initialize(context.Background()); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("Initialize after Close = %v, want ErrClosed", err)
	}
}

func TestClose_UnblocksWaitingCaller(t *testing.T) {
	t.Parallel()
	prov := &mock.Provider{Gate: make(chan struct{})}
	p := worker.New(staticFactory(prov), worker.WithMetrics(testMetrics(t)))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Transcribe(context.Background(), make([]float32, 10))
		errCh <- err
	}()
	waitFor(t, func() bool { return prov.CallCount() == 1 })
	_ = p.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, fault.ErrTranscription) {
			t.Errorf("err = %v, want TranscriptionError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transcribe did not return after Close")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	p := newProxy(t, func(context.Context) (stt.Provider, error) {
		<-release
		return &mock.Provider{}, nil
	})
	if err := p.Check(context.Background()); err == nil {
		t.Error("Check before load = nil, want error")
	}
	close(release)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("Check after load = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}
