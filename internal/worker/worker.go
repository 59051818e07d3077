// Package worker runs a speech-to-text provider on a dedicated goroutine and
// exposes it through a request/response proxy.
//
// The provider is created by a Factory on the worker goroutine, so slow model
// loads never block the caller. Every call to [Proxy.Transcribe] gets a
// unique request id and is answered through a per-request channel looked up
// by that id. Requests issued before the model is ready wait in a FIFO queue
// and are served in arrival order once it is. A request that is not answered
// within the timeout fails with a [fault.TranscriptionError] wrapping
// [fault.ErrTimeout]; if the provider answers later anyway, the answer is
// logged and dropped.
//
// The proxy never runs two transcriptions at once. Callers that must not
// overlap requests (the coordinator) enforce that themselves; the proxy only
// guarantees ordering.
package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	// DefaultTimeout bounds a single request from submission to answer.
	DefaultTimeout = 30 * time.Second

	// DefaultSampleRate is the rate of the samples handed to Transcribe.
	DefaultSampleRate = 16000

	defaultQueueSize = 16
)

// ErrClosed is wrapped in the error returned by calls on a closed proxy.
var ErrClosed = errors.New("worker: proxy is closed")

// Factory loads the recogniser. It runs once, on the worker goroutine; ctx is
// cancelled when the proxy is closed.
type Factory func(ctx context.Context) (stt.Provider, error)

// Option configures a [Proxy].
type Option func(*Proxy)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.timeout = d }
}

// WithLanguage sets the language hint passed to the provider.
func WithLanguage(lang string) Option {
	return func(p *Proxy) { p.language = lang }
}

// WithSampleRate sets the rate of the samples given to Transcribe.
func WithSampleRate(rate int) Option {
	return func(p *Proxy) { p.sampleRate = rate }
}

// WithQueueSize sets how many requests may wait for the worker.
func WithQueueSize(n int) Option {
	return func(p *Proxy) { p.queueSize = n }
}

// WithMetrics records latency and queue depth on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(p *Proxy) { p.name = name }
}

// Proxy serialises transcription requests to a single worker goroutine.
// All methods are safe for concurrent use.
type Proxy struct {
	factory    Factory
	timeout    time.Duration
	language   string
	sampleRate int
	queueSize  int
	metrics    *observe.Metrics
	name       string

	startOnce sync.Once
	ready     chan struct{}
	loadErr   error // written before ready is closed

	queue chan *request

	mu       sync.Mutex
	pending  map[string]chan result
	provider stt.Provider

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type request struct {
	id       string
	samples  []float32
	deadline time.Time
	span     trace.SpanContext
}

type result struct {
	transcript stt.Transcript
	err        error
}

// New creates a proxy. The worker goroutine is not started until
// [Proxy.Initialize] or the first [Proxy.Transcribe].
func New(factory Factory, opts ...Option) *Proxy {
	p := &Proxy{
		factory:    factory,
		timeout:    DefaultTimeout,
		sampleRate: DefaultSampleRate,
		queueSize:  defaultQueueSize,
		name:       "stt",
		ready:      make(chan struct{}),
		pending:    make(map[string]chan result),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.queue = make(chan *request, p.queueSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// start spawns the worker goroutine exactly once.
func (p *Proxy) start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Initialize starts the worker and waits until the model is loaded. It fails
// with a [fault.ModelLoadError] when the factory fails. Later calls return
// the outcome of the first load.
func (p *Proxy) Initialize(ctx context.Context) error {
	if p.closed() {
		return ErrClosed
	}
	p.start()
	select {
	case <-p.ready:
		return p.loadErr
	case <-ctx.Done():
		return &fault.ModelLoadError{Component: "stt", Err: ctx.Err()}
	case <-p.done:
		return ErrClosed
	}
}

// Ready reports whether the model has loaded successfully.
func (p *Proxy) Ready() bool {
	select {
	case <-p.ready:
		return p.loadErr == nil
	default:
		return false
	}
}

// Check implements a readiness probe: nil once the model is loaded.
func (p *Proxy) Check(context.Context) error {
	select {
	case <-p.ready:
		return p.loadErr
	default:
		return errors.New("worker: model not loaded")
	}
}

// Queued returns the number of requests waiting for the worker.
func (p *Proxy) Queued() int {
	return len(p.queue)
}

// Transcribe submits samples and waits for the answer. Any failure, timeout
// included, is a [*fault.TranscriptionError].
func (p *Proxy) Transcribe(ctx context.Context, samples []float32) (stt.Transcript, error) {
	start := time.Now()
	req := &request{
		id:       observe.NewRequestID(),
		samples:  samples,
		deadline: start.Add(p.timeout),
	}
	fail := func(err error) (stt.Transcript, error) {
		p.metrics.RecordProviderRequest(ctx, p.name, "stt", "error")
		return stt.Transcript{}, &fault.TranscriptionError{RequestID: req.id, Err: err}
	}
	if p.closed() {
		return fail(ErrClosed)
	}

	ctx = observe.WithRequestID(ctx, req.id)
	ctx, span := observe.StartSpan(ctx, "worker.transcribe",
		trace.WithAttributes(
			attribute.String("request.id", req.id),
			attribute.Int("audio.samples", len(samples)),
		),
	)
	defer span.End()
	req.span = span.SpanContext()
	log := observe.Logger(ctx)

	p.start()

	resCh := make(chan result, 1)
	p.mu.Lock()
	p.pending[req.id] = resCh
	p.mu.Unlock()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case p.queue <- req:
		p.metrics.QueueDepth.Add(ctx, 1)
	case <-timer.C:
		p.forget(req.id)
		log.Warn("transcription request timed out while queued", "timeout", p.timeout)
		span.SetStatus(codes.Error, "timeout")
		return fail(fault.ErrTimeout)
	case <-ctx.Done():
		p.forget(req.id)
		return fail(ctx.Err())
	case <-p.done:
		p.forget(req.id)
		return fail(ErrClosed)
	}

	select {
	case res := <-resCh:
		p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
			p.metrics.RecordProviderError(ctx, p.name, "stt")
			log.Warn("transcription failed", "err", res.err)
			return fail(res.err)
		}
		p.metrics.RecordProviderRequest(ctx, p.name, "stt", "ok")
		log.Debug("transcription finished", "chars", len(res.transcript.Text), "elapsed", time.Since(start))
		return res.transcript, nil
	case <-timer.C:
		p.forget(req.id)
		log.Warn("transcription request timed out", "timeout", p.timeout)
		span.SetStatus(codes.Error, "timeout")
		return fail(fault.ErrTimeout)
	case <-ctx.Done():
		p.forget(req.id)
		return fail(ctx.Err())
	case <-p.done:
		p.forget(req.id)
		return fail(ErrClosed)
	}
}

// Close stops the worker and closes the provider when it implements
// io.Closer. A provider call that ignores cancellation delays Close until it
// returns. Calling Close more than once is safe.
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		prov := p.provider
		p.provider = nil
		p.mu.Unlock()
		if c, ok := prov.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (p *Proxy) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// forget removes a request whose caller stopped waiting.
func (p *Proxy) forget(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// ─── Worker goroutine ────────────────────────────────────────────────────────

func (p *Proxy) run() {
	defer p.wg.Done()

	prov, err := p.factory(p.ctx)
	if err == nil && prov == nil {
		err = errors.New("factory returned no provider")
	}
	if err != nil {
		p.loadErr = &fault.ModelLoadError{Component: "stt", Err: err}
		slog.Error("worker: failed to load recogniser", "provider", p.name, "err", err)
	} else {
		p.mu.Lock()
		p.provider = prov
		p.mu.Unlock()
		slog.Info("worker: recogniser ready", "provider", p.name)
	}
	close(p.ready)

	for {
		select {
		case <-p.done:
			return
		case req := <-p.queue:
			p.metrics.QueueDepth.Add(p.ctx, -1)
			p.serve(prov, req)
		}
	}
}

// serve answers one request. Requests whose caller already gave up are
// skipped without touching the provider.
func (p *Proxy) serve(prov stt.Provider, req *request) {
	if !p.isPending(req.id) {
		slog.Debug("worker: skipping abandoned request", "request_id", req.id)
		return
	}
	if p.loadErr != nil {
		p.deliver(req.id, result{err: p.loadErr})
		return
	}

	ctx, cancel := context.WithDeadline(p.ctx, req.deadline)
	defer cancel()
	ctx = trace.ContextWithRemoteSpanContext(ctx, req.span)
	ctx = observe.WithRequestID(ctx, req.id)

	tr, err := prov.Transcribe(ctx, stt.Request{
		Samples:    req.samples,
		SampleRate: p.sampleRate,
		Language:   p.language,
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fault.ErrTimeout
	}
	p.deliver(req.id, result{transcript: tr, err: err})
}

func (p *Proxy) isPending(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	return ok
}

// deliver hands res to the waiting caller, or drops it when the caller
// already timed out.
func (p *Proxy) deliver(id string, res result) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if !ok {
		slog.Info("worker: dropping late transcription response", "request_id", id, "err", res.err)
		return
	}
	ch <- res
}
