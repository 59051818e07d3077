// Package coordinator sequences speech segments from a [Detector] through a
// [Transcriber] and publishes the outcome as typed events.
//
// The coordinator is a small state machine:
//
//	Idle ──Start──▶ Listening ──segment──▶ Processing ──done──▶ Listening
//	                    ▲   │
//	              Resume│   │Pause
//	                    │   ▼
//	                   Paused
//
// At most one transcription is outstanding at any time. A segment that
// finishes while another is being transcribed, or while paused, is dropped.
// A transcription that was running when Pause was called has its result
// discarded, even if Resume is called before it completes. Stop and Destroy
// never cancel the outstanding call; they only stop reacting to it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/listen"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

var (
	// ErrDestroyed is returned by Start, Pause and Resume after Destroy.
	ErrDestroyed = errors.New("coordinator: destroyed")

	// ErrNotRunning is returned by Pause and Resume while Idle.
	ErrNotRunning = errors.New("coordinator: not running")
)

// Detector produces speech segment events. [*listen.Adapter] implements it.
type Detector interface {
	Initialize(ctx context.Context) error
	Start() error
	Stop() error
	Release() error
	Destroy() error
	Events() <-chan listen.Event
}

// Transcriber turns samples into text. [*worker.Proxy] implements it.
type Transcriber interface {
	Initialize(ctx context.Context) error
	Transcribe(ctx context.Context, samples []float32) (stt.Transcript, error)
	Close() error
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithMetrics records segment outcomes on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	det     Detector
	tr      Transcriber
	metrics *observe.Metrics
	now     func() time.Time

	// life serialises Start, Stop and Destroy, which call into the detector
	// and transcriber without holding mu.
	life sync.Mutex

	mu          sync.Mutex
	state       State
	busy        bool
	generation  uint64
	pauses      uint64
	initialized bool
	destroyed   bool
	subs        map[uint64]*subscriber
	nextSub     uint64

	loopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// New returns an idle coordinator. It takes ownership of det and tr and
// releases both on Destroy.
func New(det Detector, tr Transcriber, opts ...Option) *Coordinator {
	c := &Coordinator{
		det:  det,
		tr:   tr,
		now:  time.Now,
		subs: make(map[uint64]*subscriber),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving every event published from now on.
// A subscriber that falls more than buffer events behind loses events. The
// channel is closed by cancel or by Destroy.
func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, buffer)}
	if c.destroyed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	return sub.ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			s.close()
		}
	}
}

func (s *subscriber) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Start initialises the detector and the transcriber on first use, then
// turns detection on. It is a no-op unless Idle. Any failure leaves the
// coordinator Idle and is returned as a [*fault.TranscriptionError].
func (c *Coordinator) Start(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.state != Idle {
		c.mu.Unlock()
		return nil
	}
	needInit := !c.initialized
	if needInit {
		c.publishLocked(StatusEvent{Status: StatusLoading, At: c.now()})
	}
	c.mu.Unlock()

	if needInit {
		if err := c.initialize(ctx); err != nil {
			slog.Error("coordinator: initialization failed", "err", err)
			return &fault.TranscriptionError{Err: err}
		}
	}
	if err := c.det.Start(); err != nil {
		return &fault.TranscriptionError{Err: fmt.Errorf("start detection: %w", err)}
	}
	c.loopOnce.Do(func() {
		c.wg.Add(1)
		go c.loop(c.det.Events())
	})

	c.mu.Lock()
	if needInit {
		c.initialized = true
		c.publishLocked(StatusEvent{Status: StatusReady, At: c.now()})
	}
	c.state = Listening
	c.publishLocked(StatusEvent{Status: StatusListening, At: c.now()})
	c.mu.Unlock()
	slog.Info("coordinator: listening")
	return nil
}

// initialize loads the detector and the recogniser concurrently. When either
// fails the microphone is handed back so a failed Start holds nothing.
func (c *Coordinator) initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.det.Initialize(gctx) })
	g.Go(func() error { return c.tr.Initialize(gctx) })
	err := g.Wait()
	if err != nil {
		if rerr := c.det.Release(); rerr != nil {
			slog.Warn("coordinator: failed to release detector", "err", rerr)
		}
	}
	return err
}

// Stop turns detection off and forgets any outstanding transcription. It is
// a no-op while Idle.
func (c *Coordinator) Stop() error {
	c.life.Lock()
	defer c.life.Unlock()
	return c.stop()
}

func (c *Coordinator) stop() error {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return nil
	}
	c.state = Idle
	c.generation++
	c.publishLocked(StatusEvent{Status: StatusIdle, At: c.now()})
	c.mu.Unlock()

	if err := c.det.Stop(); err != nil {
		return fmt.Errorf("coordinator: stop detection: %w", err)
	}
	slog.Info("coordinator: stopped")
	return nil
}

// Destroy stops the coordinator and releases the detector and the
// transcriber. Subscriber channels are closed. Later calls are no-ops.
func (c *Coordinator) Destroy() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var errs []error
	if err := c.stop(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.destroyed = true
	for id, s := range c.subs {
		delete(c.subs, id)
		s.close()
	}
	c.mu.Unlock()

	close(c.done)
	if err := c.det.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("coordinator: destroy detector: %w", err))
	}
	c.wg.Wait()
	if err := c.tr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("coordinator: close transcriber: %w", err))
	}
	return errors.Join(errs...)
}

// Pause keeps detection running but discards segments until Resume. A
// transcription already running when Pause is called is discarded too.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return ErrDestroyed
	case c.state == Idle:
		return ErrNotRunning
	case c.state == Paused:
		return nil
	}
	c.state = Paused
	c.pauses++
	c.publishLocked(StatusEvent{Status: StatusPaused, At: c.now()})
	slog.Debug("coordinator: paused", "in_flight", c.busy)
	return nil
}

// Resume undoes Pause. It is a no-op unless Paused.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return ErrDestroyed
	case c.state == Idle:
		return ErrNotRunning
	case c.state != Paused:
		return nil
	}
	if c.busy {
		c.state = Processing
		c.publishLocked(StatusEvent{Status: StatusProcessing, At: c.now()})
	} else {
		c.state = Listening
		c.publishLocked(StatusEvent{Status: StatusListening, At: c.now()})
	}
	slog.Debug("coordinator: resumed")
	return nil
}

// loop consumes detector events until Destroy.
func (c *Coordinator) loop(events <-chan listen.Event) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev listen.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return
	}

	switch ev := ev.(type) {
	case listen.SpeechStart:
		c.publishLocked(StatusEvent{Status: StatusSpeaking, At: c.now()})
	case listen.Misfire:
		c.metrics.RecordSegment(context.Background(), observe.OutcomeMisfire)
		c.publishLocked(StatusEvent{Status: StatusMisfire, At: c.now()})
	case listen.SpeechEnd:
		c.segmentLocked(ev.Segment)
	case listen.DeviceLost:
		slog.Error("coordinator: microphone lost", "err", ev.Err)
		c.state = Idle
		c.initialized = false
		c.generation++
		c.publishLocked(ErrorEvent{Err: ev.Err, At: c.now()})
		c.publishLocked(StatusEvent{Status: StatusIdle, At: c.now()})
	}
}

// segmentLocked starts transcribing seg unless paused or busy.
func (c *Coordinator) segmentLocked(seg listen.Segment) {
	ctx := context.Background()
	switch {
	case c.state == Paused:
		c.metrics.RecordSegment(ctx, observe.OutcomeDroppedPaused)
		slog.Debug("coordinator: segment dropped while paused", "duration", seg.Duration())
		return
	case c.busy:
		c.metrics.RecordSegment(ctx, observe.OutcomeDroppedBusy)
		slog.Debug("coordinator: segment dropped while processing", "duration", seg.Duration())
		return
	}

	c.busy = true
	c.state = Processing
	c.publishLocked(StatusEvent{Status: StatusProcessing, At: c.now()})
	go c.transcribe(seg, c.generation, c.pauses)
}

// transcribe runs one recognition and publishes the outcome if nothing
// invalidated it meanwhile.
func (c *Coordinator) transcribe(seg listen.Segment, generation, pauses uint64) {
	ctx := context.Background()
	start := time.Now()
	tr, err := c.tr.Transcribe(ctx, seg.Samples)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false

	if generation != c.generation {
		c.metrics.RecordSegment(ctx, observe.OutcomeDiscarded)
		slog.Debug("coordinator: result from a stopped session ignored")
		return
	}
	if c.state == Processing {
		c.state = Listening
	}

	switch {
	case pauses != c.pauses:
		c.metrics.RecordSegment(ctx, observe.OutcomeDiscarded)
		slog.Debug("coordinator: result discarded after pause", "err", err)
	case err != nil:
		c.metrics.RecordSegment(ctx, observe.OutcomeError)
		slog.Warn("coordinator: segment failed", "err", err)
		c.publishLocked(ErrorEvent{Err: err, At: c.now()})
	case strings.TrimSpace(tr.Text) == "":
		c.metrics.RecordSegment(ctx, observe.OutcomeEmpty)
		slog.Debug("coordinator: empty transcript skipped", "duration", seg.Duration())
	default:
		c.metrics.RecordSegment(ctx, observe.OutcomeTranscribed)
		c.publishLocked(ResultEvent{Result: Result{
			Text:       strings.TrimSpace(tr.Text),
			Language:   tr.Language,
			Confidence: tr.Confidence,
			Timestamp:  c.now(),
			Elapsed:    elapsed,
			Segment:    seg,
		}})
	}

	if c.state == Listening {
		c.publishLocked(StatusEvent{Status: StatusListening, At: c.now()})
	}
}

// publishLocked delivers ev to every subscriber without blocking.
func (c *Coordinator) publishLocked(ev Event) {
	for _, s := range c.subs {
		select {
		case s.ch <- ev:
		default:
			c.metrics.RecordEventDropped(context.Background(), "coordinator")
		}
	}
}
