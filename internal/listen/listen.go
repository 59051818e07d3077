// Package listen turns a continuous microphone stream into discrete speech
// segments.
//
// An [Adapter] owns the capture device exclusively from [Adapter.Initialize]
// until [Adapter.Destroy]. Frames are scored by a [vad.SessionHandle] and fed
// through a segmenter that emits [SpeechStart], [SpeechEnd] and [Misfire]
// events on [Adapter.Events]. Detection can be switched on and off with
// [Adapter.Start] and [Adapter.Stop] without releasing the device; frames that
// arrive while stopped are read and discarded so the capture never backs up.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const defaultEventBuffer = 64

var (
	// ErrNotInitialized is returned by Start before Initialize succeeded.
	ErrNotInitialized = errors.New("listen: adapter not initialized")

	// ErrDestroyed is returned by calls on a destroyed adapter.
	ErrDestroyed = errors.New("listen: adapter destroyed")
)

// Option configures an [Adapter].
type Option func(*Adapter)

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(a *Adapter) { a.eventBuffer = n }
}

// WithMetrics records dropped events on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter wraps a capture source and a VAD engine. All methods are safe for
// concurrent use.
type Adapter struct {
	cfg         Config
	source      audio.Source
	engine      vad.Engine
	metrics     *observe.Metrics
	eventBuffer int

	events chan Event

	// mu guards the lifecycle fields and serialises frame processing with
	// Stop so that a stopped adapter never emits.
	mu        sync.Mutex
	capture   audio.Capture
	session   vad.SessionHandle
	seg       *segmenter
	conv      *audio.FormatConverter
	pending   []float32
	running   bool
	destroyed bool
	starts    int
	stops     int

	done chan struct{}
	wg   sync.WaitGroup
}

// New validates cfg and returns an uninitialised adapter.
func New(source audio.Source, engine vad.Engine, cfg Config, opts ...Option) (*Adapter, error) {
	if source == nil || engine == nil {
		return nil, errors.New("listen: source and engine must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:         cfg,
		source:      source,
		engine:      engine,
		eventBuffer: defaultEventBuffer,
		seg:         newSegmenter(cfg),
		conv:        &audio.FormatConverter{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}},
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.events = make(chan Event, a.eventBuffer)
	return a, nil
}

// Events returns the channel on which detector events are delivered. It is
// closed by Destroy.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Initialize acquires the microphone and creates the detector session. It
// fails with a [*fault.DeviceError] when the device cannot be opened and
// with a [*fault.ModelLoadError] when the session cannot be created; in both
// cases nothing stays acquired. Calling Initialize again after success is a
// no-op.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}
	if a.capture != nil {
		return nil
	}

	capture, err := a.source.Open(ctx, audio.CaptureConfig{
		Device:       a.cfg.Device,
		SampleRate:   a.cfg.SampleRate,
		Channels:     1,
		FrameSamples: a.cfg.FrameSamples,
	})
	if err != nil {
		return &fault.DeviceError{Device: a.cfg.Device, Err: err}
	}

	session, err := a.engine.NewSession(vad.Config{
		SampleRate:        a.cfg.SampleRate,
		FrameSamples:      a.cfg.FrameSamples,
		PositiveThreshold: a.cfg.PositiveThreshold,
		NegativeThreshold: a.cfg.NegativeThreshold,
	})
	if err != nil {
		if cerr := capture.Close(); cerr != nil {
			slog.Warn("listen: failed to release device after vad error", "err", cerr)
		}
		return &fault.ModelLoadError{Component: "vad", Err: err}
	}

	a.capture = capture
	a.session = session
	a.wg.Add(1)
	go a.pump(capture)
	slog.Info("listen: microphone acquired", "device", deviceName(a.cfg.Device), "sample_rate", a.cfg.SampleRate)
	return nil
}

// Start begins detection. It is a no-op when already running.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.destroyed:
		return ErrDestroyed
	case a.capture == nil:
		return ErrNotInitialized
	case a.running:
		return nil
	}
	a.running = true
	a.starts++
	slog.Debug("listen: detection started")
	return nil
}

// Stop halts detection and drops any half-finished segment. It is a no-op
// when not running.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.stops++
	a.resetLocked()
	slog.Debug("listen: detection stopped")
	return nil
}

// Running reports whether detection is active.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Transitions returns how often detection was actually started and stopped.
func (a *Adapter) Transitions() (starts, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

// Release stops detection and gives the microphone back without destroying
// the adapter. Initialize acquires it again. It is a no-op when nothing is
// held.
func (a *Adapter) Release() error {
	a.mu.Lock()
	if a.destroyed || a.capture == nil {
		a.mu.Unlock()
		return nil
	}
	capture, session := a.detachLocked()
	a.mu.Unlock()

	err := release(capture, session)
	slog.Info("listen: microphone released")
	return err
}

// Destroy stops detection, closes the session and releases the microphone.
// The Events channel is closed once the capture goroutine has exited. Later
// calls are no-ops.
func (a *Adapter) Destroy() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	a.destroyed = true
	a.running = false
	capture, session := a.capture, a.session
	a.capture, a.session = nil, nil
	close(a.done)
	a.mu.Unlock()

	var errs []error
	if capture != nil {
		if err := capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("listen: close capture: %w", err))
		}
	}
	a.wg.Wait()
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("listen: close vad session: %w", err))
		}
	}
	close(a.events)
	slog.Info("listen: microphone released")
	return errors.Join(errs...)
}

// pump reads every captured frame until the stream ends.
func (a *Adapter) pump(capture audio.Capture) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case frame, ok := <-capture.Frames():
			if !ok {
				a.lost(capture, capture.Err())
				return
			}
			a.process(frame)
		}
	}
}

// process scores frame in detector-sized chunks and emits the resulting
// events.
func (a *Adapter) process(frame audio.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.session == nil {
		return
	}

	converted := a.conv.Convert(frame)
	base := frame.Timestamp - a.bufferedDuration()
	a.pending = append(a.pending, converted.Samples...)

	n := a.cfg.FrameSamples
	offset := 0
	for len(a.pending)-offset >= n {
		chunk := a.pending[offset : offset+n]
		ts := base + samplesDuration(offset, a.cfg.SampleRate)
		offset += n

		ev, err := a.session.ProcessFrame(chunk)
		if err != nil {
			slog.Warn("listen: vad rejected frame", "err", err)
			continue
		}
		for _, out := range a.seg.push(chunk, ev.Probability, ts) {
			a.emit(out)
		}
	}
	a.pending = append(a.pending[:0], a.pending[offset:]...)
}

// bufferedDuration is the length of the samples carried over from earlier
// frames.
func (a *Adapter) bufferedDuration() time.Duration {
	return samplesDuration(len(a.pending), a.cfg.SampleRate)
}

// emit delivers ev without blocking the capture path.
func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.metrics.RecordEventDropped(context.Background(), "listen")
		slog.Warn("listen: event dropped, consumer too slow", "event", fmt.Sprintf("%T", ev))
	}
}

// lost reports a capture stream that ended without Destroy or Release. The
// device and session are released, so Start fails with [ErrNotInitialized]
// until Initialize opens the device again.
func (a *Adapter) lost(capture audio.Capture, err error) {
	a.mu.Lock()
	if a.destroyed || a.capture != capture {
		a.mu.Unlock()
		return
	}
	if err == nil {
		err = errors.New("capture stream closed")
	}
	slog.Error("listen: capture stream ended", "err", err)
	_, session := a.detachLocked()
	a.mu.Unlock()

	if cerr := release(capture, session); cerr != nil {
		slog.Warn("listen: failed to release lost device", "err", cerr)
	}
	a.emit(DeviceLost{Err: &fault.DeviceError{Device: a.cfg.Device, Err: err}})
}

// detachLocked stops detection and hands the device and session to the
// caller, who closes them after unlocking.
func (a *Adapter) detachLocked() (audio.Capture, vad.SessionHandle) {
	a.running = false
	a.resetLocked()
	capture, session := a.capture, a.session
	a.capture, a.session = nil, nil
	return capture, session
}

func release(capture audio.Capture, session vad.SessionHandle) error {
	var errs []error
	if err := capture.Close(); err != nil {
		errs = append(errs, fmt.Errorf("listen: close capture: %w", err))
	}
	if err := session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("listen: close vad session: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Adapter) resetLocked() {
	a.seg.reset()
	a.pending = a.pending[:0]
	if a.session != nil {
		a.session.Reset()
	}
}

func samplesDuration(n, rate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(rate)
}

func deviceName(d string) string {
	if d == "" {
		return "default"
	}
	return d
}
