// Package playback plays synthesised replies and lets the user talk over
// them.
//
// A [Player] decodes a [Clip] and hands the stream to an [Output], usually
// the system speaker from the speaker subpackage. Only one clip plays at a
// time: starting a new clip or calling [Player.Stop] interrupts the current
// one. The [Listener] hears about every start and end, which the application
// uses to pause transcription while the assistant is talking.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"

	"github.com/MrWong99/earshot/internal/observe"
)

// ErrInterrupted is returned by [Player.Play] when the clip was stopped by
// [Player.Stop] or replaced by another clip.
var ErrInterrupted = errors.New("playback: interrupted")

// Clip is one encoded audio reply.
type Clip struct {
	Data []byte

	// Format is "mp3", "wav", "ogg" or "pcm16"; common aliases such as
	// "pcm_16000" are accepted.
	Format string

	// SampleRate is required for headerless PCM only.
	SampleRate int
}

// Output renders a decoded stream. Play blocks until the stream is drained
// or ctx is done, and must stop producing sound promptly in the latter case.
type Output interface {
	Play(ctx context.Context, s beep.Streamer, format beep.Format) error
}

// Listener is notified around every clip.
type Listener interface {
	OnPlaybackStart()
	// OnPlaybackEnd is called once per started clip. interrupted reports
	// whether the clip was cut short.
	OnPlaybackEnd(interrupted bool)
}

// ListenerFuncs adapts plain functions to [Listener]. Nil fields are
// skipped.
type ListenerFuncs struct {
	Start func()
	End   func(interrupted bool)
}

func (l ListenerFuncs) OnPlaybackStart() {
	if l.Start != nil {
		l.Start()
	}
}

func (l ListenerFuncs) OnPlaybackEnd(interrupted bool) {
	if l.End != nil {
		l.End(interrupted)
	}
}

// Option configures a [Player].
type Option func(*Player)

// WithListener registers the start/end listener.
func WithListener(l Listener) Option {
	return func(p *Player) { p.listener = l }
}

// WithMetrics sets the metrics recorder. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// Player plays one clip at a time on an [Output].
type Player struct {
	out      Output
	listener Listener
	metrics  *observe.Metrics

	// playMu serialises access to out.
	playMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64

	playing atomic.Bool
}

// New creates a Player on out.
func New(out Output, opts ...Option) *Player {
	p := &Player{out: out, listener: ListenerFuncs{}}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Play decodes clip and blocks until it has played, was interrupted
// ([ErrInterrupted]) or ctx ended (ctx.Err()). A clip that is already
// playing is interrupted first.
func (p *Player) Play(ctx context.Context, clip Clip) error {
	s, format, err := Decode(clip)
	if err != nil {
		return err
	}
	defer s.Close()

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	p.playMu.Lock()
	defer p.playMu.Unlock()
	if err := playCtx.Err(); err != nil {
		return interruption(ctx)
	}

	p.playing.Store(true)
	p.metrics.PlaybackActive.Add(ctx, 1)
	p.listener.OnPlaybackStart()
	observe.Logger(ctx).Debug("playback started", "format", clip.Format,
		"duration", format.SampleRate.D(s.Len()))

	err = p.out.Play(playCtx, s, format)

	interrupted := playCtx.Err() != nil
	p.playing.Store(false)
	p.metrics.PlaybackActive.Add(ctx, -1)
	p.listener.OnPlaybackEnd(interrupted)

	switch {
	case interrupted:
		return interruption(ctx)
	case err != nil:
		return fmt.Errorf("playback: %w", err)
	case s.Err() != nil:
		return fmt.Errorf("playback: stream: %w", s.Err())
	}
	return nil
}

func interruption(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrInterrupted
}

// Stop interrupts the clip that is playing, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Playing reports whether a clip is currently audible.
func (p *Player) Playing() bool { return p.playing.Load() }
