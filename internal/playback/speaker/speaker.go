// Package speaker is the [playback.Output] for the system's default sound
// device, built on beep's speaker.
package speaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/MrWong99/earshot/internal/playback"
)

// Defaults for the device stream.
const (
	DefaultSampleRate = 44100
	DefaultBuffer     = 100 * time.Millisecond
)

// resampleQuality trades CPU for fidelity when a clip's rate differs from the
// device rate.
const resampleQuality = 4

// Option configures an [Output].
type Option func(*Output)

// WithSampleRate sets the device rate. Clips at other rates are resampled.
func WithSampleRate(hz int) Option {
	return func(o *Output) {
		if hz > 0 {
			o.rate = beep.SampleRate(hz)
		}
	}
}

// WithBuffer sets the device buffer length. Shorter buffers make barge-in
// more responsive at the risk of underruns.
func WithBuffer(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.buffer = d
		}
	}
}

// Output plays streams on the default sound device. The device is opened on
// the first Play.
type Output struct {
	rate   beep.SampleRate
	buffer time.Duration

	initOnce sync.Once
	initErr  error
}

var _ playback.Output = (*Output)(nil)

// New creates an Output.
func New(opts ...Option) *Output {
	o := &Output{rate: DefaultSampleRate, buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) init() error {
	o.initOnce.Do(func() {
		if err := speaker.Init(o.rate, o.rate.N(o.buffer)); err != nil {
			o.initErr = fmt.Errorf("speaker: init device at %d Hz: %w", o.rate, err)
		}
	})
	return o.initErr
}

// Play implements [playback.Output].
func (o *Output) Play(ctx context.Context, s beep.Streamer, format beep.Format) error {
	if err := o.init(); err != nil {
		return err
	}
	src := s
	if format.SampleRate != o.rate {
		src = beep.Resample(resampleQuality, format.SampleRate, o.rate, s)
	}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(src, beep.Callback(func() { close(done) }))}
	speaker.Play(ctrl)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

// Close silences anything still queued on the device.
func (o *Output) Close() error {
	if o.initErr == nil {
		speaker.Clear()
	}
	return nil
}
