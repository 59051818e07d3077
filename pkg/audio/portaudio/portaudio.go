// Package portaudio implements [audio.Source] on top of the PortAudio C
// library, giving Earshot access to the host microphone.
//
// PortAudio must be initialised once per process; [New] does this and the
// returned Source's Close terminates it. Each Capture opens a blocking input
// stream and reads it on a dedicated goroutine.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Source opens microphone captures through PortAudio. Only one Capture may be
// open at a time.
type Source struct {
	mu     sync.Mutex
	active *capture
	closed bool
}

var _ audio.Source = (*Source)(nil)

// New initialises PortAudio and returns a Source. The caller must call Close.
func New() (*Source, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w", err)
	}
	return &Source{}, nil
}

// Close terminates PortAudio. Any open capture is closed first.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.active
	s.mu.Unlock()

	if active != nil {
		_ = active.Close()
	}
	return pa.Terminate()
}

// InputDevice describes one capture-capable device.
type InputDevice struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListInputDevices returns every device with at least one input channel.
func (s *Source) ListInputDevices() ([]InputDevice, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []InputDevice
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, InputDevice{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Name == d.Name,
		})
	}
	return out, nil
}

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 1536
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("portaudio: source is closed")
	}
	if s.active != nil {
		return nil, audio.ErrDeviceBusy
	}

	dev, err := findDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	buf := make([]float32, cfg.FrameSamples*cfg.Channels)
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSamples

	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start stream on %q: %w", dev.Name, err)
	}

	c := &capture{
		source: s,
		stream: stream,
		buf:    buf,
		cfg:    cfg,
		frames: make(chan audio.Frame, 32),
		done:   make(chan struct{}),
	}
	s.active = c

	slog.Info("microphone opened",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"frame_samples", cfg.FrameSamples,
	)

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// release clears the active capture slot.
func (s *Source) release(c *capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == c {
		s.active = nil
	}
}

// findDevice resolves a device by name, or the default input when name is empty.
func findDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
		}
		return dev, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", audio.ErrNoDevice, name)
}

// capture is one open PortAudio input stream.
type capture struct {
	source *Source
	stream *pa.Stream
	buf    []float32
	cfg    audio.CaptureConfig

	frames chan audio.Frame
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (c *capture) Frames() <-chan audio.Frame { return c.frames }

func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.stream.Stop()
		c.wg.Wait()
		if cerr := c.stream.Close(); err == nil {
			err = cerr
		}
		c.source.release(c)
		slog.Info("microphone closed")
	})
	return err
}

// readLoop blocks on stream reads and forwards copies of each buffer.
func (c *capture) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	var read int64
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.err = fmt.Errorf("portaudio: read: %w", err)
				c.mu.Unlock()
			}
			return
		}

		samples := make([]float32, len(c.buf))
		copy(samples, c.buf)
		frame := audio.Frame{
			Samples:    samples,
			SampleRate: c.cfg.SampleRate,
			Channels:   c.cfg.Channels,
			Timestamp:  time.Duration(read) * time.Second / time.Duration(c.cfg.SampleRate),
		}
		read += int64(c.cfg.FrameSamples)

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		default:
			slog.Warn("portaudio: consumer too slow, dropping frame")
		}
	}
}
