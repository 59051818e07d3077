package playback_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/faiface/beep"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/pkg/audio"
)

// fakeOutput drains streams without a device. With hold set it keeps
// "playing" until ctx ends.
type fakeOutput struct {
	hold    bool
	started chan beep.Format

	mu     sync.Mutex
	frames int
}

func (o *fakeOutput) Play(ctx context.Context, s beep.Streamer, format beep.Format) error {
	if o.started != nil {
		o.started <- format
	}
	if o.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		o.mu.Lock()
		o.frames += n
		o.mu.Unlock()
		if !ok {
			return nil
		}
	}
}

func (o *fakeOutput) played() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) OnPlaybackStart() { l.add("start") }
func (l *recordingListener) OnPlaybackEnd(interrupted bool) {
	if interrupted {
		l.add("interrupted")
		return
	}
	l.add("end")
}
func (l *recordingListener) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}
func (l *recordingListener) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

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

func pcmClip(n, rate int) playback.Clip {
	data := make([]byte, 2*n)
	for i := range n {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(i)))
	}
	return playback.Clip{Data: data, Format: "pcm16", SampleRate: rate}
}

func TestDecode_PCM16(t *testing.T) {
	t.Parallel()
	s, f, err := playback.Decode(pcmClip(300, 22050))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Len() != 300 || f.SampleRate != 22050 {
		t.Errorf("len/rate = %d/%d, want 300/22050", s.Len(), f.SampleRate)
	}
	buf := make([][2]float64, 4)
	if n, ok := s.Stream(buf); n != 4 || !ok {
		t.Fatalf("Stream = %d, %v", n, ok)
	}
	if want := 3.0 / 32768; buf[3][0] != want || buf[3][1] != want {
		t.Errorf("frame 3 = %v, want %v on both channels", buf[3], want)
	}
}

func TestDecode_PCMAliasesAndDefaultRate(t *testing.T) {
	t.Parallel()
	for _, format := range []string{"pcm", "pcm_16000", "RAW"} {
		clip := pcmClip(10, 0)
		clip.Format = format
		_, f, err := playback.Decode(clip)
		if err != nil {
			t.Fatalf("Decode(%s): %v", format, err)
		}
		if f.SampleRate != 16000 {
			t.Errorf("Decode(%s) rate = %d, want 16000", format, f.SampleRate)
		}
	}
}

func TestDecode_WAV(t *testing.T) {
	t.Parallel()
	data, err := audio.EncodeWAV(make([]float32, 800), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	s, f, err := playback.Decode(playback.Clip{Data: data, Format: "wav"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer s.Close()
	if f.SampleRate != 16000 || s.Len() != 800 {
		t.Errorf("rate/len = %d/%d, want 16000/800", f.SampleRate, s.Len())
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()
	if _, _, err := playback.Decode(playback.Clip{Data: []byte{1}, Format: "flac"}); !errors.Is(err, playback.ErrUnsupportedFormat) {
		t.Errorf("flac err = %v, want ErrUnsupportedFormat", err)
	}
	if _, _, err := playback.Decode(playback.Clip{Format: "mp3"}); err == nil {
		t.Error("empty clip decoded")
	}
	if _, _, err := playback.Decode(playback.Clip{Data: []byte("not an mp3"), Format: "mp3"}); err == nil {
		t.Error("garbage mp3 decoded")
	}
	if _, _, err := playback.Decode(playback.Clip{Data: []byte("OggS garbage"), Format: "ogg"}); err == nil {
		t.Error("garbage ogg decoded")
	}
}

func TestPlayer_PlaysToEnd(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	l := &recordingListener{}
	p := playback.New(out, playback.WithListener(l), playback.WithMetrics(testMetrics(t)))

	if err := p.Play(context.Background(), pcmClip(1000, 16000)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if out.played() != 1000 {
		t.Errorf("played %d frames, want 1000", out.played())
	}
	if got := l.get(); len(got) != 2 || got[0] != "start" || got[1] != "end" {
		t.Errorf("listener = %v, want [start end]", got)
	}
	if p.Playing() {
		t.Error("Playing() = true after Play returned")
	}
}

func TestPlayer_StopInterrupts(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{hold: true, started: make(chan beep.Format, 1)}
	l := &recordingListener{}
	p := playback.New(out, playback.WithListener(l), playback.WithMetrics(testMetrics(t)))

	errCh := make(chan error, 1)
	go func() { errCh <- p.Play(context.Background(), pcmClip(100, 16000)) }()

	<-out.started
	if !p.Playing() {
		t.Error("Playing() = false during playback")
	}
	p.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, playback.ErrInterrupted) {
			t.Fatalf("err = %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Stop")
	}
	if got := l.get(); len(got) != 2 || got[1] != "interrupted" {
		t.Errorf("listener = %v, want [start interrupted]", got)
	}
	p.Stop()
}

func TestPlayer_NewClipReplacesCurrent(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{hold: true, started: make(chan beep.Format, 2)}
	p := playback.New(out, playback.WithMetrics(testMetrics(t)))

	first := make(chan error, 1)
	go func() { first <- p.Play(context.Background(), pcmClip(100, 16000)) }()
	<-out.started

	second := make(chan error, 1)
	go func() { second <- p.Play(context.Background(), pcmClip(100, 8000)) }()

	if err := <-first; !errors.Is(err, playback.ErrInterrupted) {
		t.Fatalf("first err = %v, want ErrInterrupted", err)
	}
	if f := <-out.started; f.SampleRate != 8000 {
		t.Errorf("second clip rate = %d, want 8000", f.SampleRate)
	}
	p.Stop()
	if err := <-second; !errors.Is(err, playback.ErrInterrupted) {
		t.Fatalf("second err = %v, want ErrInterrupted", err)
	}
}

func TestPlayer_ContextCancel(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{hold: true, started: make(chan beep.Format, 1)}
	p := playback.New(out, playback.WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Play(ctx, pcmClip(100, 16000)) }()
	<-out.started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPlayer_DecodeErrorSkipsListener(t *testing.T) {
	t.Parallel()
	l := &recordingListener{}
	p := playback.New(&fakeOutput{}, playback.WithListener(l), playback.WithMetrics(testMetrics(t)))
	if err := p.Play(context.Background(), playback.Clip{Data: []byte{1, 2}, Format: "aac"}); err == nil {
		t.Fatal("expected decode error")
	}
	if got := l.get(); len(got) != 0 {
		t.Errorf("listener = %v, want no events", got)
	}
}

func TestListenerFuncs_NilSafe(t *testing.T) {
	t.Parallel()
	var l playback.ListenerFuncs
	l.OnPlaybackStart()
	l.OnPlaybackEnd(true)

	var started, ended bool
	l = playback.ListenerFuncs{Start: func() { started = true }, End: func(bool) { ended = true }}
	l.OnPlaybackStart()
	l.OnPlaybackEnd(false)
	if !started || !ended {
		t.Error("callbacks not invoked")
	}
}
