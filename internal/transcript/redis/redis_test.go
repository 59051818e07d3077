package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transcript/redis"
)

type fakeClient struct {
	mu      sync.Mutex
	adds    []*goredis.XAddArgs
	addErr  error
	pingErr error
	closed  int
}

func (f *fakeClient) XAdd(_ context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, a)
	if f.addErr != nil {
		return goredis.NewStringResult("", f.addErr)
	}
	return goredis.NewStringResult("1700000000000-0", nil)
}

func (f *fakeClient) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func newMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := redis.New(nil, "s"); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := redis.New(&fakeClient{}, ""); err == nil {
		t.Error("expected error for empty stream")
	}
}

func TestPublish_EncodesEntry(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	p, err := redis.New(fc, "earshot:transcripts", redis.WithMaxLen(500), redis.WithMetrics(newMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	err = p.Publish(context.Background(), transcript.Entry{
		Seq:         7,
		Text:        "meet me at the Tower of Whispers",
		Language:    "en",
		Confidence:  0.75,
		At:          at,
		Audio:       1500 * time.Millisecond,
		Elapsed:     320 * time.Millisecond,
		Corrections: []transcript.Correction{{Original: "tower of wispers", Corrected: "Tower of Whispers", Confidence: 0.98}},
		Recording:   "recording_1.wav",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fc.adds) != 1 {
		t.Fatalf("XAdd calls = %d, want 1", len(fc.adds))
	}
	args := fc.adds[0]
	if args.Stream != "earshot:transcripts" || args.MaxLen != 500 || !args.Approx {
		t.Errorf("args = stream %q maxlen %d approx %v", args.Stream, args.MaxLen, args.Approx)
	}
	values, ok := args.Values.(map[string]any)
	if !ok {
		t.Fatalf("Values type %T, want map", args.Values)
	}
	want := map[string]string{
		"seq":        "7",
		"text":       "meet me at the Tower of Whispers",
		"language":   "en",
		"confidence": "0.75",
		"at":         "2026-03-01T12:30:00Z",
		"audio_ms":   "1500",
		"elapsed_ms": "320",
		"recording":  "recording_1.wav",
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %v, want %q", k, values[k], v)
		}
	}
	var corrections []transcript.Correction
	if err := json.Unmarshal([]byte(values["corrections"].(string)), &corrections); err != nil {
		t.Fatalf("corrections not JSON: %v", err)
	}
	if len(corrections) != 1 || corrections[0].Corrected != "Tower of Whispers" {
		t.Errorf("corrections = %+v", corrections)
	}
}

func TestPublish_NoMaxLenOmitsTrim(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	p, _ := redis.New(fc, "s", redis.WithMetrics(newMetrics(t)))
	if err := p.Publish(context.Background(), transcript.Entry{Text: "hi"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if fc.adds[0].MaxLen != 0 || fc.adds[0].Approx {
		t.Errorf("trim set without WithMaxLen: %+v", fc.adds[0])
	}
	values := fc.adds[0].Values.(map[string]any)
	if _, ok := values["corrections"]; ok {
		t.Error("corrections field present for an entry without corrections")
	}
	if _, ok := values["recording"]; ok {
		t.Error("recording field present for an entry without recording")
	}
}

func TestPublish_Error(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection refused")
	p, _ := redis.New(&fakeClient{addErr: boom}, "s", redis.WithMetrics(newMetrics(t)))
	err := p.Publish(context.Background(), transcript.Entry{Text: "hi"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	p, _ := redis.New(fc, "s", redis.WithMetrics(newMetrics(t)))
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	fc.pingErr = errors.New("down")
	if err := p.Ping(context.Background()); err == nil {
		t.Error("Ping should fail when the server is down")
	}
	if err := p.Close(); err != nil || fc.closed != 1 {
		t.Errorf("Close: err=%v closed=%d", err, fc.closed)
	}
}
