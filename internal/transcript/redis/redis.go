// Package redis publishes transcript entries to a Redis stream so other
// services can follow the conversation with XREAD.
//
// Each entry becomes one stream message with the fields seq, text, language,
// confidence, at (RFC 3339), audio_ms, elapsed_ms and, when present,
// corrections (JSON) and recording.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript"
)

// Client is the subset of *goredis.Client used by [Publisher].
type Client interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

var (
	_ Client               = (*goredis.Client)(nil)
	_ transcript.Publisher = (*Publisher)(nil)
)

// Option configures a [Publisher].
type Option func(*Publisher)

// WithMaxLen approximately caps the stream at n messages. Zero keeps
// everything.
func WithMaxLen(n int64) Option {
	return func(p *Publisher) { p.maxLen = n }
}

// WithTimeout bounds each XADD. Default: 2s.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.timeout = d }
}

// WithMetrics records failures on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// Publisher appends entries to one stream.
type Publisher struct {
	client  Client
	stream  string
	maxLen  int64
	timeout time.Duration
	metrics *observe.Metrics
}

// New returns a publisher writing to stream through client.
func New(client Client, stream string, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("redis: client is nil")
	}
	if stream == "" {
		return nil, errors.New("redis: stream name is empty")
	}
	p := &Publisher{
		client:  client,
		stream:  stream,
		timeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Dial connects to addr, verifies the connection with PING and returns a
// publisher that owns the client.
func Dial(ctx context.Context, addr, password string, db int, stream string, opts ...Option) (*Publisher, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return New(c, stream, opts...)
}

// Publish appends e to the stream.
func (p *Publisher) Publish(ctx context.Context, e transcript.Entry) error {
	values, err := encode(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := &goredis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.metrics.RecordProviderError(ctx, "redis", "publish")
		return fmt.Errorf("redis: xadd %s: %w", p.stream, err)
	}
	observe.Logger(ctx).Debug("redis: transcript published", "stream", p.stream, "id", id, "seq", e.Seq)
	return nil
}

// Ping checks the connection. It satisfies health.Checker via a closure.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func encode(e transcript.Entry) (map[string]any, error) {
	values := map[string]any{
		"seq":        strconv.FormatUint(e.Seq, 10),
		"text":       e.Text,
		"language":   e.Language,
		"confidence": strconv.FormatFloat(e.Confidence, 'f', -1, 64),
		"at":         e.At.UTC().Format(time.RFC3339Nano),
		"audio_ms":   strconv.FormatInt(e.Audio.Milliseconds(), 10),
		"elapsed_ms": strconv.FormatInt(e.Elapsed.Milliseconds(), 10),
	}
	if len(e.Corrections) > 0 {
		b, err := json.Marshal(e.Corrections)
		if err != nil {
			return nil, fmt.Errorf("redis: encode corrections: %w", err)
		}
		values["corrections"] = string(b)
	}
	if e.Recording != "" {
		values["recording"] = e.Recording
	}
	return values, nil
}
