package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
)

const (
	// DefaultContextSize is how many earlier messages are sent with each
	// request.
	DefaultContextSize = 10

	// defaultMaxHistory bounds the retained conversation.
	defaultMaxHistory = 200
)

// Option configures a [Session].
type Option func(*Session)

// WithContextSize sets how many earlier messages accompany each request.
// Values below 1 are ignored.
func WithContextSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.contextSize = n
		}
	}
}

// WithMaxHistory bounds how many messages the session retains for
// [Session.History]. Values below 1 are ignored.
func WithMaxHistory(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithBreaker replaces the default circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Session) { s.breakerCfg = cfg }
}

// WithMetrics sets the metrics recorder. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithName labels the backend in logs and metrics. Defaults to "chat".
func WithName(name string) Option {
	return func(s *Session) { s.name = name }
}

// Session is a conversation with a [Backend]. It keeps the history, sends the
// most recent part of it as context, and answers one message at a time.
//
// A message is added to the history together with its answer, so a failed
// call leaves the conversation untouched.
type Session struct {
	backend     Backend
	breaker     *resilience.CircuitBreaker
	breakerCfg  resilience.CircuitBreakerConfig
	metrics     *observe.Metrics
	name        string
	contextSize int
	maxHistory  int

	inFlight atomic.Bool

	mu      sync.Mutex
	history []Message
	epoch   uint64 // bumped by Clear
}

// NewSession creates a Session on top of backend.
func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:     backend,
		name:        "chat",
		contextSize: DefaultContextSize,
		maxHistory:  defaultMaxHistory,
		breakerCfg: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.breakerCfg.Name == "" {
		s.breakerCfg.Name = s.name
	}
	s.breaker = resilience.NewCircuitBreaker(s.breakerCfg)
	return s
}

// Chat sends message and returns the text answer.
func (s *Session) Chat(ctx context.Context, message string) (string, error) {
	reply, err := s.send(ctx, "text", message, func(ctx context.Context, history []Message) (*VoiceReply, error) {
		text, err := s.backend.Chat(ctx, message, history)
		if err != nil {
			return nil, err
		}
		return &VoiceReply{Text: text}, nil
	})
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// ChatWithVoice sends message and returns the answer with speech. The reply's
// audio description is defaulted when the backend omits it.
func (s *Session) ChatWithVoice(ctx context.Context, message string) (*VoiceReply, error) {
	reply, err := s.send(ctx, "voice", message, func(ctx context.Context, history []Message) (*VoiceReply, error) {
		return s.backend.ChatWithVoice(ctx, message, history)
	})
	if err != nil {
		return nil, err
	}
	reply.ApplyDefaults()
	return reply, nil
}

func (s *Session) send(
	ctx context.Context,
	mode, message string,
	call func(context.Context, []Message) (*VoiceReply, error),
) (*VoiceReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.inFlight.Store(false)

	s.mu.Lock()
	history := s.contextLocked()
	epoch := s.epoch
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "chat.send",
		trace.WithAttributes(
			attribute.String("chat.backend", s.name),
			attribute.String("chat.mode", mode),
			attribute.Int("chat.context", len(history)),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	var reply *VoiceReply
	err := s.breaker.Execute(func() error {
		var err error
		reply, err = call(ctx, history)
		if err == nil && reply == nil {
			err = &BackendError{Message: "empty reply"}
		}
		return err
	})
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ChatDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("mode", mode), attribute.String("status", status)))
	s.metrics.RecordProviderRequest(ctx, s.name, "chat", status)

	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			s.metrics.RecordProviderError(ctx, s.name, "chat")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("chat request failed", "mode", mode, "elapsed", elapsed, "err", err)
		return nil, err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.appendLocked(
			Message{Role: RoleUser, Content: message},
			Message{Role: RoleAssistant, Content: reply.Text},
		)
	}
	s.mu.Unlock()

	log.Debug("chat reply received", "mode", mode, "elapsed", elapsed,
		"chars", len(reply.Text), "audio_bytes", len(reply.Audio))
	return reply, nil
}

// contextLocked returns a copy of the most recent contextSize messages.
func (s *Session) contextLocked() []Message {
	h := s.history
	if len(h) > s.contextSize {
		h = h[len(h)-s.contextSize:]
	}
	return append([]Message(nil), h...)
}

func (s *Session) appendLocked(msgs ...Message) {
	s.history = append(s.history, msgs...)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns a copy of the retained conversation, oldest first.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Clear forgets the conversation. An answer that is still outstanding is not
// added to the new conversation.
func (s *Session) Clear() {
	s.mu.Lock()
	s.history = nil
	s.epoch++
	s.mu.Unlock()
}

// Busy reports whether a message is currently being answered.
func (s *Session) Busy() bool { return s.inFlight.Load() }

// BreakerState reports the state of the backend's circuit breaker.
func (s *Session) BreakerState() resilience.State { return s.breaker.State() }
