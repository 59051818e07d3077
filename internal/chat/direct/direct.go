// Package direct is a [chat.Backend] that runs the conversation in-process
// with an [llm.Provider] for the answer and an optional [tts.Provider] for
// its speech.
package direct

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/internal/chat"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// DefaultSystemPrompt keeps answers short enough to be spoken.
const DefaultSystemPrompt = "You are a helpful voice assistant. Answer in one to three short, " +
	"conversational sentences without markdown, lists or emoji, because your reply is read aloud."

// Option configures a [Backend].
type Option func(*Backend)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(b *Backend) { b.systemPrompt = p }
}

// WithVoice selects the TTS voice. Empty keeps the provider default.
func WithVoice(v string) Option {
	return func(b *Backend) { b.voice = v }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(b *Backend) { b.temperature = t }
}

// WithMaxTokens caps the answer length.
func WithMaxTokens(n int) Option {
	return func(b *Backend) { b.maxTokens = n }
}

// WithMetrics sets the metrics recorder. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// Backend answers messages with local providers.
type Backend struct {
	llm          llm.Provider
	tts          tts.Provider
	systemPrompt string
	prompt       atomic.Pointer[string]
	voice        string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

var _ chat.Backend = (*Backend)(nil)

// New creates a Backend. speech may be nil, in which case ChatWithVoice
// answers with text only.
func New(model llm.Provider, speech tts.Provider, opts ...Option) (*Backend, error) {
	if model == nil {
		return nil, errors.New("direct: llm provider is required")
	}
	b := &Backend{llm: model, tts: speech, systemPrompt: DefaultSystemPrompt}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	b.prompt.Store(&b.systemPrompt)
	return b, nil
}

// SetSystemPrompt replaces the system prompt for subsequent calls. An empty
// p restores [DefaultSystemPrompt].
func (b *Backend) SetSystemPrompt(p string) {
	if p == "" {
		p = DefaultSystemPrompt
	}
	b.prompt.Store(&p)
}

// Chat implements [chat.Backend].
func (b *Backend) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role, err := convertRole(m.Role)
		if err != nil {
			return "", err
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	resp, err := b.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: *b.prompt.Load(),
		Temperature:  b.temperature,
		MaxTokens:    b.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("direct: complete: %w", err)
	}
	if resp.FinishReason == "length" {
		observe.Logger(ctx).Warn("direct: answer cut off at the token limit", "max_tokens", b.maxTokens)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", &chat.BackendError{Message: "model returned an empty answer"}
	}
	return text, nil
}

// ChatWithVoice implements [chat.Backend]. When synthesis fails the text is
// returned without audio and the failure is only logged.
func (b *Backend) ChatWithVoice(ctx context.Context, message string, history []chat.Message) (*chat.VoiceReply, error) {
	text, err := b.Chat(ctx, message, history)
	if err != nil {
		return nil, err
	}
	reply := &chat.VoiceReply{Text: text}
	if b.tts == nil {
		return reply, nil
	}

	start := time.Now()
	audio, err := b.tts.Synthesize(ctx, tts.Request{Text: text, Voice: b.voice})
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	if err != nil {
		b.metrics.RecordProviderError(ctx, "tts", "synthesize")
		observe.Logger(ctx).Warn("speech synthesis failed, answering with text only", "err", err)
		return reply, nil
	}

	reply.Audio = audio.Data
	reply.Format = audio.Format
	reply.SampleRate = audio.SampleRate
	return reply, nil
}

func convertRole(role string) (string, error) {
	switch role {
	case chat.RoleUser:
		return llm.RoleUser, nil
	case chat.RoleAssistant:
		return llm.RoleAssistant, nil
	default:
		return "", fmt.Errorf("direct: unsupported history role %q", role)
	}
}
