package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// chain is the part shared by the typed fallbacks below.
type chain[T any] struct {
	group *FallbackGroup[T]
}

func newChain[T any](primary T, name, kind string, cfg FallbackConfig) chain[T] {
	if cfg.Kind == "" {
		cfg.Kind = kind
	}
	return chain[T]{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers a backend tried after the ones already added.
func (c chain[T]) AddFallback(name string, p T) { c.group.AddFallback(name, p) }

// Status reports the breaker state of every registered backend.
func (c chain[T]) Status() []EntryStatus { return c.group.Status() }

// Healthy reports whether at least one backend's breaker is not open.
func (c chain[T]) Healthy() bool { return c.group.Healthy() }

// Close closes every backend that implements io.Closer.
func (c chain[T]) Close() error { return c.group.Close() }

// ─── STT ─────────────────────────────────────────────────────────────────────

// STTFallback is an [stt.Provider] that fails over between recognisers.
type STTFallback struct {
	chain[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. Metrics are labelled "stt" unless cfg.Kind says otherwise.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{newChain(primary, primaryName, "stt", cfg)}
}

// Transcribe sends the segment to the first backend that accepts it.
// Invalid requests are rejected before any breaker sees them.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := req.Validate(); err != nil {
		return stt.Transcript{}, err
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// ─── LLM ─────────────────────────────────────────────────────────────────────

// LLMFallback is an [llm.Provider] that fails over between chat models.
type LLMFallback struct {
	chain[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{newChain(primary, primaryName, "llm", cfg)}
}

// Complete asks the first backend that accepts the request.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ─── TTS ─────────────────────────────────────────────────────────────────────

// TTSFallback is a [tts.Provider] that fails over between voices.
type TTSFallback struct {
	chain[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{newChain(primary, primaryName, "tts", cfg)}
}

// Synthesize renders req with the first backend that accepts it. Backends
// may answer in different formats; callers must honour [tts.Audio.Format].
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}
