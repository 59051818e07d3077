// This file contains the Native provider backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// nativeSampleRate is the only input rate whisper.cpp accepts.
const nativeSampleRate = 16000

var _ stt.Provider = (*Native)(nil)

// Native implements stt.Provider on an in-process whisper.cpp model. The
// model is loaded once; each Transcribe call creates a fresh decoding context
// from it. Calls are serialised because a single model run already saturates
// the configured threads.
type Native struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
	threads  int
	prompt   string
	closed   bool
}

// NativeOption is a functional option for configuring a Native provider.
type NativeOption func(*Native)

// WithNativeLanguage sets the default language code ("en", "de", or "auto").
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *Native) { p.language = lang }
}

// WithNativeThreads sets the number of decoder threads. Zero or less uses
// runtime.NumCPU.
func WithNativeThreads(n int) NativeOption {
	return func(p *Native) { p.threads = n }
}

// WithNativeInitialPrompt primes the decoder with domain vocabulary.
func WithNativeInitialPrompt(prompt string) NativeOption {
	return func(p *Native) { p.prompt = prompt }
}

// NewNative loads the ggml model at modelPath. The caller must call Close
// when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	if p.threads <= 0 {
		p.threads = runtime.NumCPU()
	}
	return p, nil
}

// Close releases the model. Calling Close more than once is safe.
func (p *Native) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.model == nil {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Transcribe runs whisper.cpp over req.Samples, which must be mono at 16 kHz.
// Context cancellation is observed between segments; whisper.cpp itself
// cannot be interrupted once Process has started.
func (p *Native) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := req.Validate(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if req.SampleRate != nativeSampleRate {
		return stt.Transcript{}, fmt.Errorf("whisper: native model needs %d Hz audio, got %d", nativeSampleRate, req.SampleRate)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return stt.Transcript{}, errors.New("whisper: provider is closed")
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}
	wctx.SetThreads(uint(p.threads))
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}

	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := cleanText(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = wctx.Language()
	}
	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: detected,
		Duration: stt.AudioDuration(len(req.Samples), req.SampleRate),
	}, nil
}
