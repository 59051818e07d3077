// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint (/audio/speech).
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/earshot/pkg/provider/tts"
)

const (
	// DefaultModel is used when New is called with an empty model name.
	DefaultModel = "gpt-4o-mini-tts"

	defaultVoice = "alloy"

	// pcmSampleRate is the fixed rate of the endpoint's raw PCM output.
	pcmSampleRate = 24000
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	format string
}

type config struct {
	baseURL string
	timeout time.Duration
	voice   string
	format  string
	retries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice sets the voice used when a request names none.
func WithVoice(v string) Option {
	return func(c *config) { c.voice = v }
}

// WithFormat selects the response encoding: tts.FormatMP3, tts.FormatWAV or
// tts.FormatPCM16.
func WithFormat(f string) Option {
	return func(c *config) { c.format = f }
}

// WithMaxRetries sets how often the SDK retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: defaultVoice, format: tts.FormatMP3, retries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if _, err := responseFormat(cfg.format); err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.retries))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		format: cfg.format,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	rf, _ := responseFormat(p.format)

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: rf,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai: empty speech response")
	}
	out := &tts.Audio{Data: data, Format: p.format}
	if p.format == tts.FormatPCM16 {
		out.SampleRate = pcmSampleRate
	}
	return out, nil
}

func responseFormat(f string) (oai.AudioSpeechNewParamsResponseFormat, error) {
	switch f {
	case tts.FormatMP3:
		return oai.AudioSpeechNewParamsResponseFormatMP3, nil
	case tts.FormatWAV:
		return oai.AudioSpeechNewParamsResponseFormatWAV, nil
	case tts.FormatPCM16:
		return oai.AudioSpeechNewParamsResponseFormatPCM, nil
	default:
		return "", fmt.Errorf("openai: unsupported speech format %q", f)
	}
}
