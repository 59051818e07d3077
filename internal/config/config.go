// Package config provides the configuration schema, loader, watcher and
// provider registry for Earshot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ChatMode selects what happens with a finished transcript.
type ChatMode string

const (
	// ChatTranscription only records and publishes transcripts.
	ChatTranscription ChatMode = "transcription"

	// ChatAI additionally sends each transcript to the chat backend and plays
	// the spoken answer.
	ChatAI ChatMode = "ai"
)

// IsValid reports whether m is a recognised chat mode.
func (m ChatMode) IsValid() bool {
	return m == ChatTranscription || m == ChatAI
}

// ChatBackend selects how chat requests are answered.
type ChatBackend string

const (
	// BackendREST forwards chat requests to a remote HTTP service.
	BackendREST ChatBackend = "rest"

	// BackendDirect answers in-process with the configured LLM and TTS
	// providers.
	BackendDirect ChatBackend = "direct"
)

// IsValid reports whether b is a recognised chat backend.
func (b ChatBackend) IsValid() bool {
	return b == BackendREST || b == BackendDirect
}

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Chat          ChatConfig          `yaml:"chat"`
	Recordings    RecordingsConfig    `yaml:"recordings"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Redis         RedisConfig         `yaml:"redis"`
}

// ServerConfig holds network and logging settings for the control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture stream.
type AudioConfig struct {
	// Device names the input device. Empty selects the host default.
	Device string `yaml:"device"`

	// SampleRate in Hz delivered to the detector and the recogniser.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the detector frame size in samples.
	FrameSamples int `yaml:"frame_samples"`
}

// VADConfig tunes speech segmentation.
type VADConfig struct {
	PositiveThreshold  float64       `yaml:"positive_threshold"`
	NegativeThreshold  float64       `yaml:"negative_threshold"`
	MinSpeechFrames    int           `yaml:"min_speech_frames"`
	PreSpeechPadFrames int           `yaml:"pre_speech_pad_frames"`
	RedemptionFrames   int           `yaml:"redemption_frames"`
	MaxSegment         time.Duration `yaml:"max_segment"`
}

// TranscriptionConfig tunes the recogniser worker.
type TranscriptionConfig struct {
	// Timeout bounds one transcription request.
	Timeout time.Duration `yaml:"timeout"`

	// Language is a BCP-47 hint for the recogniser. Empty lets the provider
	// detect it.
	Language string `yaml:"language"`

	// Vocabulary lists proper nouns that misheard words are snapped to.
	Vocabulary []string `yaml:"vocabulary"`

	// LogSize is how many recent transcripts are kept in memory.
	LogSize int `yaml:"log_size"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails or its circuit is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider, or a model file
	// path for local recognisers.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ChatConfig configures the conversational side of the application.
type ChatConfig struct {
	Mode    ChatMode    `yaml:"mode"`
	Backend ChatBackend `yaml:"backend"`

	// BaseURL is the REST chat service. Required when Backend is "rest".
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one REST chat request.
	Timeout time.Duration `yaml:"timeout"`

	// ContextSize is how many past messages accompany each request.
	ContextSize int `yaml:"context_size"`

	// MaxHistory caps the stored conversation.
	MaxHistory int `yaml:"max_history"`

	// SystemPrompt is used by the direct backend.
	SystemPrompt string `yaml:"system_prompt"`

	// Voice is the TTS voice used by the direct backend.
	Voice string `yaml:"voice"`
}

// RecordingsConfig configures the recordings service.
type RecordingsConfig struct {
	// BaseURL of the recordings service. Empty disables the client.
	BaseURL string `yaml:"base_url"`

	// Archive uploads every finished segment when true.
	Archive bool `yaml:"archive"`

	Timeout time.Duration `yaml:"timeout"`
}

// PlaybackConfig configures speaker output for spoken answers.
type PlaybackConfig struct {
	Enabled bool `yaml:"enabled"`

	// SampleRate is the speaker rate; clips are resampled to it.
	SampleRate int `yaml:"sample_rate"`
}

// RedisConfig enables publishing transcripts to a Redis stream.
type RedisConfig struct {
	// Addr is host:port. Empty disables publishing.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Stream is the stream key transcripts are appended to.
	Stream string `yaml:"stream"`

	// MaxLen approximately caps the stream length. Zero keeps everything.
	MaxLen int64 `yaml:"max_len"`
}
