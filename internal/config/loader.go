package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai"},
	"llm": {"openai"},
	"tts": {"elevenlabs", "openai"},
	"vad": {"energy"},
}

// Default values applied by [ApplyDefaults] to zero fields.
const (
	DefaultListenAddr         = ":8080"
	DefaultSampleRate         = 16000
	DefaultFrameSamples       = 1536
	DefaultPositiveThreshold  = 0.5
	DefaultNegativeThreshold  = 0.35
	DefaultMinSpeechFrames    = 3
	DefaultPreSpeechPadFrames = 10
	DefaultRedemptionFrames   = 8
	DefaultMaxSegment         = 30 * time.Second
	DefaultTranscribeTimeout  = 30 * time.Second
	DefaultLogSize            = 100
	DefaultContextSize        = 10
	DefaultMaxHistory         = 200
	DefaultChatTimeout        = 60 * time.Second
	DefaultRecordingsTimeout  = 30 * time.Second
	DefaultPlaybackRate       = 44100
	DefaultRedisStream        = "earshot:transcripts"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. ${VAR} references anywhere in the document are expanded from
// the environment before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, suitable for running
// without a file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.FrameSamples, DefaultFrameSamples)

	setDefault(&cfg.VAD.PositiveThreshold, DefaultPositiveThreshold)
	setDefault(&cfg.VAD.NegativeThreshold, DefaultNegativeThreshold)
	setDefault(&cfg.VAD.MinSpeechFrames, DefaultMinSpeechFrames)
	setDefault(&cfg.VAD.PreSpeechPadFrames, DefaultPreSpeechPadFrames)
	setDefault(&cfg.VAD.RedemptionFrames, DefaultRedemptionFrames)
	setDefault(&cfg.VAD.MaxSegment, DefaultMaxSegment)

	setDefault(&cfg.Transcription.Timeout, DefaultTranscribeTimeout)
	setDefault(&cfg.Transcription.LogSize, DefaultLogSize)

	setDefault(&cfg.Providers.VAD.Name, "energy")

	setDefault(&cfg.Chat.Mode, ChatTranscription)
	setDefault(&cfg.Chat.Backend, BackendREST)
	setDefault(&cfg.Chat.Timeout, DefaultChatTimeout)
	setDefault(&cfg.Chat.ContextSize, DefaultContextSize)
	setDefault(&cfg.Chat.MaxHistory, DefaultMaxHistory)

	setDefault(&cfg.Recordings.Timeout, DefaultRecordingsTimeout)
	setDefault(&cfg.Playback.SampleRate, DefaultPlaybackRate)
	setDefault(&cfg.Redis.Stream, DefaultRedisStream)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples must be positive, got %d", cfg.Audio.FrameSamples))
	}

	// VAD
	v := cfg.VAD
	if v.PositiveThreshold <= 0 || v.PositiveThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.positive_threshold %.2f is out of range (0, 1]", v.PositiveThreshold))
	}
	if v.NegativeThreshold < 0 || v.NegativeThreshold > v.PositiveThreshold {
		errs = append(errs, fmt.Errorf("vad.negative_threshold %.2f must be in [0, %.2f]", v.NegativeThreshold, v.PositiveThreshold))
	}
	if v.MinSpeechFrames < 1 {
		errs = append(errs, errors.New("vad.min_speech_frames must be at least 1"))
	}
	if v.PreSpeechPadFrames < 0 {
		errs = append(errs, errors.New("vad.pre_speech_pad_frames must not be negative"))
	}
	if v.RedemptionFrames < 1 {
		errs = append(errs, errors.New("vad.redemption_frames must be at least 1"))
	}
	if v.MaxSegment < 0 {
		errs = append(errs, errors.New("vad.max_segment must not be negative"))
	}

	// Transcription
	if cfg.Transcription.Timeout <= 0 {
		errs = append(errs, errors.New("transcription.timeout must be positive"))
	}
	if cfg.Transcription.LogSize < 1 {
		errs = append(errs, errors.New("transcription.log_size must be at least 1"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, chain := range []struct {
		kind    string
		entries []ProviderEntry
	}{
		{"stt", cfg.Providers.STTFallbacks},
		{"llm", cfg.Providers.LLMFallbacks},
		{"tts", cfg.Providers.TTSFallbacks},
	} {
		for i, fb := range chain.entries {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", chain.kind, i))
				continue
			}
			validateProviderName(chain.kind, fb.Name)
		}
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}

	// Chat
	c := cfg.Chat
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("chat.mode %q is invalid; valid values: transcription, ai", c.Mode))
	}
	if !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("chat.backend %q is invalid; valid values: rest, direct", c.Backend))
	}
	if c.ContextSize < 0 {
		errs = append(errs, errors.New("chat.context_size must not be negative"))
	}
	if c.MaxHistory < c.ContextSize {
		errs = append(errs, fmt.Errorf("chat.max_history %d is smaller than chat.context_size %d", c.MaxHistory, c.ContextSize))
	}
	if c.BaseURL != "" {
		if err := validateURL("chat.base_url", c.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}
	switch {
	case c.Backend == BackendREST && c.Mode == ChatAI && c.BaseURL == "":
		errs = append(errs, errors.New("chat.base_url is required when chat.mode is ai and chat.backend is rest"))
	case c.Backend == BackendDirect && c.Mode == ChatAI && cfg.Providers.LLM.Name == "":
		errs = append(errs, errors.New("chat.backend direct requires providers.llm"))
	}
	if c.Backend == BackendDirect && cfg.Providers.TTS.Name == "" && cfg.Playback.Enabled {
		slog.Warn("chat.backend is direct but providers.tts is not configured; answers will not be spoken")
	}

	// Recordings
	if cfg.Recordings.BaseURL != "" {
		if err := validateURL("recordings.base_url", cfg.Recordings.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Recordings.Archive && cfg.Recordings.BaseURL == "" {
		errs = append(errs, errors.New("recordings.archive requires recordings.base_url"))
	}

	// Playback
	if cfg.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate must be positive, got %d", cfg.Playback.SampleRate))
	}

	// Redis
	if cfg.Redis.MaxLen < 0 {
		errs = append(errs, errors.New("redis.max_len must not be negative"))
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q: %w", field, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
