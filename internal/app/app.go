// Package app wires the Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// capture, transcription, chat, playback and archiving subsystems, Run starts
// listening and reacts to coordinator events, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithCoordinator,
// WithChatSession, WithPlayer, ...). When an option is not provided, New
// builds the real implementation from the config and providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/chat"
	"github.com/MrWong99/earshot/internal/chat/direct"
	"github.com/MrWong99/earshot/internal/chat/rest"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/coordinator"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/listen"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/internal/recordings"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/worker"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	eventBuffer = 64
	replyQueue  = 1
	archiveJobs = 8
)

var (
	// ErrChatUnavailable is returned by SetChatMode when AI mode is requested
	// but no chat backend is configured.
	ErrChatUnavailable = errors.New("app: no chat backend configured")

	// ErrInvalidChatMode is returned by SetChatMode for unknown modes.
	ErrInvalidChatMode = errors.New("app: invalid chat mode")

	// ErrRecordingsDisabled is returned by the recording operations when no
	// recordings server is configured.
	ErrRecordingsDisabled = errors.New("app: recordings server not configured")
)

// Providers holds one value per provider slot. Nil means the provider is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	// LoadSTT loads the recogniser. It runs on the transcription worker the
	// first time listening starts.
	LoadSTT worker.Factory

	// STTName labels transcription metrics.
	STTName string

	LLM    llm.Provider
	TTS    tts.Provider
	VAD    vad.Engine
	Audio  audio.Source
	Output playback.Output
}

// Coordinator is the transcription state machine. [*coordinator.Coordinator]
// implements it.
type Coordinator interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	Destroy() error
	State() coordinator.State
	Subscribe(buffer int) (<-chan coordinator.Event, func())
}

// ChatSession answers transcripts in AI mode. [*chat.Session] implements it.
type ChatSession interface {
	ChatWithVoice(ctx context.Context, message string) (*chat.VoiceReply, error)
	Clear()
	Busy() bool
}

// Player speaks replies. [*playback.Player] implements it. An injected
// player must report starts and ends to the App's OnPlaybackStart and
// OnPlaybackEnd.
type Player interface {
	Play(ctx context.Context, clip playback.Clip) error
	Stop()
	Playing() bool
}

// RecordingStore is the recordings server. [*recordings.Client] implements
// it.
type RecordingStore interface {
	recordings.Uploader
	List(ctx context.Context) ([]recordings.Recording, error)
	Delete(ctx context.Context, filename string) error
	Download(ctx context.Context, filename string) ([]byte, error)
	Ping(ctx context.Context) error
}

var (
	_ Coordinator       = (*coordinator.Coordinator)(nil)
	_ ChatSession       = (*chat.Session)(nil)
	_ Player            = (*playback.Player)(nil)
	_ RecordingStore    = (*recordings.Client)(nil)
	_ playback.Listener = (*App)(nil)
)

// Status is a point-in-time view of the application for the control
// surface.
type Status struct {
	State         string `json:"state"`
	ChatMode      string `json:"chat_mode"`
	Playing       bool   `json:"playing"`
	ChatAvailable bool   `json:"chat_available"`
	Archiving     bool   `json:"archiving"`
	Replying      bool   `json:"replying"`
}

type replyJob struct {
	seq  uint64
	text string
}

// App owns all subsystem lifetimes and reacts to transcription events.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	now       func() time.Time

	// Subsystems, initialised in New and torn down in Shutdown.
	coord     Coordinator
	session   ChatSession
	prompter  interface{ SetSystemPrompt(string) }
	player    Player
	log       *transcript.Log
	corrector *transcript.Corrector
	publisher transcript.Publisher
	store     RecordingStore
	archiver  *recordings.Archiver
	hub       *Hub
	checkers  []health.Checker
	replies   chan replyJob
	replying  atomic.Bool // set from queueing until the reply has played

	mu             sync.Mutex
	chatMode       config.ChatMode
	archive        bool
	pausedForReply bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCoordinator injects a coordinator instead of building one from the
// audio, VAD and STT providers.
func WithCoordinator(c Coordinator) Option {
	return func(a *App) { a.coord = c }
}

// WithChatSession injects a chat session instead of creating one from config.
func WithChatSession(s ChatSession) Option {
	return func(a *App) { a.session = s }
}

// WithPlayer injects a player instead of creating one around Providers.Output.
func WithPlayer(p Player) Option {
	return func(a *App) { a.player = p }
}

// WithPublisher forwards every transcript entry to p.
func WithPublisher(p transcript.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithRecordingStore injects the recordings server instead of creating a
// client from config.
func WithRecordingStore(s RecordingStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets ApplyConfig change the level of the handler built
// around v.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
		chatMode:  cfg.Chat.Mode,
		replies:   make(chan replyJob, replyQueue),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.chatMode == "" {
		a.chatMode = config.ChatTranscription
	}
	a.hub = NewHub(a.metrics)
	a.log = transcript.NewLog(cfg.Transcription.LogSize)
	a.corrector = transcript.NewCorrector(nil, cfg.Transcription.Vocabulary)

	// ── 1. Coordinator ───────────────────────────────────────────────────
	if err := a.initCoordinator(); err != nil {
		return nil, fmt.Errorf("app: init coordinator: %w", err)
	}

	// ── 2. Chat ─────────────────────────────────────────────────────────
	if err := a.initChat(); err != nil {
		return nil, fmt.Errorf("app: init chat: %w", err)
	}
	if a.chatMode == config.ChatAI && a.session == nil {
		return nil, fmt.Errorf("app: chat mode %q: %w", a.chatMode, ErrChatUnavailable)
	}

	// ── 3. Playback ─────────────────────────────────────────────────────
	a.initPlayback()

	// ── 4. Recordings ───────────────────────────────────────────────────
	if err := a.initRecordings(); err != nil {
		return nil, fmt.Errorf("app: init recordings: %w", err)
	}

	// ── 5. Publisher ────────────────────────────────────────────────────
	if p, ok := a.publisher.(interface{ Ping(context.Context) error }); ok {
		a.checkers = append(a.checkers, health.Checker{Name: "transcript_stream", Check: p.Ping, Optional: true})
	}

	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	observe.Logger(ctx).Info("app initialised",
		"chat_mode", a.chatMode,
		"chat", a.session != nil,
		"playback", a.player != nil,
		"recordings", a.store != nil,
		"publisher", a.publisher != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCoordinator builds the detector, the transcription worker and the
// coordinator on top of them.
func (a *App) initCoordinator() error {
	if a.coord != nil {
		return nil
	}
	p := a.providers
	switch {
	case p.Audio == nil:
		return errors.New("no audio source")
	case p.VAD == nil:
		return errors.New("no vad engine")
	case p.LoadSTT == nil:
		return errors.New("no stt provider")
	}

	det, err := listen.New(p.Audio, p.VAD, listenConfig(a.cfg), listen.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	proxy := worker.New(p.LoadSTT,
		worker.WithTimeout(a.cfg.Transcription.Timeout),
		worker.WithLanguage(a.cfg.Transcription.Language),
		worker.WithSampleRate(a.cfg.Audio.SampleRate),
		worker.WithProviderName(p.STTName),
		worker.WithMetrics(a.metrics),
	)
	a.coord = coordinator.New(det, proxy, coordinator.WithMetrics(a.metrics))
	return nil
}

// initChat builds the chat session for the configured backend. A missing
// backend leaves the session nil, which restricts the app to transcription
// mode.
func (a *App) initChat() error {
	if a.session != nil {
		return nil
	}
	cc := a.cfg.Chat

	var backend chat.Backend
	switch cc.Backend {
	case config.BackendDirect:
		if a.providers.LLM == nil {
			return nil
		}
		opts := []direct.Option{direct.WithMetrics(a.metrics)}
		if cc.SystemPrompt != "" {
			opts = append(opts, direct.WithSystemPrompt(cc.SystemPrompt))
		}
		if cc.Voice != "" {
			opts = append(opts, direct.WithVoice(cc.Voice))
		}
		b, err := direct.New(a.providers.LLM, a.providers.TTS, opts...)
		if err != nil {
			return err
		}
		a.prompter = b
		backend = b
	default:
		if cc.BaseURL == "" {
			return nil
		}
		c, err := rest.New(cc.BaseURL, rest.WithTimeout(cc.Timeout))
		if err != nil {
			return err
		}
		a.checkers = append(a.checkers, health.Checker{
			Name:     "chat",
			Check:    c.Health,
			Optional: cc.Mode != config.ChatAI,
		})
		backend = c
	}

	a.session = chat.NewSession(backend,
		chat.WithContextSize(cc.ContextSize),
		chat.WithMaxHistory(cc.MaxHistory),
		chat.WithMetrics(a.metrics),
		chat.WithName(string(cc.Backend)),
	)
	return nil
}

func (a *App) initPlayback() {
	if a.player != nil || a.providers.Output == nil || !a.cfg.Playback.Enabled {
		return
	}
	a.player = playback.New(a.providers.Output,
		playback.WithListener(a),
		playback.WithMetrics(a.metrics),
	)
}

// initRecordings connects the recordings server and starts the archiver
// even when archiving is off, so it can be switched on by a config reload.
func (a *App) initRecordings() error {
	if a.store == nil && a.cfg.Recordings.BaseURL != "" {
		c, err := recordings.New(a.cfg.Recordings.BaseURL,
			recordings.WithTimeout(a.cfg.Recordings.Timeout),
			recordings.WithMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		a.store = c
	}
	if a.store == nil {
		return nil
	}
	a.checkers = append(a.checkers, health.Checker{Name: "recordings", Check: a.store.Ping, Optional: true})

	a.archiver = recordings.NewArchiver(a.store, archiveJobs)
	a.archiver.OnUploaded = a.onUploaded
	a.archiver.OnError = func(err error) {
		a.hub.Publish(ErrorNotice{Message: UserMessage(err), Detail: err.Error(), At: a.now()})
	}
	a.archive = a.cfg.Recordings.Archive
	a.closers = append(a.closers, func() error {
		a.archiver.Close()
		return nil
	})
	return nil
}

func listenConfig(cfg *config.Config) listen.Config {
	return listen.Config{
		Device:             cfg.Audio.Device,
		SampleRate:         cfg.Audio.SampleRate,
		FrameSamples:       cfg.Audio.FrameSamples,
		PositiveThreshold:  cfg.VAD.PositiveThreshold,
		NegativeThreshold:  cfg.VAD.NegativeThreshold,
		MinSpeechFrames:    cfg.VAD.MinSpeechFrames,
		PreSpeechPadFrames: cfg.VAD.PreSpeechPadFrames,
		RedemptionFrames:   cfg.VAD.RedemptionFrames,
		MaxSegment:         cfg.VAD.MaxSegment,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening and blocks until ctx is cancelled.
//
// A coordinator that cannot start aborts Run with its error. Otherwise Run
// processes coordinator events and chat replies until ctx is done and then
// returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	events, unsubscribe := a.coord.Subscribe(eventBuffer)
	defer unsubscribe()

	if err := a.coord.Start(ctx); err != nil {
		a.reportError(ctx, err)
		return fmt.Errorf("app: start listening: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.consumeEvents(gctx, events) })
	g.Go(func() error { return a.replyLoop(gctx) })

	slog.Info("app running", "chat_mode", a.ChatMode())
	return g.Wait()
}

func (a *App) consumeEvents(ctx context.Context, events <-chan coordinator.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("app: coordinator event stream closed")
			}
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev coordinator.Event) {
	switch ev := ev.(type) {
	case coordinator.StatusEvent:
		if ev.Status == coordinator.StatusSpeaking && a.player != nil && a.player.Playing() {
			slog.Info("user started speaking, stopping playback")
			a.player.Stop()
		}
		a.hub.Publish(StateNotice{
			State:    a.coord.State().String(),
			Status:   string(ev.Status),
			ChatMode: string(a.ChatMode()),
			At:       ev.At,
		})
	case coordinator.ResultEvent:
		a.handleResult(ctx, ev.Result)
	case coordinator.ErrorEvent:
		a.reportError(ctx, ev.Err)
	}
}

// handleResult records a transcript and, in AI mode, queues the reply.
func (a *App) handleResult(ctx context.Context, res coordinator.Result) {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	corrected, corrections := a.corrector.Correct(text)
	entry := a.log.Append(transcript.Entry{
		Text:        corrected,
		Language:    res.Language,
		Confidence:  res.Confidence,
		At:          res.Timestamp,
		Audio:       res.Segment.Duration(),
		Elapsed:     res.Elapsed,
		Corrections: corrections,
	})
	observe.Logger(ctx).Info("transcript",
		"seq", entry.Seq,
		"text", entry.Text,
		"corrections", len(corrections),
		"elapsed", entry.Elapsed,
	)
	a.hub.Publish(TranscriptNotice{Entry: entry})

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, entry); err != nil {
			slog.Warn("transcript publish failed", "seq", entry.Seq, "err", err)
		}
	}
	if a.archiving() && len(res.Segment.Samples) > 0 {
		a.archiver.Archive(res.Segment.Samples, res.Segment.SampleRate, map[string]string{
			"seq":  strconv.FormatUint(entry.Seq, 10),
			"text": entry.Text,
		})
	}

	if a.ChatMode() != config.ChatAI || a.session == nil {
		return
	}
	if !a.replying.CompareAndSwap(false, true) {
		a.metrics.RecordEventDropped(ctx, "chat_reply")
		a.reportError(ctx, chat.ErrBusy)
		return
	}
	a.replies <- replyJob{seq: entry.Seq, text: entry.Text}
}

func (a *App) replyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-a.replies:
			a.reply(ctx, job)
			a.replying.Store(false)
		}
	}
}

// reply sends one transcript to the chat backend and speaks the answer.
func (a *App) reply(ctx context.Context, job replyJob) {
	ctx, span := observe.StartSpan(ctx, "app.reply")
	defer span.End()

	if a.ChatMode() != config.ChatAI {
		return
	}
	r, err := a.session.ChatWithVoice(ctx, job.text)
	if err != nil {
		if ctx.Err() == nil {
			a.reportError(ctx, err)
		}
		return
	}
	a.hub.Publish(ReplyNotice{Seq: job.seq, Text: r.Text, HasAudio: len(r.Audio) > 0, At: a.now()})

	if len(r.Audio) == 0 || a.player == nil {
		return
	}
	err = a.player.Play(ctx, playback.Clip{Data: r.Audio, Format: r.Format, SampleRate: r.SampleRate})
	if err != nil && !errors.Is(err, playback.ErrInterrupted) && ctx.Err() == nil {
		a.reportError(ctx, err)
	}
}

func (a *App) reportError(ctx context.Context, err error) {
	observe.Logger(ctx).Error("app error", "err", err)
	a.hub.Publish(ErrorNotice{Message: UserMessage(err), Detail: err.Error(), At: a.now()})
}

func (a *App) onUploaded(filename string, meta map[string]string) {
	seq, err := strconv.ParseUint(meta["seq"], 10, 64)
	if err != nil {
		return
	}
	if !a.log.SetRecording(seq, filename) {
		slog.Debug("recording uploaded for evicted transcript", "seq", seq, "filename", filename)
	}
}

// ─── Playback listener ───────────────────────────────────────────────────────

// OnPlaybackStart pauses transcription so the assistant does not hear
// itself.
func (a *App) OnPlaybackStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coord.State() != coordinator.Paused {
		if err := a.coord.Pause(); err == nil {
			a.pausedForReply = true
		}
	}
	a.hub.Publish(PlaybackNotice{Playing: true})
}

// OnPlaybackEnd resumes transcription if playback paused it.
func (a *App) OnPlaybackEnd(interrupted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pausedForReply {
		a.pausedForReply = false
		if err := a.coord.Resume(); err != nil && !errors.Is(err, coordinator.ErrNotRunning) {
			slog.Warn("resume after playback failed", "err", err)
		}
	}
	a.hub.Publish(PlaybackNotice{Playing: false, Interrupted: interrupted})
}

// ─── Operations ──────────────────────────────────────────────────────────────

// Start begins listening. It is a no-op while already listening.
func (a *App) Start(ctx context.Context) error {
	return a.coord.Start(ctx)
}

// Stop stops listening and any reply that is playing.
func (a *App) Stop() error {
	if a.player != nil {
		a.player.Stop()
	}
	return a.coord.Stop()
}

// Pause keeps the microphone open but discards finished segments.
func (a *App) Pause() error {
	return a.coord.Pause()
}

// Resume undoes Pause, including a pause made for playback.
func (a *App) Resume() error {
	a.mu.Lock()
	a.pausedForReply = false
	a.mu.Unlock()
	return a.coord.Resume()
}

// State returns the coordinator state.
func (a *App) State() coordinator.State {
	return a.coord.State()
}

// Playing reports whether a reply is being spoken.
func (a *App) Playing() bool {
	return a.player != nil && a.player.Playing()
}

// ChatMode returns the current chat mode.
func (a *App) ChatMode() config.ChatMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatMode
}

// SetChatMode switches between plain transcription and AI replies. Leaving
// AI mode stops a reply that is playing.
func (a *App) SetChatMode(mode config.ChatMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidChatMode, mode)
	}
	if mode == config.ChatAI && a.session == nil {
		return ErrChatUnavailable
	}
	a.mu.Lock()
	changed := a.chatMode != mode
	a.chatMode = mode
	a.mu.Unlock()
	if !changed {
		return nil
	}
	if mode != config.ChatAI && a.player != nil {
		a.player.Stop()
	}
	slog.Info("chat mode changed", "mode", mode)
	a.hub.Publish(StateNotice{
		State:    a.coord.State().String(),
		ChatMode: string(mode),
		At:       a.now(),
	})
	return nil
}

// ClearChat forgets the conversation history.
func (a *App) ClearChat() {
	if a.session != nil {
		a.session.Clear()
	}
}

// Transcript returns the stored entries with a sequence number above since.
// Zero returns everything.
func (a *App) Transcript(since uint64) []transcript.Entry {
	return a.log.Since(since)
}

// ClearTranscript empties the transcript log.
func (a *App) ClearTranscript() {
	a.log.Clear()
}

// Snapshot returns the current status.
func (a *App) Snapshot() Status {
	return Status{
		State:         a.coord.State().String(),
		ChatMode:      string(a.ChatMode()),
		Playing:       a.Playing(),
		ChatAvailable: a.session != nil,
		Archiving:     a.archiving(),
		Replying:      a.replying.Load(),
	}
}

// Subscribe streams notices. See [Hub.Subscribe].
func (a *App) Subscribe(buffer int) (<-chan Notice, func()) {
	return a.hub.Subscribe(buffer)
}

// Checkers returns readiness checks for the remote services in use.
func (a *App) Checkers() []health.Checker {
	return append([]health.Checker(nil), a.checkers...)
}

// Recordings lists the archived recordings.
func (a *App) Recordings(ctx context.Context) ([]recordings.Recording, error) {
	if a.store == nil {
		return nil, ErrRecordingsDisabled
	}
	return a.store.List(ctx)
}

// DeleteRecording removes one archived recording.
func (a *App) DeleteRecording(ctx context.Context, filename string) error {
	if a.store == nil {
		return ErrRecordingsDisabled
	}
	return a.store.Delete(ctx, filename)
}

// DownloadRecording returns the WAV bytes of one archived recording.
func (a *App) DownloadRecording(ctx context.Context, filename string) ([]byte, error) {
	if a.store == nil {
		return nil, ErrRecordingsDisabled
	}
	return a.store.Download(ctx, filename)
}

func (a *App) archiving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archive && a.archiver != nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Silence the speaker first.
		if a.player != nil {
			a.player.Stop()
		}
		if err := a.coord.Destroy(); err != nil {
			slog.Warn("coordinator destroy error", "err", err)
		}
		if c, ok := a.providers.Output.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
