// Package energy provides a pure-Go VAD engine that scores frames by their RMS
// level. The level in dBFS is mapped linearly between a floor and a ceiling
// onto [0, 1], and the session keeps hysteresis between the positive and
// negative thresholds so that short dips do not flicker between speech and
// silence.
//
// The scorer has no model to load, which makes it the default engine for
// Earshot. Enable WithAdaptiveFloor in rooms with a steady background hum.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	defaultFloorDB   = -55.0
	defaultCeilingDB = -25.0

	// minDB is reported for digital silence.
	minDB = -120.0

	// floorMarginDB keeps the adaptive floor this far below the observed noise.
	floorMarginDB = 6.0
)

// Option configures an [Engine].
type Option func(*Engine)

// WithFloorDB sets the level (dBFS) that maps to probability 0.
func WithFloorDB(db float64) Option {
	return func(e *Engine) { e.floorDB = db }
}

// WithCeilingDB sets the level (dBFS) that maps to probability 1.
func WithCeilingDB(db float64) Option {
	return func(e *Engine) { e.ceilingDB = db }
}

// WithAdaptiveFloor lets each session raise its floor towards the observed
// background level while no speech is active.
func WithAdaptiveFloor(enabled bool) Option {
	return func(e *Engine) { e.adaptive = enabled }
}

// Engine creates energy-scoring sessions. It is safe for concurrent use.
type Engine struct {
	floorDB   float64
	ceilingDB float64
	adaptive  bool
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine with the given options applied.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		floorDB:   defaultFloorDB,
		ceilingDB: defaultCeilingDB,
	}
	for _, o := range opts {
		o(e)
	}
	if e.ceilingDB <= e.floorDB {
		return nil, fmt.Errorf("energy: ceiling %.1f dB must be above floor %.1f dB", e.ceilingDB, e.floorDB)
	}
	return e, nil
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{
		cfg:       cfg,
		floorDB:   e.floorDB,
		baseFloor: e.floorDB,
		span:      e.ceilingDB - e.floorDB,
		adaptive:  e.adaptive,
	}, nil
}

// session is not safe for concurrent use; the mutex only guards Close racing
// with ProcessFrame.
type session struct {
	mu        sync.Mutex
	cfg       vad.Config
	floorDB   float64
	baseFloor float64
	span      float64
	adaptive  bool
	speaking  bool
	closed    bool
}

var errClosed = errors.New("energy: session is closed")

func (s *session) ProcessFrame(frame []float32) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame) != s.cfg.FrameSamples {
		return vad.Event{}, fmt.Errorf("energy: frame has %d samples, want %d", len(frame), s.cfg.FrameSamples)
	}

	db := levelDB(audio.RMS(frame))
	p := (db - s.floorDB) / s.span
	p = math.Max(0, math.Min(1, p))

	ev := vad.Event{Probability: p}
	switch {
	case !s.speaking && p >= s.cfg.PositiveThreshold:
		s.speaking = true
		ev.Type = vad.EventSpeechStart
	case s.speaking && p < s.cfg.NegativeThreshold:
		s.speaking = false
		ev.Type = vad.EventSpeechEnd
	case s.speaking:
		ev.Type = vad.EventSpeechContinue
	default:
		ev.Type = vad.EventSilence
		if s.adaptive {
			s.track(db)
		}
	}
	return ev, nil
}

// track moves the floor slowly towards the background level. The floor never
// drops below its configured value.
func (s *session) track(db float64) {
	target := math.Max(s.baseFloor, db+floorMarginDB)
	s.floorDB = 0.95*s.floorDB + 0.05*target
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.floorDB = s.baseFloor
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// levelDB converts a linear RMS level to dBFS.
func levelDB(rms float64) float64 {
	if rms <= 0 {
		return minDB
	}
	return math.Max(minDB, 20*math.Log10(rms))
}
