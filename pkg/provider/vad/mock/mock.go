// Package mock provides scripted stand-ins for vad.Engine and
// vad.SessionHandle.
//
//	sess := &mock.Session{Probabilities: []float64{0.1, 0.9, 0.9, 0.1}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Engine hands out Session, or a fresh silent Session when it is nil.
type Engine struct {
	Session vad.SessionHandle

	// NewSessionErr makes NewSession fail, as a missing model would.
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the config of every NewSession call in order.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session scores frames from a script. Scorer wins when set; otherwise
// Probabilities is consumed one value per frame and Default follows once it
// runs out. Event types use the default vad thresholds.
type Session struct {
	Scorer        func(frame []float32) float64
	Probabilities []float64
	Default       float64

	ProcessFrameErr error
	CloseErr        error

	mu                     sync.Mutex
	speaking               bool
	frames, resets, closes int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessFrame(frame []float32) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	p := s.next(frame)

	typ := vad.EventSilence
	switch {
	case !s.speaking && p >= vad.DefaultPositiveThreshold:
		s.speaking, typ = true, vad.EventSpeechStart
	case s.speaking && p < vad.DefaultNegativeThreshold:
		s.speaking, typ = false, vad.EventSpeechEnd
	case s.speaking:
		typ = vad.EventSpeechContinue
	}
	return vad.Event{Type: typ, Probability: p}, nil
}

func (s *Session) next(frame []float32) float64 {
	if s.Scorer != nil {
		return s.Scorer(frame)
	}
	if len(s.Probabilities) == 0 {
		return s.Default
	}
	p := s.Probabilities[0]
	s.Probabilities = s.Probabilities[1:]
	return p
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.speaking = false
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Calls reports how often each method was called.
func (s *Session) Calls() (frames, resets, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.resets, s.closes
}
