// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (an energy scorer, Silero,
// WebRTC VAD, ...) and surfaces it as a stateful, per-stream session. Each
// session maintains its own internal state (noise floor estimates, smoothing
// history) so that multiple audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a speech
// probability, making it suitable for the listening loop that cuts speech
// segments. Segment assembly (minimum speech frames, redemption, pre-speech
// padding) is the caller's concern; sessions only score frames and report
// coarse threshold crossings.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// Thresholds used when a caller has no tuning of its own.
const (
	DefaultPositiveThreshold = 0.5
	DefaultNegativeThreshold = 0.35
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. Typical: 16000.
	SampleRate int

	// FrameSamples is the number of mono samples per frame. ProcessFrame returns
	// an error if the supplied frame does not match. Typical: 1536 (96 ms at 16 kHz).
	FrameSamples int

	// PositiveThreshold is the probability at or above which a frame counts as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	PositiveThreshold float64

	// NegativeThreshold is the probability below which a frame counts as
	// silence while speech is active. Range: [0.0, 1.0]. Must be ≤
	// PositiveThreshold. Typical: 0.35.
	NegativeThreshold float64
}

// Validate reports configuration errors as a single joined error.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame samples %d must be positive", c.FrameSamples))
	}
	if c.PositiveThreshold < 0 || c.PositiveThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: positive threshold %.2f out of range [0, 1]", c.PositiveThreshold))
	}
	if c.NegativeThreshold < 0 || c.NegativeThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: negative threshold %.2f out of range [0, 1]", c.NegativeThreshold))
	}
	if c.NegativeThreshold > c.PositiveThreshold {
		errs = append(errs, fmt.Errorf("vad: negative threshold %.2f exceeds positive threshold %.2f", c.NegativeThreshold, c.PositiveThreshold))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame scores a single mono frame of normalised float32 samples at
	// the configured SampleRate and FrameSamples. Returns an error if the frame
	// size is wrong or the session is closed.
	//
	// This method is called synchronously in the listening loop; it must not block.
	ProcessFrame(frame []float32) (Event, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. Returns
	// an error if the configuration is invalid or the detector cannot be loaded.
	NewSession(cfg Config) (SessionHandle, error)
}
