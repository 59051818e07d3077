package stt

import "time"

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognised speech with surrounding whitespace trimmed.
	Text string

	// Confidence is in [0, 1]. Zero when the provider does not report one.
	Confidence float64

	// Language is the detected or requested language code.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// AudioDuration returns the playback length of n samples at sampleRate.
func AudioDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
