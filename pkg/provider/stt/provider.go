// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// A provider receives one complete utterance of mono float32 PCM and returns
// the recognised text. Segmentation happens upstream in the voice-activity
// layer, so providers never see partial audio and never emit interim results.
//
// Implementations must be safe for concurrent use, although Earshot only ever
// issues one request at a time per worker.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyAudio is returned when a Request carries no samples.
var ErrEmptyAudio = errors.New("stt: request has no audio samples")

// Request is a single utterance to transcribe.
type Request struct {
	// Samples is mono PCM normalised to [-1, 1].
	Samples []float32

	// SampleRate is the rate of Samples in Hz. Whisper models expect 16000.
	SampleRate int

	// Language is an ISO-639-1 hint such as "en" or "de". Empty lets the
	// provider detect the language when it supports that.
	Language string
}

// Validate reports whether r can be sent to a provider.
func (r Request) Validate() error {
	if len(r.Samples) == 0 {
		return ErrEmptyAudio
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("stt: invalid sample rate %d", r.SampleRate)
	}
	return nil
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe recognises the speech in req. An utterance without words
	// yields a Transcript with empty Text and a nil error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
