// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, the OpenAI
// speech endpoint, or a local server speaking the same protocol) and returns
// one encoded clip per request. Earshot plays replies as a whole, so there is
// no streaming surface.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyText is returned for requests without any text to speak.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Validate reports whether r can be synthesised.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks req.Text and returns the full clip. It returns an
	// error if the service cannot be reached, rejects the request, or ctx is
	// cancelled first.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
