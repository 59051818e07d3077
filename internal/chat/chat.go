// Package chat connects finished transcripts to a conversational backend.
//
// A [Backend] answers one user message given the prior conversation. Two
// implementations exist: [rest] talks to the standalone AI server over HTTP,
// and [direct] drives an LLM and a TTS provider in-process. [Session] sits on
// top of either one and owns the conversation history, the single-flight
// guard and the circuit breaker.
//
// [rest]: github.com/MrWong99/earshot/internal/chat/rest
// [direct]: github.com/MrWong99/earshot/internal/chat/direct
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Reply defaults used when a backend omits the audio description.
const (
	DefaultAudioFormat = "mp3"
	DefaultSampleRate  = 22050
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrBusy is returned by [Session] when a message is sent while the previous
// one is still being answered.
var ErrBusy = errors.New("chat: already processing a message")

// ErrEmptyMessage is returned for blank messages.
var ErrEmptyMessage = errors.New("chat: message must not be empty")

// Message is one history entry as exchanged with the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VoiceReply is an assistant answer with optional synthesised speech.
type VoiceReply struct {
	// Text is the assistant's answer.
	Text string

	// Audio is the encoded speech for Text. It is empty when the backend
	// could not synthesise audio; the text is still valid.
	Audio []byte

	// Format names the encoding of Audio: "mp3", "wav", "ogg" or "pcm16".
	Format string

	// SampleRate is the rate of Audio in Hz.
	SampleRate int

	// ToolExecution is the backend's report of any tool it ran while
	// answering, passed through verbatim.
	ToolExecution json.RawMessage
}

// Backend answers user messages.
//
// history holds the earlier conversation and never includes message itself.
type Backend interface {
	// Chat returns a text-only answer.
	Chat(ctx context.Context, message string, history []Message) (string, error)

	// ChatWithVoice returns the answer together with synthesised speech.
	ChatWithVoice(ctx context.Context, message string, history []Message) (*VoiceReply, error)
}

// BackendError is returned when the backend answered but reported a failure,
// for example an upstream model outage.
type BackendError struct {
	// Status is the HTTP status of the answer, or 0 for in-process backends.
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat backend: %s (status %d)", e.Message, e.Status)
	}
	return "chat backend: " + e.Message
}

// ApplyDefaults fills the audio description of r when the backend left it
// blank.
func (r *VoiceReply) ApplyDefaults() {
	if r.Format == "" {
		r.Format = DefaultAudioFormat
	}
	if r.SampleRate <= 0 {
		r.SampleRate = DefaultSampleRate
	}
}

// HasAudio reports whether r carries playable speech.
func (r *VoiceReply) HasAudio() bool { return r != nil && len(r.Audio) > 0 }
