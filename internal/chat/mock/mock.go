// Package mock provides a test double for the chat.Backend interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/internal/chat"
)

// Call records a single Chat or ChatWithVoice invocation.
type Call struct {
	Voice   bool
	Message string
	History []chat.Message
}

// Backend is a mock implementation of chat.Backend.
type Backend struct {
	mu sync.Mutex

	// Text is the answer returned by Chat and, when Reply is nil, by
	// ChatWithVoice.
	Text string

	// Reply, if non-nil, is returned (copied) by ChatWithVoice.
	Reply *chat.VoiceReply

	// Err, if non-nil, is returned by both methods.
	Err error

	// Gate, if non-nil, blocks each call until a value is received or ctx
	// ends.
	Gate chan struct{}

	// Entered, if non-nil, receives the message when a call starts.
	// Sends are non-blocking.
	Entered chan string

	calls []Call
}

// Chat records the call and returns Text, Err.
func (b *Backend) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	if err := b.record(ctx, false, message, history); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return "", b.Err
	}
	return b.Text, nil
}

// ChatWithVoice records the call and returns Reply, Err.
func (b *Backend) ChatWithVoice(ctx context.Context, message string, history []chat.Message) (*chat.VoiceReply, error) {
	if err := b.record(ctx, true, message, history); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	if b.Reply != nil {
		r := *b.Reply
		return &r, nil
	}
	return &chat.VoiceReply{Text: b.Text}, nil
}

func (b *Backend) record(ctx context.Context, voice bool, message string, history []chat.Message) error {
	b.mu.Lock()
	b.calls = append(b.calls, Call{
		Voice:   voice,
		Message: message,
		History: append([]chat.Message(nil), history...),
	})
	gate, entered := b.Gate, b.Entered
	b.mu.Unlock()

	if entered != nil {
		select {
		case entered <- message:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// SetErr replaces Err under the lock.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	b.Err = err
	b.mu.Unlock()
}

// Ensure Backend implements chat.Backend at compile time.
var _ chat.Backend = (*Backend)(nil)
