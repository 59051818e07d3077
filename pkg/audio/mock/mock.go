// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Capture] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(16)
//	src := &mock.Source{OpenResult: capture}
//	c, err := src.Open(ctx, cfg)
//	capture.Push(audio.Frame{Samples: speech})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Frames pushed with
// [Capture.Push] are delivered on the Frames channel until Close is called.
type Capture struct {
	mu     sync.Mutex
	frames chan audio.Frame
	closed bool

	// CloseError is returned by Close.
	CloseError error

	// StreamErr is returned by Err.
	StreamErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns a Capture whose Frames channel has the given buffer size.
func NewCapture(buffer int) *Capture {
	return &Capture{frames: make(chan audio.Frame, buffer)}
}

// Push delivers frame to the consumer. It blocks while the buffer is full and
// is a no-op after Close.
func (c *Capture) Push(frame audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.frames <- frame
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.Frame { return c.frames }

// Err implements [audio.Capture]. Returns StreamErr.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StreamErr
}

// Close implements [audio.Capture]. The Frames channel is closed on the first
// call; CloseError is returned every time.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return c.CloseError
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Ensure Capture implements audio.Capture at compile time.
var _ audio.Capture = (*Capture)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Source.Open] invocation.
type OpenCall struct {
	// Cfg is the CaptureConfig passed to Open.
	Cfg audio.CaptureConfig
}

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// OpenResult is the [audio.Capture] returned by Open. When nil a fresh
	// Capture with a 64-frame buffer is returned.
	OpenResult audio.Capture

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Source]. Records the call and returns OpenResult / OpenError.
func (s *Source) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Cfg: cfg})
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	if s.OpenResult != nil {
		return s.OpenResult, nil
	}
	return NewCapture(64), nil
}

// OpenCallCount returns the number of recorded Open calls.
func (s *Source) OpenCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
