// Package mock provides a test double for the stt.Provider interface.
//
// Results are scripted in order; once the script is exhausted Default is
// returned. Set Gate to hold every call until the test releases it, which lets
// coordinator tests observe the Processing state deterministically.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{{Transcript: stt.Transcript{Text: "hello"}}}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is consumed in order, one entry per call.
	Results []Result

	// Default is returned once Results is exhausted.
	Default stt.Transcript

	// TranscribeErr, if non-nil, is returned once Results is exhausted.
	TranscribeErr error

	// Gate, if non-nil, blocks each call until a value is received from it or
	// the context is cancelled. Closing Gate releases all pending and future
	// calls.
	Gate chan struct{}

	// Entered, if non-nil, receives the request as soon as a call starts and
	// before it waits on Gate. Sends are non-blocking.
	Entered chan stt.Request

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	inFlight    int
	maxInFlight int
}

// Transcribe records the call, waits on Gate when set, and returns the next
// scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Req: req})
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	gate, entered := p.Gate, p.Entered
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if entered != nil {
		select {
		case entered <- req:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r.Transcript, r.Err
	}
	if p.TranscribeErr != nil {
		return stt.Transcript{}, p.TranscribeErr
	}
	return p.Default, nil
}

// Close records the call and returns CloseErr.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return p.CloseErr
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Calls returns a copy of the recorded Transcribe calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

// MaxInFlight returns the highest number of concurrent Transcribe calls
// observed.
func (p *Provider) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// Closes returns how often Close was called.
func (p *Provider) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CloseCallCount
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
