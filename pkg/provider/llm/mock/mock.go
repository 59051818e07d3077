// Package mock provides a test double for llm.Provider.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello!"}}
//
// Respond replaces the fixed answer when a test needs the reply to depend on
// the request, e.g. to echo the last user message.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the request as received. Messages are copied.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse and CompleteErr are returned when Respond is nil.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Respond, if set, computes the answer for each request.
	Respond func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	calls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and answers it.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Messages = append([]llm.Message(nil), req.Messages...)

	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Req: req})
	respond, resp, err := p.Respond, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	return resp, err
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.calls...)
}
