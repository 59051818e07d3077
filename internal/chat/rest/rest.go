// Package rest is a [chat.Backend] that talks to the standalone AI server over
// HTTP/JSON.
//
// The server exposes /chat, /chat-with-voice, /synthesize, /tools,
// /tools/execute, /api-status and /health. Replies carry a "success" flag and
// an "error" text; a reply that the server marks as failed becomes a
// [*chat.BackendError], anything that never produced a readable reply becomes
// a [*fault.NetworkError].
package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/earshot/internal/chat"
	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

const (
	// DefaultTimeout bounds one request including model and speech latency.
	DefaultTimeout = 60 * time.Second

	// maxBody caps how much of a response is read.
	maxBody = 32 << 20

	// rawSampleRate is the rate of "audio/raw" answers from /synthesize.
	rawSampleRate = 16000
)

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client calls the AI server. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

var (
	_ chat.Backend = (*Client)(nil)
	_ tts.Provider = (*Client)(nil)
)

// New creates a Client for the server at baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest: base url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("rest: base url %q has no host", baseURL)
	}
	c := &Client{base: u, http: http.DefaultClient, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ─── Wire types ───────────────────────────────────────────────────────────────

type chatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

type chatResponse struct {
	envelope
	Response      string          `json:"response"`
	Audio         *string         `json:"audio"`
	AudioFormat   string          `json:"audio_format"`
	SampleRate    int             `json:"sample_rate"`
	ToolExecution json.RawMessage `json:"tool_execution"`
}

// Tool describes one server-side tool.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Enabled     bool   `json:"enabled"`
}

// ToolList is the answer of /tools.
type ToolList struct {
	Enabled bool   `json:"enabled"`
	Tools   []Tool `json:"tools"`
}

// ToolCall asks the server to run a tool. Tools with side effects refuse to
// run unless Confirmed is set.
type ToolCall struct {
	ToolID     string         `json:"tool_id"`
	Parameters map[string]any `json:"parameters"`
	Confirmed  bool           `json:"confirmed"`
}

// ToolResult is the outcome of a tool run.
type ToolResult struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ServiceStatus reports whether one upstream service is usable.
type ServiceStatus struct {
	Configured    bool `json:"configured"`
	APIKeyPresent bool `json:"api_key_present"`
}

// APIStatus is the answer of /api-status.
type APIStatus struct {
	// Services maps upstream names such as "gemini" or "elevenlabs" to their
	// status.
	Services map[string]ServiceStatus
	Tools    struct {
		Enabled        bool   `json:"enabled"`
		AvailableTools []Tool `json:"available_tools"`
	}
}

// ─── chat.Backend ─────────────────────────────────────────────────────────────

// Chat implements [chat.Backend].
func (c *Client) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	var resp chatResponse
	if err := c.do(ctx, "chat", http.MethodPost, "/chat", chatRequest{message, nonNil(history)}, &resp); err != nil {
		return "", err
	}
	if err := resp.check(http.StatusOK); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// ChatWithVoice implements [chat.Backend]. A reply without audio is valid:
// the server answers that way when only speech synthesis failed.
func (c *Client) ChatWithVoice(ctx context.Context, message string, history []chat.Message) (*chat.VoiceReply, error) {
	var resp chatResponse
	if err := c.do(ctx, "chat-with-voice", http.MethodPost, "/chat-with-voice", chatRequest{message, nonNil(history)}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(http.StatusOK); err != nil {
		return nil, err
	}

	reply := &chat.VoiceReply{
		Text:          resp.Response,
		Format:        resp.AudioFormat,
		SampleRate:    resp.SampleRate,
		ToolExecution: resp.ToolExecution,
	}
	if resp.Audio != nil && *resp.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(*resp.Audio)
		if err != nil {
			return nil, &chat.BackendError{Status: http.StatusOK, Message: "invalid audio encoding: " + err.Error()}
		}
		reply.Audio = audio
	}
	if string(reply.ToolExecution) == "null" {
		reply.ToolExecution = nil
	}
	reply.ApplyDefaults()
	return reply, nil
}

func (r *chatResponse) check(status int) error {
	if r.Success != nil && !*r.Success {
		msg := r.Error
		if msg == "" {
			msg = "request failed"
		}
		return &chat.BackendError{Status: status, Message: msg}
	}
	return nil
}

func nonNil(h []chat.Message) []chat.Message {
	if h == nil {
		return []chat.Message{}
	}
	return h
}

// ─── Speech, tools and status ─────────────────────────────────────────────────

// Synthesize implements [tts.Provider] through the server's /synthesize
// endpoint. The server picks the voice, so req.Voice is ignored.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, header, err := c.roundTrip(ctx, "synthesize", http.MethodPost, "/synthesize",
		map[string]string{"text": req.Text})
	if err != nil {
		return nil, err
	}
	audio := &tts.Audio{Data: body, Format: tts.FormatMP3}
	mediaType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	switch mediaType {
	case "audio/mp3", "audio/mpeg":
	case "audio/wav", "audio/x-wav", "audio/wave":
		audio.Format = tts.FormatWAV
	case "audio/ogg":
		audio.Format = tts.FormatOGG
	case "audio/raw", "audio/pcm", "application/octet-stream":
		audio.Format = tts.FormatPCM16
		audio.SampleRate = rawSampleRate
	default:
		return nil, &chat.BackendError{Status: http.StatusOK, Message: "unexpected content type " + mediaType}
	}
	return audio, nil
}

// Tools lists the server's tools.
func (c *Client) Tools(ctx context.Context) (*ToolList, error) {
	var out ToolList
	if err := c.do(ctx, "tools", http.MethodGet, "/tools", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTool runs one tool. A tool that ran but failed is reported through
// ToolResult.Success, not as an error.
func (c *Client) ExecuteTool(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if call.ToolID == "" {
		return nil, errors.New("rest: tool id must not be empty")
	}
	if call.Parameters == nil {
		call.Parameters = map[string]any{}
	}
	var out ToolResult
	if err := c.do(ctx, "execute-tool", http.MethodPost, "/tools/execute", call, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status reports which upstream services the server has configured.
func (c *Client) Status(ctx context.Context) (*APIStatus, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, "api-status", http.MethodGet, "/api-status", nil, &raw); err != nil {
		return nil, err
	}
	st := &APIStatus{Services: make(map[string]ServiceStatus, len(raw))}
	for name, v := range raw {
		if name == "tools" {
			if err := json.Unmarshal(v, &st.Tools); err != nil {
				return nil, fmt.Errorf("rest: decode tools status: %w", err)
			}
			continue
		}
		var s ServiceStatus
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("rest: decode %s status: %w", name, err)
		}
		st.Services[name] = s
	}
	return st, nil
}

// Health returns nil when the server reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "healthy" {
		return &chat.BackendError{Status: http.StatusOK, Message: fmt.Sprintf("server status %q", out.Status)}
	}
	return nil
}

// ─── Transport ────────────────────────────────────────────────────────────────

// do performs a JSON round trip and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	body, _, err := c.roundTrip(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &fault.NetworkError{Op: op, URL: c.endpoint(path), StatusCode: http.StatusOK,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// roundTrip sends the request and returns the body of a 2xx answer. Non-2xx
// answers that carry an error text become a [*chat.BackendError]; all other
// failures become a [*fault.NetworkError].
func (c *Client) roundTrip(ctx context.Context, op, method, path string, in any) ([]byte, http.Header, error) {
	endpoint := c.endpoint(path)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("rest: encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("rest: build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &fault.NetworkError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, &fault.NetworkError{Op: op, URL: endpoint, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("read body: %w", err)}
	}
	slog.Debug("chat server request", "op", op, "status", resp.StatusCode,
		"elapsed", time.Since(start), "bytes", len(body))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.Header, nil
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		return nil, nil, &chat.BackendError{Status: resp.StatusCode, Message: env.Error}
	}
	return nil, nil, &fault.NetworkError{Op: op, URL: endpoint, StatusCode: resp.StatusCode,
		Err: errors.New(http.StatusText(resp.StatusCode))}
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}
