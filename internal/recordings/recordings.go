// Package recordings is the client for the recordings server, which stores
// captured utterances as WAV files.
//
// Rejections by the server surface as [*UploadError], [*FetchError],
// [*DeleteError] or [*DownloadError] carrying the HTTP status. Requests that
// never got an answer, including timeouts, are [*fault.NetworkError].
package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// maxDownload caps a downloaded recording.
const maxDownload = 256 << 20

// Recording is one stored file as listed by the server.
type Recording struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
	Created  string `json:"created,omitempty"`
	URL      string `json:"url,omitempty"`
}

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

// WithMetrics sets the metrics recorder. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides the clock used for upload names and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to the recordings server. It is safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	metrics *observe.Metrics
	now     func() time.Time
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("recordings: parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("recordings: base url %q must be an absolute http(s) url", baseURL)
	}
	c := &Client{
		base:    strings.TrimRight(u.String(), "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Upload stores a WAV recording and returns the name the server saved it
// under. meta is sent as extra form fields; a "filename" entry overrides the
// generated recording_<unix-ms>.wav name instead of being sent as a field.
func (c *Client) Upload(ctx context.Context, wav io.Reader, meta map[string]string) (string, error) {
	now := c.now()
	filename := meta["filename"]
	if filename == "" {
		filename = fmt.Sprintf("recording_%d.wav", now.UnixMilli())
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("recordings: create form file: %w", err)
	}
	if _, err := io.Copy(part, wav); err != nil {
		return "", fmt.Errorf("recordings: read audio: %w", err)
	}
	if err := mw.WriteField("timestamp", now.UTC().Format(time.RFC3339)); err != nil {
		return "", fmt.Errorf("recordings: write field: %w", err)
	}
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		if k == "filename" || k == "timestamp" {
			continue
		}
		if err := mw.WriteField(k, meta[k]); err != nil {
			return "", fmt.Errorf("recordings: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("recordings: close form: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "recordings.upload",
		trace.WithAttributes(
			attribute.String("recording.filename", filename),
			attribute.Int("recording.bytes", body.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.send(ctx, "upload", http.MethodPost, "/upload", &body, mw.FormDataContentType())
	status := "ok"
	defer func() {
		c.metrics.UploadDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
	}()
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()
	if !ok(resp) {
		status = "rejected"
		err := &UploadError{Filename: filename, StatusCode: resp.StatusCode}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var out struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		status = "error"
		return "", &fault.NetworkError{Op: "upload", URL: c.base + "/upload", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Filename == "" {
		out.Filename = filename
	}
	return out.Filename, nil
}

// UploadSamples encodes mono samples as 16-bit WAV and uploads them.
func (c *Client) UploadSamples(ctx context.Context, samples []float32, sampleRate int, meta map[string]string) (string, error) {
	data, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("recordings: %w", err)
	}
	return c.Upload(ctx, bytes.NewReader(data), meta)
}

// List returns the stored recordings.
func (c *Client) List(ctx context.Context) ([]Recording, error) {
	resp, err := c.send(ctx, "list", http.MethodGet, "/recordings", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if !ok(resp) {
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}
	var out struct {
		Recordings []Recording `json:"recordings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &fault.NetworkError{Op: "list", URL: c.base + "/recordings", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Recordings == nil {
		out.Recordings = []Recording{}
	}
	return out.Recordings, nil
}

// Delete removes a stored recording.
func (c *Client) Delete(ctx context.Context, filename string) error {
	if filename == "" {
		return errors.New("recordings: delete: filename must not be empty")
	}
	b, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return fmt.Errorf("recordings: encode delete request: %w", err)
	}
	resp, err := c.send(ctx, "delete", http.MethodPost, "/delete", bytes.NewReader(b), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if !ok(resp) {
		return &DeleteError{Filename: filename, StatusCode: resp.StatusCode}
	}
	return nil
}

// Download returns the bytes of a stored recording.
func (c *Client) Download(ctx context.Context, filename string) ([]byte, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return nil, fmt.Errorf("recordings: download: invalid filename %q", filename)
	}
	resp, err := c.send(ctx, "download", http.MethodGet, "/recordings/"+url.PathEscape(filename), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if !ok(resp) {
		return nil, &DownloadError{Filename: filename, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, &fault.NetworkError{Op: "download", URL: c.base + "/recordings/" + filename,
			StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}

// Available reports whether the server answers its health check.
func (c *Client) Available(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

// Ping is [Client.Available] with the failure reason, for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.send(ctx, "health", http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if !ok(resp) {
		return &fault.NetworkError{Op: "health", URL: c.base + "/health", StatusCode: resp.StatusCode,
			Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}

// send performs one request under the client timeout. The timeout covers the
// body as well, so the returned response must be consumed before it fires.
func (c *Client) send(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := c.base + path
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recordings: build %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, &fault.NetworkError{Op: op, URL: endpoint, Err: err}
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
