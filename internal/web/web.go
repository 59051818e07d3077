// Package web serves the control surface: a small JSON API to drive the
// application and a websocket that streams its notices.
//
//	GET    /api/state                 current state, chat mode and playback
//	POST   /api/start                 start listening
//	POST   /api/stop                  stop listening
//	POST   /api/pause                 pause transcription
//	POST   /api/resume                resume transcription
//	POST   /api/chat-mode             {"mode": "transcription" | "ai"}
//	POST   /api/clear                 forget the chat history
//	GET    /api/transcript?since=N    transcript entries after seq N
//	DELETE /api/transcript            clear the transcript log
//	GET    /api/recordings            archived recordings
//	GET    /api/recordings/{name}     download one recording
//	DELETE /api/recordings/{name}     delete one recording
//	GET    /ws                        notice stream
//	GET    /healthz, /readyz          liveness and readiness
//	GET    /metrics                   Prometheus metrics
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/coordinator"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recordings"
	"github.com/MrWong99/earshot/internal/transcript"
)

const (
	wsBuffer       = 64
	wsWriteTimeout = 5 * time.Second
)

// Controller is the part of [*app.App] the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	SetChatMode(mode config.ChatMode) error
	ClearChat()
	ClearTranscript()
	Snapshot() app.Status
	Transcript(since uint64) []transcript.Entry
	Subscribe(buffer int) (<-chan app.Notice, func())
	Recordings(ctx context.Context) ([]recordings.Recording, error)
	DeleteRecording(ctx context.Context, filename string) error
	DownloadRecording(ctx context.Context, filename string) ([]byte, error)
}

var _ Controller = (*app.App)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithMetrics records request metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows websocket connections from the given host
// patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server exposes a [Controller] over HTTP.
type Server struct {
	ctrl     Controller
	checkers []health.Checker
	metrics  *observe.Metrics
	origins  []string
}

// New creates a Server for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.action(s.ctrl.Stop))
	mux.HandleFunc("POST /api/pause", s.action(s.ctrl.Pause))
	mux.HandleFunc("POST /api/resume", s.action(s.ctrl.Resume))
	mux.HandleFunc("POST /api/chat-mode", s.handleChatMode)
	mux.HandleFunc("POST /api/clear", s.action(func() error {
		s.ctrl.ClearChat()
		return nil
	}))
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("DELETE /api/transcript", s.action(func() error {
		s.ctrl.ClearTranscript()
		return nil
	}))
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("GET /api/recordings/{name}", s.handleDownload)
	mux.HandleFunc("DELETE /api/recordings/{name}", s.handleDelete)
	mux.HandleFunc("GET /ws", s.handleWS)

	health.New(s.checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	return observe.Middleware(s.metrics)(mux)
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleStart handles POST /api/start. Loading models can outlive the
// request, so the start is detached from the client connection.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// action adapts a state-changing operation to a handler that answers with
// the new state.
func (s *Server) action(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
	}
}

// chatModeRequest is the JSON body for the chat-mode endpoint.
type chatModeRequest struct {
	Mode config.ChatMode `json:"mode"`
}

func (s *Server) handleChatMode(w http.ResponseWriter, r *http.Request) {
	var req chatModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.SetChatMode(req.Mode); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}
	entries := s.ctrl.Transcript(since)
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	list, err := s.ctrl.Recordings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []recordings.Recording{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, err := s.ctrl.DownloadRecording(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteRecording(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWS streams notices as {"type": ..., "data": ...} text frames,
// starting with the current state. Messages from the client are ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	notices, unsubscribe := s.ctrl.Subscribe(wsBuffer)
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())

	snap := s.ctrl.Snapshot()
	first := app.StateNotice{State: snap.State, ChatMode: snap.ChatMode, At: time.Now()}
	if err := writeNotice(ctx, conn, first); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeNotice(ctx, conn, n); err != nil {
				slog.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}

// envelope is the websocket frame format.
type envelope struct {
	Type string     `json:"type"`
	Data app.Notice `json:"data"`
}

func writeNotice(ctx context.Context, conn *websocket.Conn, n app.Notice) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, envelope{Type: n.Kind(), Data: n})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// errorResponse is the JSON body of every failed API call. Error is meant for
// the user, Detail for logs.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: app.UserMessage(err), Detail: err.Error()})
}

func statusFor(err error) int {
	var (
		deleteErr   *recordings.DeleteError
		downloadErr *recordings.DownloadError
	)
	switch {
	case errors.Is(err, app.ErrInvalidChatMode):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrChatUnavailable),
		errors.Is(err, coordinator.ErrNotRunning),
		errors.Is(err, coordinator.ErrDestroyed):
		return http.StatusConflict
	case errors.Is(err, app.ErrRecordingsDisabled):
		return http.StatusNotFound
	case errors.As(err, &deleteErr) && deleteErr.StatusCode == http.StatusNotFound,
		errors.As(err, &downloadErr) && downloadErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.As(err, &deleteErr), errors.As(err, &downloadErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}
