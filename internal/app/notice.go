package app

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript"
)

// Notice is something the user interface should show. The set of notices is
// closed: [StateNotice], [TranscriptNotice], [ReplyNotice], [PlaybackNotice]
// and [ErrorNotice].
type Notice interface {
	// Kind names the notice on the wire, e.g. "state".
	Kind() string
	notice()
}

// StateNotice reports a coordinator status change.
type StateNotice struct {
	State    string    `json:"state"`
	Status   string    `json:"status"`
	ChatMode string    `json:"chat_mode"`
	At       time.Time `json:"at"`
}

// TranscriptNotice carries a new transcript entry.
type TranscriptNotice struct {
	Entry transcript.Entry `json:"entry"`
}

// ReplyNotice carries the assistant's answer to a transcript entry.
type ReplyNotice struct {
	Seq      uint64    `json:"seq"`
	Text     string    `json:"text"`
	HasAudio bool      `json:"has_audio"`
	At       time.Time `json:"at"`
}

// PlaybackNotice reports the start or end of a spoken reply.
type PlaybackNotice struct {
	Playing     bool `json:"playing"`
	Interrupted bool `json:"interrupted,omitempty"`
}

// ErrorNotice carries a failure in words the user can act on. Detail holds
// the raw error for logs and debugging panels.
type ErrorNotice struct {
	Message string    `json:"message"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

func (StateNotice) Kind() string      { return "state" }
func (TranscriptNotice) Kind() string { return "transcript" }
func (ReplyNotice) Kind() string      { return "reply" }
func (PlaybackNotice) Kind() string   { return "playback" }
func (ErrorNotice) Kind() string      { return "error" }

func (StateNotice) notice()      {}
func (TranscriptNotice) notice() {}
func (ReplyNotice) notice()      {}
func (PlaybackNotice) notice()   {}
func (ErrorNotice) notice()      {}

// Hub fans notices out to subscribers. Slow subscribers lose notices rather
// than stall the publisher.
type Hub struct {
	metrics *observe.Metrics

	mu     sync.Mutex
	subs   map[chan Notice]struct{}
	closed bool
}

// NewHub returns an empty hub. A nil m uses [observe.DefaultMetrics].
func NewHub(m *observe.Metrics) *Hub {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{metrics: m, subs: make(map[chan Notice]struct{})}
}

// Subscribe registers a subscriber with room for buffer pending notices.
// The returned cancel func unsubscribes and closes the channel; it is safe to
// call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notice, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers n to every subscriber that has room.
func (h *Hub) Publish(n Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.metrics.RecordEventDropped(context.Background(), "notice_hub")
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
