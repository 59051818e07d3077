// Package transcript keeps the recent transcript log, snaps misheard words
// to a configured vocabulary and forwards finished entries to publishers.
//
// [Log] is a bounded ring: once full, appending drops the oldest entry.
// [Corrector] rewrites entry text with a phonetic matcher before it is
// logged. A [Publisher] receives each entry after it is logged; the redis
// subpackage provides one backed by a Redis stream.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Correction captures a single substitution made by the [Corrector].
type Correction struct {
	// Original is the phrase as produced by the recogniser.
	Original string `json:"original"`

	// Corrected is the vocabulary term it was replaced with.
	Corrected string `json:"corrected"`

	// Confidence is the similarity score in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Entry is one logged utterance.
type Entry struct {
	// Seq increases by one for every appended entry and is never reused,
	// even after Clear.
	Seq uint64 `json:"seq"`

	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// At is when recognition finished.
	At time.Time `json:"at"`

	// Audio is the length of the recognised segment.
	Audio time.Duration `json:"audio_ns"`

	// Elapsed is how long recognition took.
	Elapsed time.Duration `json:"elapsed_ns"`

	// Corrections lists vocabulary substitutions applied to Text.
	Corrections []Correction `json:"corrections,omitempty"`

	// Recording is the server-side file name once the segment was archived.
	Recording string `json:"recording,omitempty"`
}

// Publisher forwards entries to an external sink.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Log is a bounded, concurrency-safe transcript history.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	size    int
	nextSeq uint64
}

// NewLog returns a log holding at most capacity entries. A capacity below
// one is treated as one.
func NewLog(capacity int) *Log {
	return &Log{entries: make([]Entry, max(capacity, 1)), nextSeq: 1}
}

// Append stores e, assigning its Seq, and returns the stored copy.
func (l *Log) Append(e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Seq = l.nextSeq
	l.nextSeq++
	idx := (l.start + l.size) % len(l.entries)
	l.entries[idx] = e
	if l.size < len(l.entries) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
	return e
}

// Entries returns the stored entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, l.size)
	for i := range l.size {
		out[i] = l.entries[(l.start+i)%len(l.entries)]
	}
	return out
}

// Since returns the stored entries with Seq greater than seq, oldest first.
func (l *Log) Since(seq uint64) []Entry {
	all := l.Entries()
	for i, e := range all {
		if e.Seq > seq {
			return all[i:]
		}
	}
	return nil
}

// SetRecording records the archived file name on the entry with seq. It
// reports false when the entry has already been evicted.
func (l *Log) SetRecording(seq uint64, filename string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.size {
		e := &l.entries[(l.start+i)%len(l.entries)]
		if e.Seq == seq {
			e.Recording = filename
			return true
		}
	}
	return false
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Clear removes every entry. Sequence numbers keep increasing.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
	l.start, l.size = 0, 0
}
