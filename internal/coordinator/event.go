package coordinator

import (
	"time"

	"github.com/MrWong99/earshot/internal/listen"
)

// Event is published to subscribers. The set of implementations is closed:
// [StatusEvent], [ResultEvent] and [ErrorEvent].
type Event interface {
	coordinatorEvent()
}

// StatusEvent reports progress that does not carry a transcript.
type StatusEvent struct {
	Status Status
	At     time.Time
}

// ResultEvent carries a non-empty transcript.
type ResultEvent struct {
	Result Result
}

// ErrorEvent reports a failed segment or a lost device. The coordinator
// keeps listening after a failed segment.
type ErrorEvent struct {
	Err error
	At  time.Time
}

func (StatusEvent) coordinatorEvent() {}
func (ResultEvent) coordinatorEvent() {}
func (ErrorEvent) coordinatorEvent()  {}

// Result is a recognised utterance. It is never mutated after publication.
type Result struct {
	Text       string
	Language   string
	Confidence float64

	// Timestamp is when recognition finished.
	Timestamp time.Time

	// Elapsed is how long recognition took.
	Elapsed time.Duration

	// Segment is the audio the text was recognised from.
	Segment listen.Segment
}
