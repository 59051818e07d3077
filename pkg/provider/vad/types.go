package vad

// Event is the detection result for a single audio frame.
type Event struct {
	// Type is the coarse state transition implied by this frame.
	Type EventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// EventSilence indicates no speech detected.
	EventSilence EventType = iota

	// EventSpeechStart indicates the probability just crossed the positive threshold.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech.
	EventSpeechContinue

	// EventSpeechEnd indicates the probability just fell below the negative threshold.
	EventSpeechEnd
)

// String returns the lowercase name of the event type.
func (t EventType) String() string {
	switch t {
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}
