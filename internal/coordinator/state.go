package coordinator

// State is the coordinator's lifecycle state.
type State int

const (
	// Idle means detection is off. It is the initial state and the state
	// after Stop.
	Idle State = iota

	// Listening means detection is on and no transcription is running.
	Listening

	// Processing means a segment is being transcribed.
	Processing

	// Paused means detection is on but finished segments are discarded.
	Paused
)

// String returns the lowercase name of s.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Status is the payload of a [StatusEvent].
type Status string

// Status values, in roughly the order a session produces them.
const (
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusListening  Status = "listening"
	StatusSpeaking   Status = "speaking"
	StatusMisfire    Status = "misfire"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusIdle       Status = "idle"
)
