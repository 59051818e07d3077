package listen

import "time"

// Event is a detector notification. The set of implementations is closed:
// [SpeechStart], [SpeechEnd], [Misfire] and [DeviceLost].
type Event interface {
	listenEvent()
}

// SpeechStart fires once an utterance is confirmed.
type SpeechStart struct {
	// At is the capture timestamp of the onset frame.
	At time.Duration
}

// SpeechEnd carries a finished utterance.
type SpeechEnd struct {
	Segment Segment
}

// Misfire reports an opened segment that closed before it was confirmed.
type Misfire struct {
	// Frames is the length of the discarded segment in frames.
	Frames int
}

// DeviceLost reports that the capture stream ended unexpectedly. No further
// events follow.
type DeviceLost struct {
	Err error
}

func (SpeechStart) listenEvent() {}
func (SpeechEnd) listenEvent()   {}
func (Misfire) listenEvent()     {}
func (DeviceLost) listenEvent()  {}

// Segment is the audio of one utterance, mono at SampleRate.
type Segment struct {
	Samples    []float32
	SampleRate int

	// Start and End are capture timestamps. Start includes the pre-speech
	// padding.
	Start time.Duration
	End   time.Duration
}

// Duration returns the playback length of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}
