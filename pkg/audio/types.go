package audio

import "time"

// Frame is one block of captured audio. Frames are the atomic unit flowing from
// a [Capture] into voice activity detection and from there into speech
// segments handed to the transcription worker.
type Frame struct {
	// Samples are normalised to [-1, 1]. For multi-channel frames the samples
	// are interleaved.
	Samples []float32

	// SampleRate in Hz (16000 for the transcription pipeline).
	SampleRate int

	// Channels is 1 for mono microphone capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playing time of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	n := len(f.Samples) / f.Channels
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}
