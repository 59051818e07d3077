// Package audio defines the capture interfaces and sample helpers used by
// Earshot's listening pipeline.
//
// The two primary abstractions are:
//
//   - [Source] opens an input device and returns a [Capture].
//   - [Capture] is an open input stream delivering fixed-size [Frame] values
//     until it is closed.
//
// Implementations live in adapter packages (e.g., audio/portaudio). A Capture
// holds its device exclusively; only one may be open per device at a time.
package audio

import (
	"context"
	"errors"
)

// ErrNoDevice is returned by [Source.Open] when no matching input device
// exists on the host.
var ErrNoDevice = errors.New("audio: no input device available")

// ErrDeviceBusy is returned by [Source.Open] when the device is already held by
// another Capture.
var ErrDeviceBusy = errors.New("audio: input device is busy")

// CaptureConfig describes the stream a caller wants from a [Source].
type CaptureConfig struct {
	// Device names the input device. Empty selects the host default.
	Device string

	// SampleRate in Hz. Implementations resample when the hardware rate differs.
	SampleRate int

	// Channels is the number of channels delivered per frame. 1 for mono.
	Channels int

	// FrameSamples is the number of samples per channel in each delivered Frame.
	FrameSamples int
}

// Capture is an open input stream.
type Capture interface {
	// Frames returns the channel on which captured frames are delivered. The
	// channel is closed after Close or when the device fails.
	Frames() <-chan Frame

	// Err reports the error that terminated the stream, if any. It is only
	// meaningful after the Frames channel has been closed.
	Err() error

	// Close stops capture and releases the device. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Source opens captures on an input device.
type Source interface {
	// Open acquires the device described by cfg. Returns [ErrNoDevice] (possibly
	// wrapped) when the device does not exist and [ErrDeviceBusy] when it is
	// already held.
	Open(ctx context.Context, cfg CaptureConfig) (Capture, error)
}
