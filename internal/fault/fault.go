// Package fault defines the error kinds shared by the capture, detection and
// transcription layers. Each kind is a struct that wraps its cause and
// matches a sentinel with errors.Is, so callers can branch on the kind
// without caring which layer produced it:
//
//	if errors.Is(err, fault.ErrDevice) { ... }
//
//	var te *fault.TranscriptionError
//	if errors.As(err, &te) { log(te.RequestID) }
package fault

import (
	"errors"
	"fmt"
)

// Sentinels matched by the error kinds below.
var (
	// ErrDevice reports a missing, busy or inaccessible audio device.
	ErrDevice = errors.New("audio device unavailable")

	// ErrModelLoad reports that a detection or recognition model could not
	// be loaded.
	ErrModelLoad = errors.New("model failed to load")

	// ErrTranscription reports that a single segment could not be
	// transcribed.
	ErrTranscription = errors.New("transcription failed")

	// ErrTimeout reports that the recogniser did not answer in time. It is
	// wrapped inside a TranscriptionError.
	ErrTimeout = errors.New("transcription timed out")

	// ErrNetwork reports that a remote service could not be reached or
	// answered with an unexpected HTTP status.
	ErrNetwork = errors.New("network request failed")
)

// DeviceError is returned when the microphone cannot be acquired.
type DeviceError struct {
	// Device is the requested device name; empty means the system default.
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("device %q: %v", name, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDevice.
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// ModelLoadError is returned when a model cannot be initialised.
type ModelLoadError struct {
	// Component names what failed to load, e.g. "vad" or "stt".
	Component string
	Err       error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load %s model: %v", e.Component, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Is reports whether target is ErrModelLoad.
func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

// TranscriptionError is returned when a segment fails to transcribe, and by
// the coordinator when it cannot start.
type TranscriptionError struct {
	// RequestID correlates the failure with worker logs. Empty for start-up
	// failures.
	RequestID string
	Err       error
}

func (e *TranscriptionError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("transcription: %v", e.Err)
	}
	return fmt.Sprintf("transcription %s: %v", e.RequestID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTranscription.
func (e *TranscriptionError) Is(target error) bool { return target == ErrTranscription }

// NetworkError is returned by the chat and recordings clients when a request
// never produced a usable answer: the connection failed, timed out, or the
// server replied with a status the client does not understand.
type NetworkError struct {
	// Op names the client operation, e.g. "chat" or "upload".
	Op string
	// URL is the request target.
	URL string
	// StatusCode is the HTTP status when one was received, otherwise 0.
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports whether target is ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
