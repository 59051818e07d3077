package app

import (
	"context"
	"errors"
	"os"

	"github.com/MrWong99/earshot/internal/chat"
	"github.com/MrWong99/earshot/internal/fault"
	"github.com/MrWong99/earshot/internal/recordings"
	"github.com/MrWong99/earshot/pkg/audio"
)

// User-facing texts returned by [UserMessage].
const (
	MsgMicDenied     = "Microphone access was denied. Please allow microphone access and try again."
	MsgMicMissing    = "No microphone found. Please connect a microphone and try again."
	MsgMicBusy       = "The microphone is in use by another application. Please close it and try again."
	MsgModelLoad     = "Failed to load the speech model. Please check the model configuration and restart."
	MsgTimeout       = "Operation timed out. Please try again."
	MsgNetwork       = "Network error occurred. Please check your connection."
	MsgUpload        = "Failed to upload file. Please check your connection."
	MsgDelete        = "Failed to delete recording."
	MsgTranscription = "Failed to transcribe audio. Please try again."
	MsgChatBusy      = "Still answering the previous message. Please wait."
	MsgUnknown       = "An unexpected error occurred."

	MsgConfigRejected = "The edited configuration is invalid and was not applied."
)

// UserMessage turns err into a sentence suitable for the user interface.
// More specific kinds win: a model that failed to load inside a failed
// transcription reports the model, and a timed-out transcription reports the
// timeout.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		uploadErr  *recordings.UploadError
		deleteErr  *recordings.DeleteError
		networkErr *fault.NetworkError
	)
	switch {
	case errors.Is(err, fault.ErrDevice):
		switch {
		case errors.Is(err, audio.ErrNoDevice):
			return MsgMicMissing
		case errors.Is(err, audio.ErrDeviceBusy):
			return MsgMicBusy
		default:
			return MsgMicDenied
		}
	case errors.Is(err, fault.ErrModelLoad):
		return MsgModelLoad
	case errors.Is(err, fault.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return MsgTimeout
	case errors.As(err, &uploadErr):
		return MsgUpload
	case errors.As(err, &deleteErr):
		return MsgDelete
	case errors.As(err, &networkErr):
		if networkErr.Op == "upload" {
			return MsgUpload
		}
		return MsgNetwork
	case errors.Is(err, fault.ErrTranscription):
		return MsgTranscription
	case errors.Is(err, chat.ErrBusy):
		return MsgChatBusy
	default:
		return MsgUnknown
	}
}
