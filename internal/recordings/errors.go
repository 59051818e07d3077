package recordings

import (
	"fmt"
	"net/http"
)

// UploadError is returned when the server rejects an upload.
type UploadError struct {
	Filename   string
	StatusCode int
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("recordings: upload %s: %s", e.Filename, statusText(e.StatusCode))
}

// FetchError is returned when the recording list cannot be retrieved.
type FetchError struct {
	StatusCode int
}

func (e *FetchError) Error() string {
	return "recordings: list: " + statusText(e.StatusCode)
}

// DeleteError is returned when the server refuses to delete a recording.
type DeleteError struct {
	Filename   string
	StatusCode int
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("recordings: delete %s: %s", e.Filename, statusText(e.StatusCode))
}

// DownloadError is returned when a recording cannot be downloaded.
type DownloadError struct {
	Filename   string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("recordings: download %s: %s", e.Filename, statusText(e.StatusCode))
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return fmt.Sprintf("%d %s", code, t)
	}
	return fmt.Sprintf("status %d", code)
}
