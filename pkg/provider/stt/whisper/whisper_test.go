package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures what the fake server received.
type inferenceRequest struct {
	Language   string
	Model      string
	SampleRate int
	Samples    int
}

// fakeServer answers POST /inference with text and records each request.
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []inferenceRequest
}

func newFakeServer(t *testing.T, status int, text string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		samples, rate, err := audio.DecodeWAV(bytes.NewReader(data))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		fs.mu.Lock()
		fs.requests = append(fs.requests, inferenceRequest{
			Language:   r.FormValue("language"),
			Model:      r.FormValue("model"),
			SampleRate: rate,
			Samples:    len(samples),
		})
		fs.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "model exploded", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) Requests() []inferenceRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]inferenceRequest(nil), fs.requests...)
}

func speech(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsText(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, http.StatusOK, "  Hello darkness my old friend \n")
	p, _ := whisper.New(srv.URL+"/", whisper.WithModel("base.en"), whisper.WithLanguage("de"))

	tr, err := p.Transcribe(context.Background(), stt.Request{Samples: speech(16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Hello darkness my old friend" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", tr.Duration)
	}
	if tr.Language != "de" {
		t.Errorf("Language = %q, want de", tr.Language)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(reqs))
	}
	want := inferenceRequest{Language: "de", Model: "base.en", SampleRate: 16000, Samples: 16000}
	if reqs[0] != want {
		t.Errorf("request = %+v, want %+v", reqs[0], want)
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, http.StatusOK, "bonjour")
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), stt.Request{Samples: speech(800), SampleRate: 16000, Language: "fr"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := srv.Requests()[0].Language; got != "fr" {
		t.Errorf("language = %q, want fr", got)
	}
}

func TestTranscribe_BlankAudioMarkerYieldsEmptyText(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, http.StatusOK, " [BLANK_AUDIO]\n")
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), stt.Request{Samples: make([]float32, 16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q, want empty", tr.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, http.StatusInternalServerError, "")
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{Samples: speech(800), SampleRate: 16000})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_EmptySamples(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, http.StatusOK, "x")
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{SampleRate: 16000})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, http.StatusOK, "x")
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{Samples: speech(800), SampleRate: 16000}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
