package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// fakeServer speaks the stream-input protocol: it reads the handshake, the
// text and the flush, then answers with the given chunks.
type fakeServer struct {
	mu       sync.Mutex
	t        *testing.T
	chunks   [][]byte
	errorMsg string
	path     string
	query    string
	messages []map[string]any
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.path = r.URL.Path
	s.query = r.URL.RawQuery
	s.mu.Unlock()
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.t.Errorf("accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()

	for range 3 {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.t.Errorf("read: %v", err)
			return
		}
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		s.mu.Lock()
		s.messages = append(s.messages, m)
		s.mu.Unlock()
	}

	if s.errorMsg != "" {
		b, _ := json.Marshal(map[string]string{"error": s.errorMsg})
		_ = conn.Write(ctx, websocket.MessageText, b)
		return
	}
	for _, c := range s.chunks {
		b, _ := json.Marshal(map[string]any{"audio": base64.StdEncoding.EncodeToString(c)})
		_ = conn.Write(ctx, websocket.MessageText, b)
	}
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"isFinal":true}`))
}

func (s *fakeServer) seen() (path, query string, messages []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.query, append([]map[string]any(nil), s.messages...)
}

func newProvider(t *testing.T, srv *httptest.Server, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{WithEndpoint("ws" + strings.TrimPrefix(srv.URL, "http"))}, opts...)
	p, err := New("xi-key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	fs := &fakeServer{t: t, chunks: [][]byte{[]byte("ID3"), []byte("frame1"), []byte("frame2")}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	p := newProvider(t, srv, WithVoice("voice-abc"))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio.Data) != "ID3frame1frame2" {
		t.Errorf("data = %q", audio.Data)
	}
	if audio.Format != tts.FormatMP3 || audio.SampleRate != 44100 {
		t.Errorf("format = %s/%d, want mp3/44100", audio.Format, audio.SampleRate)
	}

	path, query, messages := fs.seen()
	if path != "/v1/text-to-speech/voice-abc/stream-input" {
		t.Errorf("path = %q", path)
	}
	if !strings.Contains(query, "model_id="+defaultModel) {
		t.Errorf("query = %q, want model id", query)
	}
	if len(messages) != 3 {
		t.Fatalf("server saw %d messages, want 3", len(messages))
	}
	if messages[0]["xi_api_key"] != "xi-key" {
		t.Errorf("handshake = %v, want api key", messages[0])
	}
	if messages[1]["text"] != "Hello there " {
		t.Errorf("text message = %v", messages[1])
	}
	if messages[2]["text"] != "" {
		t.Errorf("flush message = %v", messages[2])
	}
}

func TestSynthesize_RequestVoiceOverridesDefault(t *testing.T) {
	fs := &fakeServer{t: t, chunks: [][]byte{{1, 2}}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	p := newProvider(t, srv, WithOutputFormat("pcm_16000"))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "other"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if path, _, _ := fs.seen(); !strings.Contains(path, "/other/") {
		t.Errorf("path = %q, want requested voice", path)
	}
	if audio.Format != tts.FormatPCM16 || audio.SampleRate != 16000 {
		t.Errorf("format = %s/%d, want pcm16/16000", audio.Format, audio.SampleRate)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	fs := &fakeServer{t: t, errorMsg: "quota exceeded"}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	p := newProvider(t, srv)
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want server error", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  "}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	u := p.buildURL("voice-abc123")
	if !strings.HasPrefix(u, "wss://api.elevenlabs.io/v1/text-to-speech/voice-abc123/stream-input?") {
		t.Errorf("unexpected URL %q", u)
	}
	if !strings.Contains(u, "output_format=mp3_44100_128") {
		t.Errorf("URL %q lacks output format", u)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		format  string
		rate    int
		wantErr bool
	}{
		{"mp3_44100_128", tts.FormatMP3, 44100, false},
		{"pcm_24000", tts.FormatPCM16, 24000, false},
		{"ulaw_8000", "", 0, true},
		{"pcm", "", 0, true},
		{"pcm_fast", "", 0, true},
	}
	for _, tc := range tests {
		format, rate, err := parseOutputFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if format != tc.format || rate != tc.rate {
			t.Errorf("%s: got %s/%d, want %s/%d", tc.in, format, rate, tc.format, tc.rate)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithOutputFormat("flac")); err == nil {
		t.Error("expected error for unsupported output format")
	}
	p, err := New("key", WithModel("eleven_multilingual_v2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" || p.voice != defaultVoice {
		t.Errorf("provider = %+v", p)
	}
}
