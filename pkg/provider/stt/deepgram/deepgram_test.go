package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tartil/pkg/recitation"
)

func segment(n int) *recitation.CapturedAudioSegment {
	return &recitation.CapturedAudioSegment{
		SessionID:  "s1",
		SampleRate: 16000,
		Channels:   1,
		Bytes:      make([]byte, n),
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	tr, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := tr.buildURL(segment(2))
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "ar", q.Get("language"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_Options(t *testing.T) {
	tr, err := New("key", WithModel("base"), WithLanguage("ar-SA"), WithKeywords(2, "ٱللَّهُ", "أَحَدٌ"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seg := segment(4)
	seg.SampleRate = 48000
	seg.Channels = 2
	rawURL, err := tr.buildURL(seg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "ar-SA", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "channels", "2", q.Get("channels"))
	if kws := q["keywords"]; !slices.Equal(kws, []string{"ٱللَّهُ:2", "أَحَدٌ:2"}) {
		t.Errorf("keywords = %q", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "qul huwa",
				"confidence": 0.95,
				"words": [
					{"word": "qul", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "huwa", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	res, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !res.isFinal {
		t.Error("expected isFinal=true")
	}
	if got := recitation.WordTexts(res.words); !slices.Equal(got, []string{"qul", "huwa"}) {
		t.Fatalf("words = %q", got)
	}
	if res.words[1].OffsetMs == nil || *res.words[1].OffsetMs != 600 {
		t.Errorf("offset = %v, want 600", res.words[1].OffsetMs)
	}
}

func TestParseDeepgramResponse_TranscriptWithoutWords(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"qul huwa","words":[]}]}}`)

	res, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if res.isFinal {
		t.Error("expected isFinal=false for interim result")
	}
	if got := recitation.WordTexts(res.words); !slices.Equal(got, []string{"qul", "huwa"}) {
		t.Errorf("words = %q", got)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	cases := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range cases {
		if _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- streaming tests ----

// fakeDeepgram accepts one websocket, counts audio bytes until CloseStream,
// then replies with the given messages and closes normally.
type fakeDeepgram struct {
	replies []string

	mu         sync.Mutex
	authHeader string
	audioBytes int
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authHeader = r.Header.Get("Authorization")
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
			break
		}
		f.mu.Lock()
		f.audioBytes += len(msg)
		f.mu.Unlock()
	}
	for _, m := range f.replies {
		if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestTranscribeStream(t *testing.T) {
	t.Parallel()

	fake := &fakeDeepgram{replies: []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"qul"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"words":[{"word":"qul","start":0},{"word":"huwa","start":0.4}]}]}}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"allah"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"words":[{"word":"allah","start":0.9},{"word":"ahad","start":1.3}]}]}}`,
		`{"type":"Metadata","request_id":"r1"}`,
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	tr, err := New("secret", WithEndpoint(srv.URL), WithChunkBytes(1000))
	if err != nil {
		t.Fatal(err)
	}

	var partials [][]string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	words, err := tr.TranscribeStream(ctx, segment(3200), func(w []recitation.TranscribedWord) {
		partials = append(partials, recitation.WordTexts(w))
	})
	if err != nil {
		t.Fatalf("TranscribeStream: %v", err)
	}

	if got := recitation.WordTexts(words); !slices.Equal(got, []string{"qul", "huwa", "allah", "ahad"}) {
		t.Errorf("words = %q", got)
	}
	if len(partials) != 4 {
		t.Fatalf("partials = %q, want 4 updates", partials)
	}
	if !slices.Equal(partials[2], []string{"qul", "huwa", "allah"}) {
		t.Errorf("interim after first final = %q", partials[2])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.authHeader != "Token secret" {
		t.Errorf("Authorization = %q", fake.authHeader)
	}
	if fake.audioBytes != 3200 {
		t.Errorf("server received %d audio bytes, want 3200", fake.audioBytes)
	}
}

func TestTranscribe_NothingHeard(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeDeepgram{})
	defer srv.Close()

	tr, _ := New("k", WithEndpoint(srv.URL))
	words, err := tr.Transcribe(context.Background(), segment(640))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if words == nil || len(words) != 0 {
		t.Errorf("words = %#v, want empty non-nil", words)
	}
}

func TestTranscribe_EmptySegment(t *testing.T) {
	t.Parallel()

	tr, _ := New("k", WithEndpoint("ws://127.0.0.1:1"))
	if _, err := tr.Transcribe(context.Background(), segment(0)); err == nil {
		t.Fatal("expected error for empty segment")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
