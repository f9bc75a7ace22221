package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/tartil/pkg/recitation"
)

func segment() *recitation.CapturedAudioSegment {
	return &recitation.CapturedAudioSegment{SessionID: "s1", SampleRate: 16000, Channels: 1, Bytes: make([]byte, 1600)}
}

// TestNew_DefaultModel verifies that an empty model string defaults to whisper-1.
func TestNew_DefaultModel(t *testing.T) {
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, tr.ModelID())
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestTranscribe(t *testing.T) {
	var (
		mu     sync.Mutex
		fields map[string]string
		size   int
		auth   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
			size = int(fh[0].Size)
		}
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "Qul huwa Allahu ahad."})
	}))
	defer srv.Close()

	tr, err := New("sk-test", "", WithBaseURL(srv.URL), WithPrompt("Al-Ikhlas"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	words, err := tr.Transcribe(context.Background(), segment())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := recitation.WordTexts(words); !slices.Equal(got, []string{"Qul", "huwa", "Allahu", "ahad"}) {
		t.Errorf("words = %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if size != 44+1600 {
		t.Errorf("uploaded %d bytes, want %d", size, 44+1600)
	}
	for k, v := range map[string]string{"model": "whisper-1", "language": "ar", "prompt": "Al-Ikhlas"} {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	tr, _ := New("sk-test", "", WithBaseURL(srv.URL), WithMaxRetries(0))
	if _, err := tr.Transcribe(context.Background(), segment()); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

func TestTranscribe_EmptySegment(t *testing.T) {
	tr, _ := New("sk-test", "")
	if _, err := tr.Transcribe(context.Background(), &recitation.CapturedAudioSegment{}); err == nil {
		t.Fatal("expected error for empty segment")
	}
}
