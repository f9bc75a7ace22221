// Package whisper provides local whisper.cpp-backed transcribers.
//
// [Transcriber] talks to a running whisper-server binary, which exposes a
// REST API at POST /inference. Each captured attempt is wrapped in a WAV
// container and submitted as one batch request; recitation attempts are
// short, so no utterance segmentation is needed.
//
// [NativeTranscriber] runs the same models in-process through the
// whisper.cpp CGO bindings.
//
// Usage:
//
//	tr, err := whisper.New("http://localhost:8080", whisper.WithLanguage("ar"))
//	words, err := tr.Transcribe(ctx, seg)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/provider/stt"
	"github.com/MrWong99/tartil/pkg/recitation"
)

const (
	defaultLanguage = "ar"

	// whisper models are trained on 16 kHz mono audio.
	modelSampleRate = 16000
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "large-v3", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "ar"). Defaults to "ar".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		t.language = lang
	}
}

// WithPrompt sets an initial prompt that biases decoding towards the given
// vocabulary.
func WithPrompt(prompt string) Option {
	return func(t *Transcriber) {
		t.prompt = prompt
	}
}

// WithHTTPClient replaces the HTTP client. The default client has a 30 s
// timeout; callers usually bound requests through ctx instead.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New creates a new Transcriber that connects to the whisper.cpp HTTP server
// at serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe encodes seg as WAV and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data.
func (t *Transcriber) Transcribe(ctx context.Context, seg *recitation.CapturedAudioSegment) ([]recitation.TranscribedWord, error) {
	if err := stt.CheckSegment(seg); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	wav, err := audio.EncodeWAV(seg)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "attempt.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := []struct{ key, val string }{
		{"response_format", "json"},
		{"temperature", "0.0"},
		{"language", t.language},
		{"model", t.model},
		{"prompt", t.prompt},
	}
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		if err := mw.WriteField(f.key, f.val); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f.key, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := t.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("whisper: server error: %s", result.Error)
	}
	return stt.SplitWords(result.Text), nil
}
