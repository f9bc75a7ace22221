// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. It implements stt.StreamTranscriber: the captured
// attempt is streamed in real-time-sized chunks and interim results are
// reported while Deepgram is still listening.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tartil/pkg/provider/stt"
	"github.com/MrWong99/tartil/pkg/recitation"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "ar"

	// 100 ms of 16 kHz mono s16.
	defaultChunkBytes = 3200
)

// Compile-time assertion that Transcriber implements stt.StreamTranscriber.
var _ stt.StreamTranscriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "ar").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// WithKeywords boosts recognition of the given words. Deepgram's keyword
// format is word:boost.
func WithKeywords(boost float64, words ...string) Option {
	return func(t *Transcriber) {
		for _, w := range words {
			t.keywords = append(t.keywords, fmt.Sprintf("%s:%g", w, boost))
		}
	}
}

// WithChunkBytes sets how many PCM bytes are sent per binary message.
func WithChunkBytes(n int) Option {
	return func(t *Transcriber) {
		if n > 0 {
			t.chunkBytes = n
		}
	}
}

// Transcriber implements stt.StreamTranscriber backed by the Deepgram
// streaming API. Every call opens its own connection.
type Transcriber struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	keywords   []string
	chunkBytes int
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		chunkBytes: defaultChunkBytes,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe streams seg to Deepgram and returns the final words.
func (t *Transcriber) Transcribe(ctx context.Context, seg *recitation.CapturedAudioSegment) ([]recitation.TranscribedWord, error) {
	return t.TranscribeStream(ctx, seg, nil)
}

// TranscribeStream streams seg to Deepgram. onPartial, if non-nil, receives
// the finalized words so far followed by the current interim hypothesis.
func (t *Transcriber) TranscribeStream(ctx context.Context, seg *recitation.CapturedAudioSegment, onPartial func([]recitation.TranscribedWord)) ([]recitation.TranscribedWord, error) {
	if err := stt.CheckSegment(seg); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	wsURL, err := t.buildURL(seg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- t.writeAudio(ctx, conn, seg.Bytes)
	}()

	var finals []recitation.TranscribedWord
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Deepgram closes the socket normally once CloseStream is processed.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if werr := <-writeErr; werr != nil {
				return nil, fmt.Errorf("deepgram: send audio: %w", werr)
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		res, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if res.isFinal {
			finals = append(finals, res.words...)
			if onPartial != nil {
				onPartial(slices.Clone(finals))
			}
			continue
		}
		if onPartial != nil {
			onPartial(append(slices.Clone(finals), res.words...))
		}
	}

	conn.Close(websocket.StatusNormalClosure, "done")
	if finals == nil {
		finals = []recitation.TranscribedWord{}
	}
	return finals, nil
}

// writeAudio sends pcm in chunks followed by the CloseStream control message
// that asks Deepgram to flush and close.
func (t *Transcriber) writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += t.chunkBytes {
		end := min(off+t.chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the Deepgram streaming endpoint URL for seg.
func (t *Transcriber) buildURL(seg *recitation.CapturedAudioSegment) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	channels := seg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "false")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(seg.SampleRate))
	q.Set("channels", strconv.Itoa(channels))
	for _, kw := range t.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response parsing ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	isFinal bool
	words   []recitation.TranscribedWord
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if len(alt.Words) == 0 {
		return result{isFinal: resp.IsFinal, words: stt.SplitWords(alt.Transcript)}, true
	}
	words := make([]recitation.TranscribedWord, 0, len(alt.Words))
	for _, w := range alt.Words {
		offset := time.Duration(w.Start * float64(time.Second)).Milliseconds()
		words = append(words, recitation.TranscribedWord{Text: w.Word, OffsetMs: &offset})
	}
	return result{isFinal: resp.IsFinal, words: words}, true
}
