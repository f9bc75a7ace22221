// Package api exposes practice sessions over HTTP.
//
// Routes:
//
//	POST /v1/sessions                       {"verseId": "112:1"}
//	POST /v1/verses/{surah}/{ayah}/sessions
//	GET  /v1/sessions/{id}
//	POST /v1/sessions/{id}/advance          {"action": "record"}
//	GET  /v1/sessions/{id}/feedback         204 until an attempt is analyzed
//	GET  /v1/sessions/{id}/live             websocket stream of live views
//
// Errors are JSON objects of the form {"error": "..."}. Unknown sessions and
// verses map to 404, malformed verses to 422 and actions that are not
// allowed in the current phase to 409.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/tartil/internal/practice"
	"github.com/MrWong99/tartil/pkg/content"
	"github.com/MrWong99/tartil/pkg/recitation"
)

// DefaultLiveInterval is how often the live stream samples a session.
const DefaultLiveInterval = 100 * time.Millisecond

// maxBodyBytes caps request bodies; every request body is a tiny JSON object.
const maxBodyBytes = 4 << 10

// Sessions is the subset of [practice.Manager] the API serves.
type Sessions interface {
	StartSession(ctx context.Context, verseID string) (recitation.PracticeSession, error)
	StartVerse(ctx context.Context, surah, ayah int) (recitation.PracticeSession, error)
	Advance(ctx context.Context, sessionID string, action practice.Action) (recitation.PracticeSession, error)
	Session(sessionID string) (recitation.PracticeSession, error)
	CurrentFeedback(sessionID string) (*recitation.FeedbackResult, error)
	Live(sessionID string) (practice.LiveView, error)
}

var _ Sessions = (*practice.Manager)(nil)

// Server holds the HTTP handlers.
type Server struct {
	sessions     Sessions
	liveInterval time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithLiveInterval sets the live stream sampling period.
func WithLiveInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.liveInterval = d
		}
	}
}

// New returns a Server backed by sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions, liveInterval: DefaultLiveInterval}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.createSession)
	mux.HandleFunc("POST /v1/verses/{surah}/{ayah}/sessions", s.createVerseSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /v1/sessions/{id}/advance", s.advance)
	mux.HandleFunc("GET /v1/sessions/{id}/feedback", s.getFeedback)
	mux.HandleFunc("GET /v1/sessions/{id}/live", s.live)
}

type createSessionRequest struct {
	VerseID string `json:"verseId"`
}

type advanceRequest struct {
	Action string `json:"action"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.VerseID == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("verseId is required"))
		return
	}
	sess, err := s.sessions.StartSession(r.Context(), req.VerseID)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) createVerseSession(w http.ResponseWriter, r *http.Request) {
	surah, err1 := strconv.Atoi(r.PathValue("surah"))
	ayah, err2 := strconv.Atoi(r.PathValue("ayah"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("surah and ayah must be integers: %w", err))
		return
	}
	sess, err := s.sessions.StartVerse(r.Context(), surah, ayah)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	action, err := practice.ParseAction(req.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sess, err := s.sessions.Advance(r.Context(), r.PathValue("id"), action)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getFeedback(w http.ResponseWriter, r *http.Request) {
	fb, err := s.sessions.CurrentFeedback(r.PathValue("id"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	if fb == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, practice.ErrSessionNotFound), errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recitation.ErrInvalidVerse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, practice.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, practice.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, practice.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "api: request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
