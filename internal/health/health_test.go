package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/tartil/internal/resilience"
)

func ok(context.Context) error { return nil }

func probe(t *testing.T, h *Handler, path string, ctx context.Context) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "library", Check: func(context.Context) error { return errors.New("empty") }})

	code, rep := probe(t, h, "/healthz", context.Background())
	if code != http.StatusOK || rep.Status != "ok" || rep.Checks != nil {
		t.Errorf("GET /healthz = %d %+v, want 200 ok without checks", code, rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				LibraryChecker(func() int { return 4 }),
				PingChecker("progress", ok),
			},
			wantCode: http.StatusOK,
			want:     map[string]string{"library": "ok", "progress": "ok"},
		},
		{
			name: "empty library",
			checkers: []Checker{
				LibraryChecker(func() int { return 0 }),
				PingChecker("progress", ok),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"library": "fail: verse library is empty", "progress": "ok"},
		},
		{
			name: "progress store down",
			checkers: []Checker{
				LibraryChecker(func() int { return 4 }),
				PingChecker("progress", func(context.Context) error { return errors.New("connection refused") }),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"library": "ok", "progress": "fail: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := probe(t, New(tt.checkers...), "/readyz", context.Background())
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if rep.Status != wantStatus {
				t.Errorf("report status = %q, want %q", rep.Status, wantStatus)
			}
			for name, want := range tt.want {
				if rep.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, rep.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code, _ := probe(t, h, "/readyz", ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	t.Parallel()
	// Each checker waits for the other, so a sequential run would deadlock
	// until the per-check timeout.
	a, b := make(chan struct{}), make(chan struct{})
	h := New(
		Checker{Name: "a", Check: func(ctx context.Context) error { close(a); <-b; return nil }},
		Checker{Name: "b", Check: func(ctx context.Context) error { close(b); <-a; return nil }},
	)
	if rep := h.Check(context.Background()); rep.Status != "ok" {
		t.Errorf("Check = %+v", rep)
	}
}

func TestTranscriptionChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		states  []resilience.EntryState
		wantErr bool
	}{
		{"none configured", nil, false},
		{"primary open, fallback closed", []resilience.EntryState{
			{Name: "whisper", State: resilience.StateOpen},
			{Name: "openai", State: resilience.StateClosed},
		}, false},
		{"half-open counts as available", []resilience.EntryState{
			{Name: "whisper", State: resilience.StateHalfOpen},
		}, false},
		{"all open", []resilience.EntryState{
			{Name: "whisper", State: resilience.StateOpen},
			{Name: "openai", State: resilience.StateOpen},
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := TranscriptionChecker(func() []resilience.EntryState { return tc.states })
			if err := c.Check(context.Background()); (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
