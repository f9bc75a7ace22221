// Package health serves the liveness and readiness probes of the practice
// server.
//
// GET /healthz answers 200 as long as the process serves HTTP. GET /readyz
// runs every registered [Checker] and answers 503 when any of them fails.
// Both reply with a [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tartil/internal/resilience"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the probe response body. Checks maps checker names to "ok" or
// "fail: <reason>".
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes for a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a Handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz runs all checkers concurrently and reports their outcome.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeReport(w, status, rep)
}

// Check runs every checker with its own [checkTimeout] deadline.
func (h *Handler) Check(ctx context.Context) Report {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] != nil {
			rep.Checks[c.Name] = "fail: " + errs[i].Error()
			rep.Status = "fail"
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep
}

// LibraryChecker fails while the verse library is empty.
func LibraryChecker(count func() int) Checker {
	return Checker{Name: "library", Check: func(context.Context) error {
		if count() == 0 {
			return errors.New("verse library is empty")
		}
		return nil
	}}
}

// TranscriptionChecker fails when every transcription backend has an open
// circuit breaker. A partly open chain is still ready.
func TranscriptionChecker(states func() []resilience.EntryState) Checker {
	return Checker{Name: "transcription", Check: func(context.Context) error {
		all := states()
		var open []string
		for _, s := range all {
			if s.State == resilience.StateOpen {
				open = append(open, s.Name)
			}
		}
		if len(all) > 0 && len(open) == len(all) {
			return fmt.Errorf("all backends unavailable: %s", strings.Join(open, ", "))
		}
		return nil
	}}
}

// PingChecker adapts a ping function such as a database pool's.
func PingChecker(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

func writeReport(w http.ResponseWriter, status int, rep Report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
