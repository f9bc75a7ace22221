package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs an in-memory tracer provider as the global one for
// the duration of the test.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog routes the default slog logger into a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useRecorder(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "practice.capture")
	defer span.End()
	cid := CorrelationID(ctx)
	if b, err := hex.DecodeString(cid); err != nil || len(b) != 16 {
		t.Errorf("CorrelationID = %q, want a 32-digit hex trace ID", cid)
	}
}

func TestLogger_Fields(t *testing.T) {
	useRecorder(t)

	spanCtx, span := StartSpan(context.Background(), "practice.analyze")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		wantNot []string
	}{
		{"plain", context.Background(), nil, []string{"trace_id", "session_id"}},
		{"span", spanCtx, []string{"trace_id=", "span_id="}, []string{"session_id"}},
		{"session", WithSession(context.Background(), "sess-42"), []string{"session_id=sess-42"}, []string{"trace_id"}},
		{"span and session", WithSession(spanCtx, "sess-42"), []string{"trace_id=", "session_id=sess-42"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			Logger(tt.ctx).Info("attempt scored")
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("log %q missing %q", out, s)
				}
			}
			for _, s := range tt.wantNot {
				if strings.Contains(out, s) {
					t.Errorf("log %q contains %q", out, s)
				}
			}
		})
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
	if got := SessionID(WithSession(context.Background(), "sess-1")); got != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got)
	}
}

func TestStartSessionSpan(t *testing.T) {
	exp := useRecorder(t)

	_, span := StartSessionSpan(WithSession(context.Background(), "sess-7"), "practice.analyze")
	span.End()
	_, span = StartSessionSpan(context.Background(), "practice.listen")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	sessionAttr := func(s tracetest.SpanStub) string {
		for _, a := range s.Attributes {
			if a.Key == "session.id" {
				return a.Value.AsString()
			}
		}
		return ""
	}
	if spans[0].Name != "practice.analyze" || sessionAttr(spans[0]) != "sess-7" {
		t.Errorf("first span = %q session.id=%q", spans[0].Name, sessionAttr(spans[0]))
	}
	if got := sessionAttr(spans[1]); got != "" {
		t.Errorf("span without session carries session.id=%q", got)
	}
}
