package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestExecuteWithResult_PrimarySuccess(t *testing.T) {
	fg := newGroup()
	result, name, err := ExecuteWithResult(fg, func(_ string, v string) (string, error) {
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-primary" || name != "primary" {
		t.Fatalf("result = %q from %q, want from-primary from primary", result, name)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := newGroup()
	result, name, err := ExecuteWithResult(fg, func(_ string, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-secondary" || name != "secondary" {
		t.Fatalf("result = %q from %q", result, name)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := newGroup()
	_, _, err := ExecuteWithResult(fg, func(string, string) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the last backend error in the chain", err)
	}
}

func TestExecuteWithResult_SkipsOpenBreaker(t *testing.T) {
	fg := newGroup()
	for range 2 {
		_, _, _ = ExecuteWithResult(fg, func(_ string, v string) (struct{}, error) {
			if v == "primary" {
				return struct{}{}, errTest
			}
			return struct{}{}, nil
		})
	}

	var calledPrimary bool
	_, name, err := ExecuteWithResult(fg, func(_ string, v string) (struct{}, error) {
		calledPrimary = calledPrimary || v == "primary"
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledPrimary || name != "secondary" {
		t.Fatalf("primary called = %v, served by %q; primary circuit should be open", calledPrimary, name)
	}

	states := fg.States()
	if len(states) != 2 || states[0].State != StateOpen || states[1].State != StateClosed {
		t.Errorf("States() = %+v", states)
	}
}

func TestExecuteWithResult_HaltsOnDeadline(t *testing.T) {
	fg := newGroup()
	var calls []string
	_, _, err := ExecuteWithResult(fg, func(_ string, v string) (string, error) {
		calls = append(calls, v)
		return "", context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("halted call reported ErrAllFailed")
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only the primary", calls)
	}
}
