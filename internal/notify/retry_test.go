package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

type sendFunc func(ctx context.Context, to, subject, body string) error

func (f sendFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SendResult
	}{
		{"nil", nil, SendResultOK},
		{"400", &StatusError{StatusCode: 400}, SendResultStop},
		{"404", &StatusError{StatusCode: 404}, SendResultStop},
		{"429", &StatusError{StatusCode: 429}, SendResultRetry},
		{"503", &StatusError{StatusCode: 503}, SendResultRetry},
		{"wrapped 502", fmt.Errorf("send: %w", &StatusError{StatusCode: 502}), SendResultRetry},
		{"network", errors.New("connection refused"), SendResultRetry},
		{"canceled", context.Canceled, SendResultStop},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), SendResultStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySendError(tt.err); got != tt.want {
				t.Errorf("ClassifySendError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{2, 800 * time.Millisecond},
		{3, 1600 * time.Millisecond},
		{4, 2 * time.Second},
		{10, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("failures=%d", tt.failures), func(t *testing.T) {
			if got := CalculateBackoff(tt.failures); got != tt.want {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
			}
		})
	}
}

func newTestRetrying(next Notifier, attempts int, slept *[]time.Duration) *RetryingNotifier {
	n := NewRetryingNotifier(next, attempts, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	n.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return n
}

func TestRetryingNotifier_RetriesTransientFailures(t *testing.T) {
	calls := 0
	var slept []time.Duration
	n := newTestRetrying(sendFunc(func(context.Context, string, string, string) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 503}
		}
		return nil
	}), 3, &slept)

	if err := n.Send(context.Background(), "ana@example.com", "s", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 || slept[0] != 200*time.Millisecond || slept[1] != 400*time.Millisecond {
		t.Errorf("slept = %v, want [200ms 400ms]", slept)
	}
}

func TestRetryingNotifier_StopsOnClientError(t *testing.T) {
	calls := 0
	var slept []time.Duration
	n := newTestRetrying(sendFunc(func(context.Context, string, string, string) error {
		calls++
		return &StatusError{StatusCode: 400, Body: "bad payload"}
	}), 3, &slept)

	err := n.Send(context.Background(), "ana@example.com", "s", "b")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 400 {
		t.Fatalf("err = %v, want StatusError 400", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryingNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	var slept []time.Duration
	n := newTestRetrying(sendFunc(func(context.Context, string, string, string) error {
		calls++
		return errors.New("connection refused")
	}), 2, &slept)

	if err := n.Send(context.Background(), "ana@example.com", "s", "b"); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryingNotifier_StopsWhenContextCanceled(t *testing.T) {
	calls := 0
	n := NewRetryingNotifier(sendFunc(func(context.Context, string, string, string) error {
		calls++
		return &StatusError{StatusCode: 502}
	}), 5, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, "ana@example.com", "s", "b"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
