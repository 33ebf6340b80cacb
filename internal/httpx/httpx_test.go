package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 599}
	for _, code := range retryable {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("%d should be retryable", code)
		}
	}
	final := []int{200, 301, 400, 401, 403, 404, 422}
	for _, code := range final {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("%d should not be retryable", code)
		}
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Fatalf("nil is never retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline errors are retryable")
	}
	if !IsRetryableError(fmt.Errorf("wrap: %w", statusErr{503})) {
		t.Fatalf("wrapped 503 should be retryable")
	}
	if IsRetryableError(statusErr{401}) {
		t.Fatalf("401 is final")
	}
	if IsRetryableError(fmt.Errorf("plain failure")) {
		t.Fatalf("unclassified errors are final")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	if got := RetryAfterDuration(nil, 2*time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("nil response should use the fallback, got %s", got)
	}

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "5")
	if got := RetryAfterDuration(resp, 2*time.Second, 10*time.Second); got != 5*time.Second {
		t.Fatalf("header should win, got %s", got)
	}
	resp.Header.Set("Retry-After", "120")
	if got := RetryAfterDuration(resp, 2*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("cap should apply, got %s", got)
	}
	resp.Header.Set("Retry-After", "nonsense")
	if got := RetryAfterDuration(resp, 2*time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("bad header should fall back, got %s", got)
	}
}

func TestJitterSleep_StaysNearBase(t *testing.T) {
	if got := JitterSleep(0); got != 0 {
		t.Fatalf("zero base should yield zero, got %s", got)
	}
	base := time.Second
	for i := 0; i < 100; i++ {
		got := JitterSleep(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jitter %s outside +/-20%% of %s", got, base)
		}
	}
}
