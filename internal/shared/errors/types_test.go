package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "explicit transient error", err: NewTransientError(errors.New("test"), "transient"), expected: true},
		{name: "explicit permanent error", err: NewPermanentError(errors.New("test"), "permanent"), expected: false},
		{name: "rate limit 429", err: fmt.Errorf("API error 429: rate limit exceeded"), expected: true},
		{name: "server error 503", err: fmt.Errorf("request failed with status 503: unavailable"), expected: true},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "unauthorized 401", err: fmt.Errorf("HTTP 401: unauthorized"), expected: false},
		{name: "bad request 400", err: fmt.Errorf("HTTP 400: bad request"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "explicit permanent", err: NewPermanentError(errors.New("x"), "x"), expected: true},
		{name: "not found 404", err: fmt.Errorf("HTTP 404: not found"), expected: true},
		{name: "invalid payload", err: fmt.Errorf("invalid plan"), expected: true},
		{name: "rate limit 429", err: fmt.Errorf("HTTP 429: slow down"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.expected {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestFromHTTPStatus(t *testing.T) {
	if !IsTransient(FromHTTPStatus(502, "bad gateway")) {
		t.Fatalf("502 should be transient")
	}
	if IsTransient(FromHTTPStatus(401, "unauthorized")) {
		t.Fatalf("401 should not be transient")
	}
}

func TestRetryWithResultRetriesTransientOnly(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), FixedRetryConfig(2, time.Millisecond), func(context.Context) (int, error) {
		calls++
		return 0, NewPermanentError(errors.New("boom"), "boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call for permanent error, got calls=%d err=%v", calls, err)
	}

	calls = 0
	got, err := RetryWithResult(context.Background(), FixedRetryConfig(2, time.Millisecond), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("flaky"), "flaky")
		}
		return 7, nil
	})
	if err != nil || got != 7 || calls != 3 {
		t.Fatalf("expected success on third call, got=%d calls=%d err=%v", got, calls, err)
	}
}

func TestRetryReturnsLastErrorVerbatim(t *testing.T) {
	err := Retry(context.Background(), FixedRetryConfig(1, 0), func(context.Context) error {
		return NewTransientError(errors.New("upstream"), "upstream unavailable")
	})
	if err == nil || err.Error() != "upstream unavailable" {
		t.Fatalf("unexpected error: %v", err)
	}
}
