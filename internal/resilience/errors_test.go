package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped", fmt.Errorf("search: %w", NewTransientError(errors.New("x"), 429)), true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"net timeout", timeoutErr{}, true},
		{"broken pipe text", errors.New("write tcp: broken pipe"), true},
		{"eof text", errors.New("Unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 204, 400, 401, 404, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be terminal", code)
		}
	}
}

func TestTransientError_UnwrapAndMessage(t *testing.T) {
	inner := errors.New("gateway down")
	te := NewTransientError(inner, 502)
	if !errors.Is(te, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if te.Error() != "gateway down" {
		t.Errorf("unexpected message %q", te.Error())
	}
	if StatusCode(fmt.Errorf("wrap: %w", te)) != 502 {
		t.Error("expected status 502 through wrapping")
	}
	if StatusCode(inner) != 0 {
		t.Error("expected 0 status for plain error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
