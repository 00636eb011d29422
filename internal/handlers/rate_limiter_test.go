package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/totebags/api/internal/platform/ratelimit"
)

func noContent(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestLimitByClientIPRoundsRetryAfterUp(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewFixedWindow(1, 1500*time.Millisecond, func() time.Time { return now })
	handler := limitByClientIP(limiter)(http.HandlerFunc(noContent))

	req := httptest.NewRequest(http.MethodPost, "/b2b/quote", nil)
	req.RemoteAddr = "192.0.2.7:5400"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assertErrorCode(t, rr, http.StatusTooManyRequests, "rate_limited")
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis: connection refused")
}

func TestLimitByClientIPFailsOpen(t *testing.T) {
	rr := httptest.NewRecorder()
	limitByClientIP(brokenLimiter{})(http.HandlerFunc(noContent)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/b2b/quote", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected request through when limiter fails, got %d", rr.Code)
	}
}

func TestClientIPWithoutPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = " 203.0.113.9 "
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("unexpected client ip %q", got)
	}
}
