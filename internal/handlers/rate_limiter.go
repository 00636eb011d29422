package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/ratelimit"
	"github.com/totebags/api/internal/platform/requestctx"
)

// limitByClientIP answers 429 with Retry-After in whole seconds once an
// address has spent its budget. Limiter failures let the request through.
func limitByClientIP(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				requestctx.Logger(r.Context()).Warn("rate limiter unavailable", zap.Error(err))
				allowed = true
			}
			if !allowed {
				seconds := max(1, int(math.Ceil(retryAfter.Seconds())))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, retry later", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects middleware.RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
