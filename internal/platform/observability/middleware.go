package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/totebags/api/internal/platform/auth"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/requestctx"
)

// InjectLoggerMiddleware makes logger the base for every request logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one access log line per request and tags the
// server span with the matched chi route and the response status.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestctx.Logger(ctx).With(requestFields(r)...)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := routePattern(r)

				span := trace.SpanFromContext(r.Context())
				span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}

				fields := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				if identity, ok := auth.IdentityFromContext(r.Context()); ok {
					fields = append(fields, zap.String("subject", clip(identity.Subject, 64)))
				}
				log := logger.Info
				switch {
				case status >= http.StatusInternalServerError:
					log = logger.Error
				case status >= http.StatusBadRequest:
					log = logger.Warn
				}
				log("request completed", fields...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func requestFields(r *http.Request) []zap.Field {
	info, _ := requestctx.Trace(r.Context())
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", clip(r.Method, 10)),
		zap.String("path", clip(r.URL.Path, 180)),
		zap.String("trace_id", info.TraceID),
	}
	if info.ProjectID != "" && info.TraceID != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace",
			fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
	}
	if ip := remoteIP(r); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return fields
}

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs the
// stack. http.ErrAbortHandler is re-raised so net/http can abort the
// connection.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				switch rec {
				case nil:
					return
				case http.ErrAbortHandler:
					panic(rec)
				}
				requestLogger(r.Context(), fallback).Error("panic recovered",
					zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL.Path != "" {
		return clip(r.URL.Path, 180)
	}
	return "/"
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return clip(addr, 64)
}

// clip removes control characters so request data cannot forge log lines,
// then caps the result at limit runes.
func clip(value string, limit int) string {
	out := []rune(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value))
	if len(out) > limit {
		out = out[:limit]
	}
	return string(out)
}
