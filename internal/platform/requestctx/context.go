// Package requestctx carries the per-request logger and trace identifiers
// between the HTTP middleware chain and the handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var nop = zap.NewNop()

// TraceInfo is the Cloud Trace context parsed from the incoming request.
// ProjectID is set when logs should link to the trace in the GCP console.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(orBackground(ctx), loggerKey{}, logger)
}

// Logger never returns nil; requests outside the middleware chain get a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, _ := ctx.Value(loggerKey{}).(*zap.Logger); logger != nil {
			return logger
		}
	}
	return nop
}

func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is empty when the request carried no trace header.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
