// Package observability wires zap logging and OpenTelemetry spans into the
// HTTP stack. Log fields follow the Cloud Logging structured format.
package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/totebags/api/internal/platform/requestctx"
)

// NewLogger builds a JSON logger writing to stdout. Unknown or empty levels
// fall back to info.
func NewLogger(levelName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(levelName))
	if err != nil || strings.TrimSpace(levelName) == "" {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg.Build()
}

// requestLogger prefers the request-scoped logger and falls back outside
// HTTP requests (webhook retries, startup).
func requestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	if fallback == nil {
		return requestctx.NoopLogger()
	}
	return fallback
}

// ServiceLogger turns zap into the event hook services accept. The event
// suffix picks the level: .failed and .error log as errors, .rejected and
// .ignored as warnings.
func ServiceLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}

		logger := requestLogger(ctx, fallback)
		log := logger.Info
		switch event[strings.LastIndex(event, ".")+1:] {
		case "failed", "error":
			log = logger.Error
		case "rejected", "ignored":
			log = logger.Warn
		}
		log(event, zfields...)
	}
}

// PrintfAdapter feeds printf-style callers such as the idempotency
// middleware into zap at warn level.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Warnf(format, args...)
}
