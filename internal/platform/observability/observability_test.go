package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/totebags/api/internal/platform/requestctx"
)

func TestServiceLoggerPicksLevelFromEventSuffix(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hook := ServiceLogger(zap.New(core))

	hook(context.Background(), "order.created", map[string]any{"order_id": "ord_1"})
	hook(context.Background(), "webhook.rejected", nil)
	hook(context.Background(), "quote.logo.failed", nil)

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d (%s): expected %s, got %s", i, entry.Message, want[i], entry.Level)
		}
	}
	if entries[0].ContextMap()["order_id"] != "ord_1" {
		t.Fatalf("expected order_id field, got %v", entries[0].ContextMap())
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	ServiceLogger(zap.New(fallbackCore))(ctx, "payment.approved", nil)

	if requestLogs.Len() != 1 || fallbackLogs.Len() != 0 {
		t.Fatalf("expected request logger to be used, got request=%d fallback=%d", requestLogs.Len(), fallbackLogs.Len())
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/missing", nil))

	entries := logs.FilterMessage("request completed").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected one access log, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected access log %+v", entries[0].ContextMap())
	}
}

func TestClipStripsControlCharacters(t *testing.T) {
	if got := clip("ord_1\n\tforged", 8); got != "ord_1for" {
		t.Fatalf("unexpected clip result %q", got)
	}
}
