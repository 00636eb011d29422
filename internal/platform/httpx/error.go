package httpx

import (
	"context"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/totebags/api/internal/platform/requestctx"
)

// Field length caps for values echoed back to clients.
const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
	maxTraceLen   = 64
)

// Error is a client-facing failure: a stable snake_case Code, a message safe
// to show to shoppers and the HTTP status it maps to.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLen),
		Message: singleLine(message, maxMessageLen),
		Status:  status,
	}
}

// WithDetails attaches field-level context such as the offending SKU.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError renders err inside the envelope, stamping the chi request id
// and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeEnvelope(w, status, Envelope{Error: &ErrorBody{
		Code:      err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: singleLine(middleware.GetReqID(ctx), maxIDLen),
		TraceID:   singleLine(requestctx.TraceID(ctx), maxTraceLen),
		Details:   err.Details,
	}})
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(lineBreaks.Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
