package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the wrapper every response body uses.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data"`
	Error    *ErrorBody     `json:"error"`
	Metadata map[string]any `json:"metadata"`
}

// ErrorBody is the error member of the envelope.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteData writes a successful envelope. metadata may be nil.
func WriteData(w http.ResponseWriter, status int, data any, metadata map[string]any) {
	if status == 0 {
		status = http.StatusOK
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	writeEnvelope(w, status, Envelope{Success: true, Data: data, Metadata: metadata})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
