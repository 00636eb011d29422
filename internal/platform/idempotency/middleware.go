package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/totebags/api/internal/platform/auth"
	"github.com/totebags/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	anonymousCaller   = "anonymous"
)

// Logger receives store failures that cannot be surfaced to the client.
type Logger interface {
	Printf(format string, args ...any)
}

type MiddlewareOption func(*guard)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey runs requests without a key straight through. Checkout
// clients that predate the header rely on this.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// guard holds the settings for one Middleware instance. Only mutating
// methods are guarded.
type guard struct {
	store    Store
	next     http.Handler
	header   string
	ttl      time.Duration
	optional bool
	clock    func() time.Time
	logger   Logger
}

// Middleware replays the first response recorded for a key and rejects reuse
// of that key for a different request. 5xx responses are not recorded so the
// client can retry with the same key. A nil store disables the middleware.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	base := guard{store: store, header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return func(next http.Handler) http.Handler {
		g := base
		g.next = next
		if g.next == nil {
			g.next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return &g
	}
}

func guarded(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !guarded(r.Method) {
		g.next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.optional:
		g.next.ServeHTTP(w, r)
		return
	case key == "":
		respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case len(key) > maxKeyLength:
		respondError(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	caller := anonymousCaller
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Subject != "" {
		caller = identity.Subject
	}
	storeKey := key + "|" + caller
	fingerprint := fingerprintOf(r, body, caller)

	reservation, err := g.store.Reserve(r.Context(), storeKey, fingerprint, g.clock().UTC(), g.ttl)
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	if err != nil {
		g.logf("idempotency: store error: %v", err)
		respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateNew:
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	default:
		respondError(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
		return
	}

	rec := &bufferedWriter{header: http.Header{}}
	g.next.ServeHTTP(rec, r)
	resp := rec.response()

	if resp.Status >= http.StatusInternalServerError {
		if err := g.store.Release(r.Context(), storeKey, fingerprint); err != nil {
			g.logf("idempotency: failed to release key %s after status %d: %v", key, resp.Status, err)
		}
	} else if err := g.store.SaveResponse(r.Context(), storeKey, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: failed to persist response for key %s (caller %s): %v", key, caller, err)
		if err := g.store.Release(r.Context(), storeKey, fingerprint); err != nil {
			g.logf("idempotency: failed to release key %s after save failure: %v", key, err)
		}
		respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}

	if err := rec.flushTo(w); err != nil {
		g.logf("idempotency: failed to flush response for key %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// bufferBody reads the body for hashing and puts a fresh reader back for the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintOf binds a key to what the request asked for: method, target,
// content type, caller and body.
func fingerprintOf(r *http.Request, body []byte, caller string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		caller,
		bodyHash,
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	clear(dst)
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		dst[name] = values
	}
	dst.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if body := markReplayed(record.ResponseBody); len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// markReplayed sets metadata.idempotent_replay on a stored envelope. Bodies
// that are not JSON objects come back untouched.
func markReplayed(body []byte) []byte {
	var envelope map[string]json.RawMessage
	if len(body) == 0 || json.Unmarshal(body, &envelope) != nil {
		return body
	}
	metadata := map[string]any{}
	if raw := envelope["metadata"]; len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return body
		}
	}
	metadata["idempotent_replay"] = true

	var err error
	if envelope["metadata"], err = json.Marshal(metadata); err != nil {
		return body
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return body
	}
	return append(out, '\n')
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedWriter holds the handler's response until the store has accepted it.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedWriter) response() Response {
	b.WriteHeader(http.StatusOK)
	resp := Response{Status: b.status, Headers: b.header.Clone()}
	if b.body.Len() > 0 {
		resp.Body = b.body.Bytes()
	}
	return resp
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	clear(dst)
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status)
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
