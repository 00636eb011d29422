package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key keeps replaying its first response.
const DefaultTTL = 24 * time.Hour

// Status is where a key sits between reservation and a stored response.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState tells the middleware what to do with an incoming request.
type ReservationState int

const (
	// ReservationStateNew lets the request through to the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted replays Record instead of running the handler.
	ReservationStateCompleted
	// ReservationStatePending rejects the request while the first attempt is in flight.
	ReservationStatePending
)

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the stored state for one key. Fingerprint pins the key to the
// method, path and body hash of the request that reserved it.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is what a handler wrote, captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store is implemented by MemoryStore for single instances and RedisStore
// when several API replicas share keys.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// ErrFingerprintMismatch means a client reused a key for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// slotKey addresses a record by key alone so that a reused key with another
// fingerprint lands on the same slot and is rejected.
func slotKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// transportHeaders are recomputed by net/http on replay and never stored.
var transportHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func sanitizeHeaders(header http.Header) map[string][]string {
	var kept map[string][]string
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := transportHeaders[canonical]; skip {
			continue
		}
		if kept == nil {
			kept = make(map[string][]string, len(header))
		}
		kept[canonical] = append([]string(nil), values...)
	}
	return kept
}

func headersFromRecord(values map[string][]string) http.Header {
	header := http.Header(values).Clone()
	if header == nil {
		return http.Header{}
	}
	return header
}
