package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many reservations pass between opportunistic sweeps of
// expired records.
const sweepEvery = 256

// MemoryStore keeps records in process memory. main falls back to it when no
// Redis address is configured, which is only safe with a single replica.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	calls   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls++; s.calls%sweepEvery == 0 {
		s.sweep(now, 0)
	}

	slot := slotKey(key)
	existing, found := s.records[slot]
	if found && !existing.expiredAt(now) {
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		state := ReservationStatePending
		if existing.Status == StatusCompleted {
			state = ReservationStateCompleted
		}
		return Reservation{State: state, Record: existing}, nil
	}

	fresh := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)),
	}
	s.records[slot] = fresh
	return Reservation{State: ReservationStateNew, Record: fresh}, nil
}

// SaveResponse completes a reservation. Saving without a prior Reserve is
// allowed and creates the record directly.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := slotKey(key)
	record, found := s.records[slot]
	switch {
	case found && record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	case !found || record.CreatedAt.IsZero():
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}

	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttlOrDefault(ttl))
	s.records[slot] = record
	return nil
}

// Release forgets the key so the client may retry it.
func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	delete(s.records, slotKey(key))
	s.mu.Unlock()
	return nil
}

// sweep drops up to limit expired records; limit <= 0 means all of them.
// Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time, limit int) int {
	removed := 0
	for slot, record := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if record.expiredAt(now) {
			delete(s.records, slot)
			removed++
		}
	}
	return removed
}
