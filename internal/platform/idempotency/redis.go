package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "totebags:idempotency"

// RedisOption customises the Redis-backed store.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace prepended to every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

// RedisStore persists reservations as JSON values whose Redis TTL matches the record expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func (r redisRecord) toRecord() Record {
	return Record(r)
}

func (s *RedisStore) redisKey(key, fingerprint string) string {
	return fmt.Sprintf("%s:%s", s.prefix, slotKey(key))
}

// Reserve claims the key with SETNX; an existing value is inspected to decide replay or conflict.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rkey := s.redisKey(key, fingerprint)
	pending := redisRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, err
	}

	// The value may expire between SETNX and GET; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, rkey, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: pending.toRecord()}, nil
		}

		existing, err := s.load(ctx, rkey)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: existing.toRecord()}, nil
		}
		return Reservation{State: ReservationStatePending, Record: existing.toRecord()}, nil
	}
	return Reservation{}, errors.New("idempotency: reserve: key churned during reservation")
}

// SaveResponse replaces the pending value with the completed response under optimistic locking.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rkey := s.redisKey(key, fingerprint)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record := redisRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		raw, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("idempotency: decode record: %w", err)
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}

		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = sanitizeHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, payload, ttl)
			return nil
		})
		return err
	}, rkey)
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return err
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := s.client.Del(ctx, s.redisKey(key, fingerprint)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// Ping reports whether the Redis server answers; used by readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) load(ctx context.Context, rkey string) (redisRecord, error) {
	raw, err := s.client.Get(ctx, rkey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redisRecord{}, err
		}
		return redisRecord{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var record redisRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return redisRecord{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
