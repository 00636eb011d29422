package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/repositories"
)

// CounterRepository implements repositories.CounterRepository with row-locked sequences.
type CounterRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Postgres-backed counter repository.
func NewCounterRepository(db *sql.DB) (*CounterRepository, error) {
	if db == nil {
		return nil, errors.New("counter repository requires database")
	}
	return &CounterRepository{db: db, now: time.Now}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
// A missing counter is created starting at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewError("counters.next", repositories.ErrorKindInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewError("counters.next", repositories.ErrorKindInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	now := r.now().UTC()
	var next int64
	err := ppostgres.RunInTx(ctx, r.db, func(ctx context.Context) error {
		q := ppostgres.Conn(ctx, r.db)
		if _, err := q.ExecContext(ctx,
			`INSERT INTO counters (id, current_value, step, updated_at) VALUES ($1, 0, 1, $2) ON CONFLICT (id) DO NOTHING`,
			id, now); err != nil {
			return ppostgres.WrapError("counters.next", err)
		}

		var (
			current, storedStep int64
			maxValue            sql.NullInt64
		)
		if err := q.QueryRowContext(ctx,
			`SELECT current_value, step, max_value FROM counters WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current, &storedStep, &maxValue); err != nil {
			return ppostgres.WrapError("counters.next", err)
		}

		increment := step
		if increment <= 0 {
			increment = storedStep
		}
		if increment <= 0 {
			increment = 1
		}
		next = current + increment
		if maxValue.Valid && next > maxValue.Int64 {
			return repositories.NewError("counters.next", repositories.ErrorKindExhausted,
				fmt.Sprintf("counter %s exceeded max value %d", id, maxValue.Int64), nil)
		}

		if _, err := q.ExecContext(ctx,
			`UPDATE counters SET current_value = $2, updated_at = $3 WHERE id = $1`, id, next, now); err != nil {
			return ppostgres.WrapError("counters.next", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Configure updates step size, max value or initial value, creating the counter if needed.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewError("counters.configure", repositories.ErrorKindInvalidInput, "counter id is required", nil)
	}

	var step, maxValue, initial any
	if cfg.Step > 0 {
		step = cfg.Step
	}
	if cfg.MaxValue != nil {
		maxValue = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		initial = *cfg.InitialValue
	}

	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO counters (id, current_value, step, max_value, updated_at)
VALUES ($1, COALESCE($4::BIGINT, 0), COALESCE($2::BIGINT, 1), $3::BIGINT, $5)
ON CONFLICT (id) DO UPDATE SET
	step = COALESCE($2::BIGINT, counters.step),
	max_value = COALESCE($3::BIGINT, counters.max_value),
	current_value = COALESCE($4::BIGINT, counters.current_value),
	updated_at = $5`, id, step, maxValue, initial, r.now().UTC())
	return ppostgres.WrapError("counters.configure", err)
}
