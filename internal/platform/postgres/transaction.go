package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultTxTimeout = 15 * time.Second

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey struct{}

// TxFromContext returns the transaction started by RunInTx, if any.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Conn returns the active transaction from ctx, or db when none is running.
func Conn(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	timeout   time.Duration
	isolation sql.IsolationLevel
}

// WithTxTimeout caps the transaction duration.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithIsolation selects the isolation level.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(cfg *txConfig) {
		cfg.isolation = level
	}
}

// RunInTx executes fn inside a transaction stored on the context. Nested calls join the
// outer transaction. fn's error rolls back; otherwise the transaction commits.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error, opts ...TxOption) error {
	if db == nil {
		return WrapError("transaction", errors.New("postgres: db is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	cfg := txConfig{timeout: defaultTxTimeout, isolation: sql.LevelReadCommitted}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	tx, err := db.BeginTx(txCtx, &sql.TxOptions{Isolation: cfg.isolation})
	if err != nil {
		return WrapError("transaction.begin", err)
	}

	if err := fn(context.WithValue(txCtx, txContextKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}
