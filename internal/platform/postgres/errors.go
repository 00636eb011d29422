package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/totebags/api/internal/repositories"
)

// SQLSTATE codes mapped to repository error kinds.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeTooManyConnections  = "53300"
	codeAdminShutdown       = "57P01"
)

// WrapError annotates database errors with repository semantics. Context cancellations are
// passed through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewError(op, repositories.ErrorKindNotFound, "not found", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return repositories.NewError(op, repositories.ErrorKindUnavailable, "deadline exceeded", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return repositories.NewError(op, repositories.ErrorKindConflict, pgErr.ConstraintName, err)
		case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation:
			return repositories.NewError(op, repositories.ErrorKindInvalidInput, pgErr.ConstraintName, err)
		case codeSerialization, codeDeadlock:
			return repositories.NewError(op, repositories.ErrorKindConflict, "concurrent update", err)
		case codeTooManyConnections, codeAdminShutdown:
			return repositories.NewError(op, repositories.ErrorKindUnavailable, "database unavailable", err)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return repositories.NewError(op, repositories.ErrorKindUnavailable, "database unavailable", err)
	}
	return repositories.NewError(op, repositories.ErrorKindUnknown, "database error", err)
}
