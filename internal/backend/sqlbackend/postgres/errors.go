package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/datamodel/internal/errs"
)

// PostgreSQL SQLSTATE codes the executor distinguishes.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUndefinedTable    = "42P01"
	pgErrUndefinedColumn   = "42703"
	pgErrInsufficientPrivs = "42501"
	pgErrQueryCanceled     = "57014"
	pgErrClassConnection   = "08"
	pgErrClassInvalidAuth  = "28"
)

// mapError translates pgx and pgconn errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQueryFailed
		switch {
		case pgErr.Code == pgErrUndefinedTable:
			kind = errs.ErrKindNotFound
		case pgErr.Code == pgErrUndefinedColumn:
			kind = errs.ErrKindInvalidInput
		case pgErr.Code == pgErrInsufficientPrivs:
			kind = errs.ErrKindPermissionDenied
		case pgErr.Code == pgErrQueryCanceled:
			kind = errs.ErrKindTimeout
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgErrClassConnection:
			kind = errs.ErrKindConnectionFailed
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgErrClassInvalidAuth:
			kind = errs.ErrKindPermissionDenied
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Network, TLS and handshake failures.
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
