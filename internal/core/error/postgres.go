package errx

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WrapPostgres maps pgx errors to AppError. Constraint violations (SQLSTATE
// class 23) are conflicts, everything else is an upstream failure.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return New(err, http.StatusNotFound, PostgresNotFoundMessage)
	case errors.Is(err, context.DeadlineExceeded):
		return New(err, http.StatusGatewayTimeout, PostgresErrorMessage)
	case errors.Is(err, context.Canceled):
		return New(err, StatusClientClosedRequest, PostgresErrorMessage)
	case errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
		return New(err, http.StatusConflict, PostgresErrorMessage)
	}
	return New(err, http.StatusBadGateway, PostgresErrorMessage)
}
