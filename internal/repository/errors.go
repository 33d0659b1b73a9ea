package repository

import (
	"errors"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// psql builds queries with $N placeholders, understood by both pgx and modernc sqlite.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const pgUniqueViolation = "23505"

// isUniqueViolation detects unique constraint failures for both PostgreSQL and SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "duplicate key value")
}

func affected(result interface{ RowsAffected() (int64, error) }) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
