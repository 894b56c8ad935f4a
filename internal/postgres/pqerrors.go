package postgres

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	ierr "github.com/reckonhq/reckon/internal/errors"
)

const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a duplicate-key violation and, if
// so, which constraint was hit. Callers use the constraint name to translate
// raw storage errors into typed conflicts ("someone else already has this")
// instead of leaking them.
func IsUniqueViolation(err error) (constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// WrapDBError normalizes raw database errors into the typed taxonomy:
// no-rows → not found, unique violation → already exists, rest → database.
func WrapDBError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithHint("Resource not found").
			WithReportableDetails(map[string]any{"op": op}).
			Mark(ierr.ErrNotFound)
	}
	if constraint, ok := IsUniqueViolation(err); ok {
		return ierr.WithError(err).
			WithHint("A conflicting record already exists").
			WithReportableDetails(map[string]any{"op": op, "constraint": constraint}).
			Mark(ierr.ErrAlreadyExists)
	}
	return ierr.WithError(err).
		WithHint("Database operation failed").
		WithReportableDetails(map[string]any{"op": op}).
		Mark(ierr.ErrDatabase)
}
