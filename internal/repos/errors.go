package repos

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"secondhand/internal/domain"
)

var errNotFound = domain.ErrNotFound

// IsBusy reports lock contention: SQLite busy/locked, or Postgres lock
// timeout, deadlock and serialization failures.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "55P03", "40P01", "40001":
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// Classify maps driver contention errors onto domain.ErrBusy and leaves the
// rest untouched.
func Classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrBusy) {
		return err
	}
	if IsBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}
	return err
}
