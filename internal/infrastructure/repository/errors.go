package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common repository errors
var (
	ErrNotFound       = errors.New("entity not found")
	ErrDuplicateKey   = errors.New("duplicate key violation")
	ErrOptimisticLock = errors.New("optimistic lock failure")
)

// PostgreSQL error codes the repositories react to
const (
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
	pgLockNotAvailable    = "55P03"
)

// IsDuplicateKeyViolation checks if the error is a unique constraint violation
func IsDuplicateKeyViolation(err error) bool {
	return hasPgCode(err, pgUniqueViolation)
}

// IsCheckViolation checks if a table CHECK constraint rejected the row
func IsCheckViolation(err error) bool {
	return hasPgCode(err, pgCheckViolation)
}

// IsLockContention reports errors caused by competing transactions. The
// statement can be retried by the caller.
func IsLockContention(err error) bool {
	return hasPgCode(err, pgSerializationFailed) ||
		hasPgCode(err, pgDeadlockDetected) ||
		hasPgCode(err, pgLockNotAvailable)
}

// IsNotFound checks if the error indicates a record was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func hasPgCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// WrapRepositoryError maps driver errors onto the repository sentinels
func WrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return ErrNotFound
	case IsDuplicateKeyViolation(err):
		return ErrDuplicateKey
	case IsLockContention(err):
		return ErrOptimisticLock
	default:
		return err
	}
}
