package store

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors for classification via errors.Is(). Store operations
// raise a distinct condition for "row absent" versus "unique
// constraint violated" so callers can treat the latter as a
// recoverable duplicate.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: unique constraint violated")
)

// uniqueViolation is the PostgreSQL error code for a violated unique
// constraint.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL
// unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
