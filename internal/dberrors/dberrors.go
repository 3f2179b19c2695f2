// Package dberrors classifies sqlite driver errors into the typed
// AppError kinds the rest of the module expects, shared by
// pkg/metadatacache's store and migration setup.
package dberrors

import (
	"database/sql"
	"errors"
	"strings"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// Classify wraps cause as a Database AppError, upgrading to Conflict when
// the driver reports a UNIQUE/PRIMARY KEY constraint violation.
func Classify(operation string, cause error) error {
	if cause == nil {
		return nil
	}
	if IsConstraintViolation(cause) {
		return apperrors.Wrapf(cause, apperrors.ErrorTypeConflict, "constraint violation during %s", operation)
	}
	return apperrors.NewDatabaseError(operation, cause)
}

// IsConstraintViolation reports whether cause is a sqlite UNIQUE, PRIMARY
// KEY, or CHECK constraint failure. modernc.org/sqlite reports these as
// plain *sqlite.Error values whose message contains "constraint failed";
// matching on the message is what the driver itself recommends since it
// does not expose a typed sentinel per constraint kind.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "unique constraint")
}

// IsNoRows reports whether err is sql.ErrNoRows (or wraps it), the
// standard "no such row" signal sqlx.Get/Select return.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
