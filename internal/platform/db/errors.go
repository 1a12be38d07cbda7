package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// SQLSTATE codes the repositories care about.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeExclusionViolation   = "23P01"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeInvalidText          = "22P02"
)

// PgCode returns the SQLSTATE of err, or "" if err is not a Postgres error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsExclusionViolation reports whether err came from an EXCLUDE constraint.
func IsExclusionViolation(err error) bool {
	return PgCode(err) == CodeExclusionViolation
}

// MapError converts driver errors into apperr kinds. resource names the
// entity in not-found messages. Unrecognized errors are returned unchanged.
func MapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	switch PgCode(err) {
	case CodeExclusionViolation, CodeSerializationFailure, CodeDeadlockDetected:
		return apperr.Wrap(apperr.KindConflict, resource+" conflicts with an existing record", err)
	case CodeUniqueViolation:
		return apperr.Wrap(apperr.KindConflict, resource+" already exists", err)
	case CodeForeignKeyViolation:
		return apperr.Wrap(apperr.KindValidation, resource+" references a record that does not exist", err)
	case CodeCheckViolation, CodeInvalidText:
		return apperr.Wrap(apperr.KindValidation, "invalid "+resource, err)
	}
	return err
}
