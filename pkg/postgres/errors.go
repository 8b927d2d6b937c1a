package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	codeUniqueViolation        = "23505"
	codeInsufficientPrivilege  = "42501"
	codeUndefinedTable         = "42P01"
	codeUndefinedColumn        = "42703"
	codeDuplicateObject        = "42710"
	codeDuplicateTable         = "42P07"
	codeDatatypeMismatch       = "42804"
	codeInvalidTextRepr        = "22P02"
	codeQueryCanceled          = "57014"
	codeCardinalityViolation   = "21000"
	classIntegrityConstraint   = "23"
	classDataException         = "22"
	classSyntaxOrAccessProblem = "42"
)

// SQLState returns the SQLSTATE code of a PostgreSQL error, or an empty string for anything else.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return SQLState(err) == codeUniqueViolation
}

func IsPermissionDenied(err error) bool {
	return SQLState(err) == codeInsufficientPrivilege
}

func IsDuplicateObject(err error) bool {
	code := SQLState(err)
	return code == codeDuplicateObject || code == codeDuplicateTable
}

func IsCancelled(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return SQLState(err) == codeQueryCanceled
}

// Cause gives a short operator-facing category for a database error.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	if IsCancelled(err) {
		return "cancelled"
	}

	code := SQLState(err)
	switch code {
	case "":
		return "error"
	case codeUniqueViolation:
		return "unique violation"
	case codeInsufficientPrivilege:
		return "permission denied"
	case codeUndefinedTable:
		return "undefined table"
	case codeUndefinedColumn:
		return "undefined column"
	case codeDuplicateObject, codeDuplicateTable:
		return "object already exists"
	case codeDatatypeMismatch, codeInvalidTextRepr:
		return "type mismatch"
	case codeCardinalityViolation:
		return "row affected twice"
	}

	switch code[:2] {
	case classIntegrityConstraint:
		return "integrity violation"
	case classDataException:
		return "data exception"
	case classSyntaxOrAccessProblem:
		return "syntax or access error"
	}

	return "database error"
}
