package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("boom"), want: "error"},
		{name: "cancelled context", err: errors.Wrap(context.Canceled, "upsert"), want: "cancelled"},
		{name: "deadline", err: context.DeadlineExceeded, want: "cancelled"},
		{name: "statement timeout", err: &pgconn.PgError{Code: "57014"}, want: "cancelled"},
		{name: "unique violation", err: errors.Wrap(&pgconn.PgError{Code: "23505"}, "add constraint"), want: "unique violation"},
		{name: "permission denied", err: &pgconn.PgError{Code: "42501"}, want: "permission denied"},
		{name: "undefined table", err: &pgconn.PgError{Code: "42P01"}, want: "undefined table"},
		{name: "type mismatch", err: &pgconn.PgError{Code: "42804"}, want: "type mismatch"},
		{name: "invalid text", err: &pgconn.PgError{Code: "22P02"}, want: "type mismatch"},
		{name: "affected twice", err: &pgconn.PgError{Code: "21000"}, want: "row affected twice"},
		{name: "not null", err: &pgconn.PgError{Code: "23502"}, want: "integrity violation"},
		{name: "numeric overflow", err: &pgconn.PgError{Code: "22003"}, want: "data exception"},
		{name: "other", err: &pgconn.PgError{Code: "53100"}, want: "database error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Cause(tt.err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	unique := errors.Wrap(&pgconn.PgError{Code: "23505"}, "wrapped")
	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsPermissionDenied(unique))
	assert.True(t, IsPermissionDenied(&pgconn.PgError{Code: "42501"}))
	assert.True(t, IsDuplicateObject(&pgconn.PgError{Code: "42710"}))
	assert.True(t, IsDuplicateObject(&pgconn.PgError{Code: "42P07"}))
	assert.False(t, IsCancelled(unique))
	assert.Empty(t, SQLState(errors.New("plain")))
}
