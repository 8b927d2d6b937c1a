package constraint

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const table = "final.daily_weekly_attendance"

var key = []string{"student_id", "session_id"}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "uq_final_daily_weekly_attendance_573d0282", Name(table, key))
	assert.Equal(t, Name(table, key), Name(table, []string{"session_id", "student_id"}), "column order does not matter")

	long := "intermediate." + strings.Repeat("a", 70)
	assert.Len(t, Name(long, key), 63)
	assert.True(t, strings.HasPrefix(Name(long, key), Prefix(long)+"_"))
}

func TestName_ChangesWithTheKey(t *testing.T) {
	t.Parallel()

	quizKey := []string{"student_id", "resource_id"}
	overridden := []string{"student_id", "resource_id", "cohort_code"}

	assert.Equal(t, "uq_final_final_quiz_8114e1d1", Name("final.final_quiz", quizKey))
	assert.Equal(t, "uq_final_final_quiz_d1923349", Name("final.final_quiz", overridden))
	assert.NotEqual(t, AddQuery("final.final_quiz", quizKey).String(), AddQuery("final.final_quiz", overridden).String())
}

func TestAddQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		`ALTER TABLE "final"."daily_weekly_attendance" ADD CONSTRAINT "uq_final_daily_weekly_attendance_573d0282" UNIQUE ("student_id", "session_id")`,
		AddQuery(table, key).String(),
	)
}

func TestOwnedQuery(t *testing.T) {
	t.Parallel()

	q := OwnedQuery(table)
	assert.Contains(t, q.String(), "FROM pg_constraint c")
	assert.Equal(t, []any{`"final"."daily_weekly_attendance"`, 32, "uq_final_daily_weekly_attendance"}, q.Args)
	assert.Equal(t,
		`ALTER TABLE "final"."daily_weekly_attendance" DROP CONSTRAINT "uq_final_daily_weekly_attendance"`,
		DropQuery(table, "uq_final_daily_weekly_attendance").String(),
	)
}

func TestFindQuery(t *testing.T) {
	t.Parallel()

	q := FindQuery(table, key)
	assert.Equal(t, []any{`"final"."daily_weekly_attendance"`, []string{"session_id", "student_id"}}, q.Args)
	assert.Equal(t, []string{"student_id", "session_id"}, key, "the caller's key is not reordered")
}

func TestManager_Ensure(t *testing.T) {
	t.Parallel()

	findPattern := regexp.QuoteMeta("FROM pg_index i")
	ownedPattern := regexp.QuoteMeta("FROM pg_constraint c")
	addPattern := regexp.QuoteMeta(`ALTER TABLE "final"."daily_weekly_attendance" ADD CONSTRAINT "uq_final_daily_weekly_attendance_573d0282"`)
	dropPattern := regexp.QuoteMeta(`ALTER TABLE "final"."daily_weekly_attendance" DROP CONSTRAINT`)
	noneOwned := func(mock pgxmock.PgxPoolIface) {
		mock.ExpectQuery(ownedPattern).
			WithArgs(`"final"."daily_weekly_attendance"`, 32, "uq_final_daily_weekly_attendance").
			WillReturnRows(pgxmock.NewRows([]string{"conname"}))
	}

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		want    Outcome
		wantErr error
		errText string
	}{
		{
			name: "already present issues no DDL",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WithArgs(`"final"."daily_weekly_attendance"`, []string{"session_id", "student_id"}).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}).AddRow("final.session_student_unique"))
			},
			want: AlreadyPresent,
		},
		{
			name: "created when missing",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WithArgs(`"final"."daily_weekly_attendance"`, []string{"session_id", "student_id"}).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}))
				noneOwned(mock)
				mock.ExpectExec(addPattern).WillReturnResult(pgxmock.NewResult("ALTER", 0))
			},
			want: Created,
		},
		{
			name: "a constraint created for an earlier key is replaced",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WithArgs(`"final"."daily_weekly_attendance"`, []string{"session_id", "student_id"}).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}))
				mock.ExpectQuery(ownedPattern).
					WillReturnRows(pgxmock.NewRows([]string{"conname"}).
						AddRow("uq_final_daily_weekly_attendance").
						AddRow("uq_final_daily_weekly_attendance_065fd7b6"))
				mock.ExpectExec(dropPattern + `"uq_final_daily_weekly_attendance"$`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
				mock.ExpectExec(dropPattern + `"uq_final_daily_weekly_attendance_065fd7b6"$`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
				mock.ExpectExec(addPattern).WillReturnResult(pgxmock.NewResult("ALTER", 0))
			},
			want: Replaced,
		},
		{
			name: "drop failure",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}))
				mock.ExpectQuery(ownedPattern).
					WillReturnRows(pgxmock.NewRows([]string{"conname"}).AddRow("uq_final_daily_weekly_attendance"))
				mock.ExpectExec(dropPattern).
					WillReturnError(&pgconn.PgError{Code: "2BP01", Message: "cannot drop constraint because other objects depend on it"})
			},
			errText: "failed to drop the outdated constraint 'uq_final_daily_weekly_attendance'",
		},
		{
			name: "owned constraint lookup failure",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}))
				mock.ExpectQuery(ownedPattern).WillReturnError(errors.New("connection reset"))
			},
			errText: "failed to look up existing constraints on 'final.daily_weekly_attendance'",
		},
		{
			name: "leftover duplicates",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WithArgs(`"final"."daily_weekly_attendance"`, []string{"session_id", "student_id"}).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}))
				noneOwned(mock)
				mock.ExpectExec(addPattern).WillReturnError(&pgconn.PgError{Code: "23505", Message: "could not create unique index"})
			},
			wantErr: ErrLeftoverDuplicates,
		},
		{
			name: "other DDL failures are wrapped",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).
					WithArgs(`"final"."daily_weekly_attendance"`, []string{"session_id", "student_id"}).
					WillReturnRows(pgxmock.NewRows([]string{"indexrelid"}))
				noneOwned(mock)
				mock.ExpectExec(addPattern).WillReturnError(&pgconn.PgError{Code: "42501", Message: "must be owner of table daily_weekly_attendance"})
			},
			errText: "failed to add the unique constraint on 'final.daily_weekly_attendance'",
		},
		{
			name: "lookup failure",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findPattern).WillReturnError(errors.New("connection reset"))
			},
			errText: "failed to look up unique indexes on 'final.daily_weekly_attendance': connection reset",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			tt.setup(mock)

			got, err := NewManager(zap.NewNop().Sugar()).Ensure(context.Background(), mock, table, key)
			require.NoError(t, mock.ExpectationsWereMet())

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestManager_EnsureWithoutKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	_, err = NewManager(zap.NewNop().Sugar()).Ensure(context.Background(), mock, table, nil)
	require.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "already present", AlreadyPresent.String())
	assert.Equal(t, "replaced", Replaced.String())
}
