package ansisql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueKeyCheck_Query(t *testing.T) {
	t.Parallel()

	c := UniqueKeyCheck("final.final_quiz", []string{"student_id", "resource_id"})
	assert.Equal(t, "unique_key", c.Name())
	assert.Equal(t,
		`SELECT count(*) FROM (SELECT 1 FROM "final"."final_quiz" WHERE "student_id" IS NOT NULL AND "resource_id" IS NOT NULL GROUP BY "student_id", "resource_id" HAVING count(*) > 1) AS duplicate_groups`,
		c.Query().String(),
	)
}

func TestCompletenessCheck_Query(t *testing.T) {
	t.Parallel()

	c := CompletenessCheck("final.student_demography", []string{"email", "caste"}, "SELECT email, caste FROM somewhere;\n")
	assert.Equal(t, `SELECT count(*) FROM (
SELECT "email", "caste" FROM (
SELECT email, caste FROM somewhere
) AS expected
EXCEPT
SELECT "email", "caste" FROM "final"."student_demography"
) AS missing`, c.Query().String())
}

func TestCountableQueryCheck_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr string
		isCheck bool
	}{
		{
			name: "passes when no groups",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM (SELECT 1 FROM "intermediate"."student_quiz"`)).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
			},
		},
		{
			name: "fails with the count",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM (SELECT 1 FROM "intermediate"."student_quiz"`)).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
			},
			wantErr: "table 'intermediate.student_quiz' has 1 duplicate key group over (student_id, resource_id): check failed",
			isCheck: true,
		},
		{
			name: "query error",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM (SELECT 1 FROM "intermediate"."student_quiz"`)).
					WillReturnError(errors.New("relation does not exist"))
			},
			wantErr: "failed 'unique_key' check: relation does not exist",
		},
		{
			name: "unparsable result",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM (SELECT 1 FROM "intermediate"."student_quiz"`)).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow("many"))
			},
			wantErr: "failed to parse 'unique_key' check result",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			tt.setup(mock)

			err = UniqueKeyCheck("intermediate.student_quiz", []string{"student_id", "resource_id"}).Check(context.Background(), mock)
			require.NoError(t, mock.ExpectationsWereMet())

			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.isCheck, errors.Is(err, ErrCheckFailed))
		})
	}
}
