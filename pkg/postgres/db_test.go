package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

func TestClient_Select(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		query     string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   string
		want      [][]interface{}
	}{
		{
			name:  "select rows",
			query: "SELECT * FROM intermediate.cohort",
			want:  [][]interface{}{{"INC007", "Incubator 7.0"}, {"INC008", "Incubator 8.0"}},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRowsWithColumnDefinition(
					pgconn.FieldDescription{Name: "cohort_code"},
					pgconn.FieldDescription{Name: "cohort_name"},
				).AddRow("INC007", "Incubator 7.0").AddRow("INC008", "Incubator 8.0")
				mock.ExpectQuery(`SELECT \* FROM intermediate.cohort`).WillReturnRows(rows)
			},
		},
		{
			name:  "select empty rows",
			query: "SELECT * FROM intermediate.cohort",
			want:  [][]interface{}{},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRowsWithColumnDefinition(
					pgconn.FieldDescription{Name: "cohort_code"},
				)
				mock.ExpectQuery(`SELECT \* FROM intermediate.cohort`).WillReturnRows(rows)
			},
		},
		{
			name:    "query errors",
			query:   "SELECT * FROM intermediate.cohort",
			wantErr: "connection reset",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT \* FROM intermediate.cohort`).WillReturnError(errors.New("connection reset"))
			},
		},
		{
			name:    "row error while collecting",
			query:   "SELECT * FROM intermediate.cohort",
			wantErr: "failed to collect row values: broken row",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRowsWithColumnDefinition(
					pgconn.FieldDescription{Name: "cohort_code"},
				).AddRow("INC007")
				rows.RowError(1, errors.New("broken row"))
				mock.ExpectQuery(`SELECT \* FROM intermediate.cohort`).WillReturnRows(rows)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			tt.setupMock(mock)

			client := Client{connection: mock}
			got, err := client.Select(context.Background(), query.New(tt.query))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClient_SelectWithSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	rows := pgxmock.NewRowsWithColumnDefinition(
		pgconn.FieldDescription{Name: "email"},
		pgconn.FieldDescription{Name: "count"},
	).AddRow("a@example.com", int64(2))
	mock.ExpectQuery("SELECT email").WithArgs(int64(1)).WillReturnRows(rows)

	client := NewClientWithPool(mock)
	got, err := client.SelectWithSchema(context.Background(), query.New("SELECT email, count(*) FROM t HAVING count(*) > $1", int64(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "count"}, got.Columns)
	assert.Equal(t, [][]interface{}{{"a@example.com", int64(2)}}, got.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Ping(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

		require.NoError(t, NewClientWithPool(mock).Ping(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure is wrapped", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectExec("SELECT 1").WillReturnError(errors.New("no route to host"))

		err = NewClientWithPool(mock).Ping(context.Background())
		require.Error(t, err)
		assert.Equal(t, "failed to run test query on Postgres connection: no route to host", err.Error())
	})
}

func TestClient_WithTx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rollback  bool
		fn        func(tx pgx.Tx) error
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   string
	}{
		{
			name: "commits on success",
			fn: func(tx pgx.Tx) error {
				_, err := tx.Exec(context.Background(), "DELETE FROM raw.general_information_sheet")
				return err
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM raw.general_information_sheet").WillReturnResult(pgxmock.NewResult("DELETE", 3))
				mock.ExpectCommit()
			},
		},
		{
			name: "rolls back on error",
			fn: func(tx pgx.Tx) error {
				_, err := tx.Exec(context.Background(), "DELETE FROM raw.general_information_sheet")
				return err
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM raw.general_information_sheet").WillReturnError(errors.New("permission denied"))
				mock.ExpectRollback()
			},
			wantErr: "permission denied",
		},
		{
			name:     "dry run always rolls back",
			rollback: true,
			fn: func(tx pgx.Tx) error {
				_, err := tx.Exec(context.Background(), "DELETE FROM raw.general_information_sheet")
				return err
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM raw.general_information_sheet").WillReturnResult(pgxmock.NewResult("DELETE", 3))
				mock.ExpectRollback()
			},
		},
		{
			name: "begin failure",
			fn: func(tx pgx.Tx) error {
				return nil
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
			},
			wantErr: "failed to begin transaction: too many connections",
		},
		{
			name: "commit failure",
			fn: func(tx pgx.Tx) error {
				return nil
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			wantErr: "failed to commit transaction: serialization failure",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			tt.setupMock(mock)

			client := NewClientWithPool(mock)
			if tt.rollback {
				err = client.WithRollback(context.Background(), tt.fn)
			} else {
				err = client.WithTx(context.Background(), tt.fn)
			}

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClient_WithTx_RollsBackOnPanic(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectBegin()
	mock.ExpectRollback()

	client := NewClientWithPool(mock)
	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx pgx.Tx) error {
			panic("boom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
