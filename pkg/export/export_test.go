package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readCSV(t *testing.T, fs afero.Fs, path string) [][]string {
	t.Helper()

	buf, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(buf, utf8BOM), "csv files start with a BOM")

	records, err := csv.NewReader(bytes.NewReader(buf[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	return records
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "csv", want: FormatCSV},
		{in: " XLSX ", want: FormatXLSX},
		{in: "parquet", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	f, err := FormatFromPath("out/final_quiz.xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = FormatFromPath("out/final_quiz")
	require.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("3b241101-e2bb-4255-8caf-4136c566a962")
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "control characters", in: "Pune\x00\x1f city\n", want: "Pune city\n"},
		{name: "time", in: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), want: "2024-03-01T10:30:00Z"},
		{name: "raw uuid", in: [16]byte(id), want: id.String()},
		{name: "uuid", in: id, want: id.String()},
		{name: "json", in: map[string]any{"subject": "Physics"}, want: `{"subject":"Physics"}`},
		{name: "number", in: int64(42), want: "42"},
		{name: "bool", in: true, want: "true"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestSheetName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "final.final_quiz", SheetName("final.final_quiz"))
	assert.Equal(t, "a_b", SheetName("a/b"))
	assert.Equal(t, "Sheet1", SheetName(" "))
	assert.Len(t, SheetName(strings.Repeat("x", 40)), maxSheetNameLength)
}

func TestWriter_Write(t *testing.T) {
	t.Parallel()

	table := Table{
		Name:    "intermediate.student_quiz",
		Columns: []string{"student_id", "marks", "cohort_code"},
		Rows: [][]any{
			{int64(1), int64(80), "C1"},
			{int64(2), nil, "C\x072"},
		},
	}

	t.Run("csv", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		require.NoError(t, NewWriter(fs).Write("audit/run/quiz.csv", FormatCSV, table))

		assert.Equal(t, [][]string{
			{"student_id", "marks", "cohort_code"},
			{"1", "80", "C1"},
			{"2", "", "C2"},
		}, readCSV(t, fs, "audit/run/quiz.csv"))
	})

	t.Run("xlsx", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		require.NoError(t, NewWriter(fs).Write("quiz.xlsx", FormatXLSX, table))

		buf, err := afero.ReadFile(fs, "quiz.xlsx")
		require.NoError(t, err)

		f, err := excelize.OpenReader(bytes.NewReader(buf))
		require.NoError(t, err)
		defer func() { _ = f.Close() }()

		assert.Equal(t, []string{"intermediate.student_quiz"}, f.GetSheetList())
		rows, err := f.GetRows("intermediate.student_quiz")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"student_id", "marks", "cohort_code"}, rows[0])
		assert.Equal(t, []string{"1", "80", "C1"}, rows[1])
		assert.Equal(t, "C2", rows[2][2])
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		require.Error(t, NewWriter(afero.NewMemMapFs()).Write("quiz.txt", Format("txt"), table))
	})
}

func TestAuditExporter_Export(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	e := NewAuditExporter(NewWriter(fs), "audit", FormatCSV, "run-1")

	path, err := e.Export("raw.general_information_sheet",
		[]string{"row_id", "group_size", "keep", "email"},
		[][]any{{"(0,1)", int64(2), true, "a@x.org"}, {"(0,7)", int64(2), false, "a@x.org"}},
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("audit", "run-1", "duplicate_raw_general_information_sheet.csv"), path)

	records := readCSV(t, fs, path)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"(0,7)", "2", "false", "a@x.org"}, records[2])
}

func TestDumpTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT \* FROM "final"\."final_quiz"`).
		WillReturnRows(pgxmock.NewRows([]string{"student_id", "marks"}).AddRow(int64(1), int64(70)).AddRow(int64(2), int64(90)))

	fs := afero.NewMemMapFs()
	n, err := DumpTable(context.Background(), mock, NewWriter(fs), "final.final_quiz", "out/final_quiz.csv")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 2, n)
	assert.Len(t, readCSV(t, fs, "out/final_quiz.csv"), 3)

	_, err = DumpTable(context.Background(), mock, NewWriter(fs), "final.final_quiz; drop", "out/x.csv")
	require.Error(t, err)
}
