package export

import (
	"context"
	"database/sql/driver"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"

	maxSheetNameLength = 31
)

var (
	controlCharacters = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	sheetNameReplacer = strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	utf8BOM           = []byte{0xEF, 0xBB, 0xBF}
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", errors.Errorf("unsupported export format '%s', expected csv or xlsx", s)
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", errors.Errorf("cannot tell the export format of '%s' without a file extension", path)
	}
	return ParseFormat(ext)
}

// Table is a header and its rows, in the order they are written.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

type Writer struct {
	fs afero.Fs
}

func NewWriter(fs afero.Fs) *Writer {
	return &Writer{fs: fs}
}

// Write creates the file at path, along with any missing parent directories.
func (w *Writer) Write(path string, format Format, t Table) (err error) {
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create the directory for %s", path)
	}

	file, err := w.fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close %s", path)
		}
	}()

	switch format {
	case FormatCSV:
		err = writeCSV(file, t)
	case FormatXLSX:
		err = writeXLSX(file, t)
	default:
		err = errors.Errorf("unsupported export format '%s'", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	return nil
}

// CSV files start with a BOM so spreadsheet tools read them as UTF-8.
func writeCSV(out io.Writer, t Table) error {
	if _, err := out.Write(utf8BOM); err != nil {
		return err
	}

	w := csv.NewWriter(out)
	if err := w.Write(t.Columns); err != nil {
		return err
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatValue(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func writeXLSX(out io.Writer, t Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := SheetName(t.Name)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}

	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = cellValue(v)
		}
		if err := setRow(f, sheet, i+2, cells); err != nil {
			return err
		}
	}

	return f.Write(out)
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

// SheetName turns a table name into a valid worksheet name.
func SheetName(name string) string {
	name = sheetNameReplacer.Replace(strings.TrimSpace(name))
	if name == "" {
		return "Sheet1"
	}
	if len(name) > maxSheetNameLength {
		name = name[:maxSheetNameLength]
	}
	return name
}

// numbers and booleans stay native so they can be summed and filtered in the sheet
func cellValue(v any) any {
	switch v := v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64, bool:
		return v
	default:
		return FormatValue(v)
	}
}

// FormatValue renders a database value as text.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return controlCharacters.ReplaceAllString(v, "")
	case []byte:
		return controlCharacters.ReplaceAllString(string(v), "")
	case time.Time:
		return v.Format(time.RFC3339)
	case [16]byte:
		return uuid.UUID(v).String()
	case map[string]any, []any:
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	case driver.Valuer:
		value, err := v.Value()
		if err != nil {
			return ""
		}
		if _, loops := value.(driver.Valuer); loops {
			return fmt.Sprint(value)
		}
		return FormatValue(value)
	case fmt.Stringer:
		return controlCharacters.ReplaceAllString(v.String(), "")
	default:
		return fmt.Sprint(v)
	}
}

// AuditExporter writes the duplicate rows of each table to its own file under dir/runID.
type AuditExporter struct {
	writer *Writer
	dir    string
	format Format
	runID  string
}

func NewAuditExporter(w *Writer, dir string, format Format, runID string) *AuditExporter {
	return &AuditExporter{writer: w, dir: dir, format: format, runID: runID}
}

func (e *AuditExporter) Path(table string) string {
	name := "duplicate_" + strings.ReplaceAll(table, ".", "_") + "." + string(e.format)
	return filepath.Join(e.dir, e.runID, name)
}

func (e *AuditExporter) Export(table string, columns []string, rows [][]any) (string, error) {
	path := e.Path(table)
	if err := e.writer.Write(path, e.format, Table{Name: table, Columns: columns, Rows: rows}); err != nil {
		return "", err
	}
	return path, nil
}

// DumpTable writes every row of a table to path, in the format its extension names.
func DumpTable(ctx context.Context, q postgres.Querier, w *Writer, table, path string) (int, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	if !postgres.ValidIdentifier(table) {
		return 0, errors.Errorf("invalid table name '%s'", table)
	}

	res, err := postgres.SelectWithSchema(ctx, q, query.New("SELECT * FROM "+postgres.QuoteIdentifier(table)))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read '%s'", table)
	}

	if err := w.Write(path, format, Table{Name: table, Columns: res.Columns, Rows: res.Rows}); err != nil {
		return 0, err
	}
	return len(res.Rows), nil
}
