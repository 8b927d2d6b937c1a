package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/ansisql"
	"github.com/vigyanshaala/kalpana/pkg/helpers"
	"github.com/vigyanshaala/kalpana/pkg/logger"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

const (
	rowIDColumn     = "__row_id"
	groupSizeColumn = "__group_size"
	rankColumn      = "__rank"
)

// AuditColumns lead every exported duplicate row, followed by the table's own columns.
var AuditColumns = []string{"row_id", "group_size", "keep"}

// ErrDuplicatesRemain means the table still has duplicate keys after removal. The caller must roll back.
var ErrDuplicatesRemain = errors.New("duplicates remain after removal")

// Target is a table and the ordered key columns that must be unique in it.
type Target struct {
	Table string
	Key   []string
}

func (t Target) Validate() error {
	if !postgres.ValidIdentifier(t.Table) {
		return errors.Errorf("invalid table name '%s'", t.Table)
	}
	if len(t.Key) == 0 {
		return errors.Errorf("no key columns given for '%s'", t.Table)
	}
	for _, k := range t.Key {
		if !postgres.ValidIdentifier(k) || strings.Contains(k, ".") {
			return errors.Errorf("invalid key column '%s' for '%s'", k, t.Table)
		}
	}
	return nil
}

// Preview describes the duplicate groups without changing anything.
type Preview struct {
	Target   Target
	Groups   int64
	ToRemove int64
	// Columns are AuditColumns followed by the table columns; Rows are ordered by key, then physical order.
	Columns []string
	Rows    [][]any
}

func (p *Preview) Empty() bool {
	return p.ToRemove == 0
}

// RemovedRow identifies one deleted row by its physical location and key.
type RemovedRow struct {
	RowID string
	Key   []string
}

type Result struct {
	Preview     *Preview
	Removed     int64
	RemovedRows []RemovedRow
	AuditPath   string
}

// Exporter persists the duplicate rows before they are removed and returns where they were written.
type Exporter interface {
	Export(table string, columns []string, rows [][]any) (string, error)
}

type Deduplicator struct {
	logger   logger.Logger
	exporter Exporter
}

// New creates a Deduplicator. A nil exporter skips the audit export.
func New(l logger.Logger, exporter Exporter) *Deduplicator {
	return &Deduplicator{logger: l, exporter: exporter}
}

func keyCondition(key []string) string {
	conditions := make([]string, len(key))
	for i, k := range key {
		conditions[i] = postgres.QuoteIdentifier(k) + " IS NOT NULL"
	}
	return strings.Join(conditions, " AND ")
}

// PreviewQuery lists every row of every duplicate group. Rows with a NULL key part are never duplicates.
func PreviewQuery(t Target) *query.Query {
	partition := strings.Join(postgres.QuoteIdentifiers(t.Key), ", ")

	return query.New(fmt.Sprintf(`SELECT * FROM (
    SELECT
        t.ctid::text AS %[1]s,
        count(*) OVER (PARTITION BY %[4]s) AS %[2]s,
        row_number() OVER (PARTITION BY %[4]s ORDER BY t.ctid) AS %[3]s,
        t.*
    FROM %[5]s AS t
    WHERE %[6]s
) AS duplicates
WHERE %[2]s > 1
ORDER BY %[4]s, %[3]s`,
		postgres.QuoteIdentifier(rowIDColumn),
		postgres.QuoteIdentifier(groupSizeColumn),
		postgres.QuoteIdentifier(rankColumn),
		partition,
		postgres.QuoteIdentifier(t.Table),
		keyCondition(t.Key),
	))
}

// DeleteQuery removes every row of a group except the one with the lowest ctid.
func DeleteQuery(t Target) *query.Query {
	table := postgres.QuoteIdentifier(t.Table)

	conditions := make([]string, 0, len(t.Key)+1)
	conditions = append(conditions, "a.ctid > b.ctid")
	returning := make([]string, 0, len(t.Key)+1)
	returning = append(returning, "a.ctid::text")
	for _, k := range t.Key {
		quoted := postgres.QuoteIdentifier(k)
		conditions = append(conditions, fmt.Sprintf("a.%s = b.%s", quoted, quoted))
		returning = append(returning, fmt.Sprintf("a.%s::text", quoted))
	}

	return query.New(fmt.Sprintf("DELETE FROM %s AS a USING %s AS b WHERE %s RETURNING %s",
		table, table, strings.Join(conditions, " AND "), strings.Join(returning, ", ")))
}

func (d *Deduplicator) Preview(ctx context.Context, q postgres.Querier, t Target) (*Preview, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	res, err := postgres.SelectWithSchema(ctx, q, PreviewQuery(t))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find duplicates in '%s'", t.Table)
	}

	if len(res.Columns) < 3 {
		return nil, errors.Errorf("unexpected duplicate listing for '%s': %d columns", t.Table, len(res.Columns))
	}

	p := &Preview{
		Target:  t,
		Columns: append(append([]string{}, AuditColumns...), res.Columns[3:]...),
		Rows:    make([][]any, 0, len(res.Rows)),
	}

	for _, row := range res.Rows {
		groupSize, err := helpers.CastResultToInteger([][]any{{row[1]}})
		if err != nil {
			return nil, errors.Wrap(err, "failed to read the duplicate group size")
		}
		rank, err := helpers.CastResultToInteger([][]any{{row[2]}})
		if err != nil {
			return nil, errors.Wrap(err, "failed to read the duplicate rank")
		}

		keep := rank == 1
		if keep {
			p.Groups++
		} else {
			p.ToRemove++
		}

		out := make([]any, 0, len(row))
		out = append(out, row[0], groupSize, keep)
		out = append(out, row[3:]...)
		p.Rows = append(p.Rows, out)
	}

	return p, nil
}

// Apply exports and removes the duplicates, then verifies none are left. q should be a transaction so a
// failed verification can be rolled back together with the removal.
func (d *Deduplicator) Apply(ctx context.Context, q postgres.Querier, t Target) (*Result, error) {
	preview, err := d.Preview(ctx, q, t)
	if err != nil {
		return nil, err
	}

	result := &Result{Preview: preview}
	if preview.Empty() {
		d.logger.Debugw("no duplicates found", "table", t.Table)
		return result, nil
	}

	if d.exporter != nil {
		path, err := d.exporter.Export(t.Table, preview.Columns, preview.Rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to export the duplicates of '%s'", t.Table)
		}
		result.AuditPath = path
	}

	rows, err := postgres.Select(ctx, q, DeleteQuery(t))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to remove duplicates from '%s'", t.Table)
	}

	for _, row := range rows {
		removed := RemovedRow{Key: make([]string, 0, len(row)-1)}
		removed.RowID, _ = row[0].(string)
		for _, v := range row[1:] {
			s, _ := v.(string)
			removed.Key = append(removed.Key, s)
		}
		result.RemovedRows = append(result.RemovedRows, removed)
	}
	result.Removed = int64(len(rows))

	if result.Removed != preview.ToRemove {
		d.logger.Warnw("removed a different number of rows than previewed, the table changed in between",
			"table", t.Table, "previewed", preview.ToRemove, "removed", result.Removed)
	}

	if err := ansisql.UniqueKeyCheck(t.Table, t.Key).Check(ctx, q); err != nil {
		if errors.Is(err, ansisql.ErrCheckFailed) {
			return nil, errors.Wrap(ErrDuplicatesRemain, err.Error())
		}
		return nil, errors.Wrapf(err, "failed to verify '%s' after removing duplicates", t.Table)
	}

	d.logger.Infow("removed duplicates", "table", t.Table, "groups", preview.Groups, "removed", result.Removed, "audit", result.AuditPath)
	return result, nil
}
