package upsert

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/logger"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

type builder func(d catalog.Descriptor, source string) string

var strategyMap = map[catalog.Strategy]builder{
	catalog.StrategyUpsert: buildUpsertQuery,
	catalog.StrategyMerge:  buildMergeQuery,
}

// Result counts the rows a reconciliation wrote. Unchanged rows are not counted.
type Result struct {
	Inserted int64
	Updated  int64
	Affected int64
}

type Engine struct {
	logger logger.Logger
}

func NewEngine(l logger.Logger) *Engine {
	return &Engine{logger: l}
}

func quoted(prefix string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = prefix + postgres.QuoteIdentifier(c)
	}
	return out
}

// SourceQuery reduces the derivation to exactly one row per natural key, chosen by the tie-break ordering.
// Rows with a NULL key part are dropped since they could never conflict and would be re-inserted on every run.
func SourceQuery(d catalog.Descriptor) string {
	keys := quoted("derived.", d.NaturalKey)

	notNull := make([]string, len(keys))
	for i, k := range keys {
		notNull[i] = k + " IS NOT NULL"
	}

	order := append([]string{}, keys...)
	for _, o := range d.Ordering() {
		direction := "ASC"
		if o.Descending {
			direction = "DESC"
		}
		order = append(order, fmt.Sprintf("derived.%s %s NULLS LAST", postgres.QuoteIdentifier(o.Column), direction))
	}

	return fmt.Sprintf(`SELECT DISTINCT ON (%s)
    %s
FROM (
%s
) AS derived
WHERE %s
ORDER BY %s`,
		strings.Join(keys, ", "),
		strings.Join(quoted("derived.", d.Columns), ",\n    "),
		d.Derivation.SQL(),
		strings.Join(notNull, " AND "),
		strings.Join(order, ", "),
	)
}

func buildUpsertQuery(d catalog.Descriptor, source string) string {
	updates := d.UpdateColumns()

	lines := []string{
		fmt.Sprintf("INSERT INTO %s AS target (%s)", postgres.QuoteIdentifier(d.Name), strings.Join(quoted("", d.Columns), ", ")),
		source,
		fmt.Sprintf("ON CONFLICT (%s)", strings.Join(quoted("", d.NaturalKey), ", ")),
	}

	if len(updates) == 0 {
		lines = append(lines, "DO NOTHING", "RETURNING true AS inserted")
		return strings.Join(lines, "\n")
	}

	set := make([]string, len(updates))
	for i, c := range updates {
		set[i] = fmt.Sprintf("%s = EXCLUDED.%s", postgres.QuoteIdentifier(c), postgres.QuoteIdentifier(c))
	}

	lines = append(lines,
		"DO UPDATE SET "+strings.Join(set, ", "),
		fmt.Sprintf("WHERE (%s) IS DISTINCT FROM (%s)",
			strings.Join(quoted("target.", updates), ", "),
			strings.Join(quoted("EXCLUDED.", updates), ", "),
		),
		"RETURNING (xmax = 0) AS inserted",
	)

	return strings.Join(lines, "\n")
}

func buildMergeQuery(d catalog.Descriptor, source string) string {
	updates := d.UpdateColumns()

	on := make([]string, len(d.NaturalKey))
	for i, k := range d.NaturalKey {
		on[i] = fmt.Sprintf("target.%s = source.%s", postgres.QuoteIdentifier(k), postgres.QuoteIdentifier(k))
	}

	lines := []string{
		fmt.Sprintf("MERGE INTO %s AS target", postgres.QuoteIdentifier(d.Name)),
		fmt.Sprintf("USING (\n%s\n) AS source", source),
		"ON " + strings.Join(on, " AND "),
	}

	if len(updates) > 0 {
		set := make([]string, len(updates))
		for i, c := range updates {
			set[i] = fmt.Sprintf("%s = source.%s", postgres.QuoteIdentifier(c), postgres.QuoteIdentifier(c))
		}
		lines = append(lines, fmt.Sprintf("WHEN MATCHED AND (%s) IS DISTINCT FROM (%s) THEN UPDATE SET %s",
			strings.Join(quoted("target.", updates), ", "),
			strings.Join(quoted("source.", updates), ", "),
			strings.Join(set, ", "),
		))
	}

	lines = append(lines, fmt.Sprintf("WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(quoted("", d.Columns), ", "),
		strings.Join(quoted("source.", d.Columns), ", "),
	))

	return strings.Join(lines, "\n")
}

// Render builds the reconciliation statement for a table.
func Render(d catalog.Descriptor) (*query.Query, error) {
	if !d.Upserts() {
		return nil, errors.Errorf("table '%s' is not reconciled from a derivation", d.Name)
	}

	build, ok := strategyMap[d.EffectiveStrategy()]
	if !ok {
		return nil, errors.Errorf("unsupported strategy '%s' for table '%s'", d.Strategy, d.Name)
	}

	return query.New(build(d, SourceQuery(d))), nil
}

// Execute reconciles the table from its derivation on q, which must be the table's write transaction.
func (e *Engine) Execute(ctx context.Context, q postgres.Querier, d catalog.Descriptor) (*Result, error) {
	stmt, err := Render(d)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if d.EffectiveStrategy() == catalog.StrategyMerge {
		tag, err := q.Exec(ctx, stmt.String(), stmt.Args...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to merge into '%s'", d.Name)
		}
		res.Affected = tag.RowsAffected()
	} else {
		rows, err := postgres.Select(ctx, q, stmt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to upsert into '%s'", d.Name)
		}

		for _, row := range rows {
			if inserted, _ := row[0].(bool); inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		res.Affected = res.Inserted + res.Updated
	}

	e.logger.Debugw("reconciled table", "table", d.Name, "strategy", d.EffectiveStrategy(),
		"inserted", res.Inserted, "updated", res.Updated, "affected", res.Affected)

	return res, nil
}
