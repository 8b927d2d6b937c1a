package ansisql

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/helpers"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

// ErrCheckFailed marks a check whose query ran but returned an unexpected count.
var ErrCheckFailed = errors.New("check failed")

type CountableQueryCheck struct {
	expectedQueryResult int64
	queryInstance       *query.Query
	checkName           string
	customError         func(count int64) error
}

func NewCountableQueryCheck(expectedQueryResult int64, queryInstance *query.Query, checkName string, customError func(count int64) error) *CountableQueryCheck {
	return &CountableQueryCheck{
		expectedQueryResult: expectedQueryResult,
		queryInstance:       queryInstance,
		checkName:           checkName,
		customError:         customError,
	}
}

func (c *CountableQueryCheck) Name() string {
	return c.checkName
}

func (c *CountableQueryCheck) Query() *query.Query {
	return c.queryInstance
}

// Check runs the count query on q, which is usually the transaction that just wrote the table.
func (c *CountableQueryCheck) Check(ctx context.Context, q postgres.Querier) error {
	res, err := postgres.Select(ctx, q, c.queryInstance)
	if err != nil {
		return errors.Wrapf(err, "failed '%s' check", c.checkName)
	}

	count, err := helpers.CastResultToInteger(res)
	if err != nil {
		return errors.Wrapf(err, "failed to parse '%s' check result", c.checkName)
	}

	if count != c.expectedQueryResult {
		return c.customError(count)
	}

	return nil
}

func keyNotNull(key []string) string {
	conditions := make([]string, len(key))
	for i, k := range key {
		conditions[i] = postgres.QuoteIdentifier(k) + " IS NOT NULL"
	}
	return strings.Join(conditions, " AND ")
}

// UniqueKeyCheck counts the key values shared by more than one row. Keys with a NULL part never collide.
func UniqueKeyCheck(table string, key []string) *CountableQueryCheck {
	cols := strings.Join(postgres.QuoteIdentifiers(key), ", ")
	qq := fmt.Sprintf(
		"SELECT count(*) FROM (SELECT 1 FROM %s WHERE %s GROUP BY %s HAVING count(*) > 1) AS duplicate_groups",
		postgres.QuoteIdentifier(table), keyNotNull(key), cols,
	)

	return NewCountableQueryCheck(0, query.New(qq), "unique_key", func(count int64) error {
		return errors.Wrapf(ErrCheckFailed, "table '%s' has %d %s over (%s)",
			table, count, helpers.Pluralize(count, "duplicate key group", "duplicate key groups"), strings.Join(key, ", "))
	})
}

// CompletenessCheck counts the rows produced by sourceSQL that are missing from the table or differ from it.
func CompletenessCheck(table string, columns []string, sourceSQL string) *CountableQueryCheck {
	cols := strings.Join(postgres.QuoteIdentifiers(columns), ", ")
	qq := fmt.Sprintf(`SELECT count(*) FROM (
SELECT %[1]s FROM (
%[2]s
) AS expected
EXCEPT
SELECT %[1]s FROM %[3]s
) AS missing`, cols, strings.TrimSuffix(strings.TrimSpace(sourceSQL), ";"), postgres.QuoteIdentifier(table))

	return NewCountableQueryCheck(0, query.New(qq), "completeness", func(count int64) error {
		return errors.Wrapf(ErrCheckFailed, "table '%s' is missing or differs on %d %s",
			table, count, helpers.Pluralize(count, "derived row", "derived rows"))
	})
}
