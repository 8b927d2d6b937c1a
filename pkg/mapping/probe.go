package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

const maxMissSamples = 10

// Probe declares a raw free-text column (or column tuple, for composite kinds) that is resolved
// against a mapping kind by a derivation.
type Probe struct {
	Kind    Kind
	Table   string
	Columns []string
}

func (p Probe) String() string {
	return fmt.Sprintf("%s(%s) -> %s", p.Table, strings.Join(p.Columns, ", "), p.Kind)
}

// MissReport counts the distinct normalized values of a probe that have no mapping entry.
type MissReport struct {
	Probe    Probe
	Distinct int
	Unmapped int
	Samples  []string
}

func (p Probe) valuesQuery() *query.Query {
	selects := make([]string, len(p.Columns))
	conditions := make([]string, len(p.Columns))
	for i, col := range p.Columns {
		quoted := postgres.QuoteIdentifier(col)
		selects[i] = fmt.Sprintf("COALESCE(%s::text, '')", quoted)
		conditions[i] = fmt.Sprintf("%s IS NOT NULL", quoted)
	}

	return query.New(fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s",
		strings.Join(selects, ", "),
		postgres.QuoteIdentifier(p.Table),
		strings.Join(conditions, " AND "),
	))
}

// Misses resolves every distinct raw value of the probe through the loaded set. Blank values are not
// counted as misses.
func (r *Resolver) Misses(ctx context.Context, q postgres.Querier, p Probe) (*MissReport, error) {
	if len(p.Columns) != p.Kind.Arity() {
		return nil, errors.Errorf("probe %s has %d columns, mapping '%s' expects %d", p, len(p.Columns), p.Kind, p.Kind.Arity())
	}

	set, ok := r.Set(p.Kind)
	if !ok {
		if err := r.Load(ctx, q, p.Kind); err != nil {
			return nil, err
		}
		set, _ = r.Set(p.Kind)
	}

	rows, err := postgres.Select(ctx, q, p.valuesQuery())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read raw values for %s", p)
	}

	report := &MissReport{Probe: p}
	var misses []string
	// raw values that only differ in case or surrounding whitespace match the same entry and count once
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, v := range row {
			s, _ := v.(string)
			parts[i] = s
		}
		key := Key(parts...)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		report.Distinct++
		if res := set.Resolve(parts...); !res.Mapped {
			report.Unmapped++
			misses = append(misses, res.Raw)
		}
	}

	sort.Strings(misses)
	if len(misses) > maxMissSamples {
		misses = misses[:maxMissSamples]
	}
	report.Samples = misses

	return report, nil
}
