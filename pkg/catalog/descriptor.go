package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/vigyanshaala/kalpana/pkg/constraint"
	"github.com/vigyanshaala/kalpana/pkg/mapping"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

type Tier string

const (
	TierRaw          Tier = "raw"
	TierIntermediate Tier = "intermediate"
	TierFinal        Tier = "final"
)

type Strategy string

const (
	StrategyUpsert Strategy = "upsert"
	StrategyMerge  Strategy = "merge"
)

// Order is one column of a deterministic ordering.
type Order struct {
	Column     string
	Descending bool
}

func (o Order) String() string {
	if o.Descending {
		return o.Column + " desc"
	}
	return o.Column
}

// Derivation is the read-only query producing the desired rows of a target table.
// Its output columns are named exactly like the target columns.
type Derivation struct {
	CTEs   []query.CTE
	Select string
}

func (d Derivation) Empty() bool {
	return strings.TrimSpace(d.Select) == ""
}

func (d Derivation) SQL() string {
	return query.With(d.CTEs, d.Select)
}

// Descriptor is the compiled-in definition of one target table.
type Descriptor struct {
	Name        string
	Tier        Tier
	Description string

	// NaturalKey is declared by the table owner, never inferred from the data.
	NaturalKey []string
	// Columns is the full insert column list, key columns included.
	Columns []string
	// TieBreak picks one derivation row per key. Empty means every non-key column ascending.
	TieBreak   []Order
	Derivation Derivation
	// Sources lists every table the derivation reads.
	Sources  []string
	Strategy Strategy

	Dedupe         bool
	UpsertDisabled bool

	Probes []mapping.Probe
}

// Override is the per-table adjustment allowed from the pipeline definition.
type Override struct {
	Dedupe *bool
	Key    []string
}

func (d Descriptor) Schema() string {
	schema, _ := postgres.SplitTableName(d.Name)
	return schema
}

// UpdateColumns are the non-key columns, in declaration order.
func (d Descriptor) UpdateColumns() []string {
	return lo.Filter(d.Columns, func(c string, _ int) bool {
		return !slices.Contains(d.NaturalKey, c)
	})
}

// Ordering returns the tie-break order, defaulting to every non-key column ascending.
func (d Descriptor) Ordering() []Order {
	if len(d.TieBreak) > 0 {
		return d.TieBreak
	}
	return lo.Map(d.UpdateColumns(), func(c string, _ int) Order {
		return Order{Column: c}
	})
}

// ConstraintName is the name given to a constraint created over the natural key.
func (d Descriptor) ConstraintName() string {
	return constraint.Name(d.Name, d.NaturalKey)
}

func (d Descriptor) EffectiveStrategy() Strategy {
	if d.Strategy == "" {
		return StrategyUpsert
	}
	return d.Strategy
}

// Upserts reports whether the table has a derivation to reconcile.
func (d Descriptor) Upserts() bool {
	return !d.UpsertDisabled
}

// WithOverride applies a pipeline override and validates the result.
func (d Descriptor) WithOverride(o Override) (Descriptor, error) {
	if o.Dedupe != nil {
		d.Dedupe = *o.Dedupe
	}
	if len(o.Key) > 0 {
		d.NaturalKey = slices.Clone(o.Key)
		d.TieBreak = lo.Filter(d.TieBreak, func(ord Order, _ int) bool {
			return !slices.Contains(d.NaturalKey, ord.Column)
		})
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func (d Descriptor) Validate() error {
	if !postgres.ValidIdentifier(d.Name) || !strings.Contains(d.Name, ".") {
		return errors.Errorf("table name '%s' must be a plain schema.table identifier", d.Name)
	}

	switch d.Tier {
	case TierRaw, TierIntermediate, TierFinal:
	default:
		return errors.Errorf("table '%s' has an unknown tier '%s'", d.Name, d.Tier)
	}

	if len(d.NaturalKey) == 0 {
		return errors.Errorf("table '%s' has no natural key", d.Name)
	}
	if dup := lo.FindDuplicates(d.NaturalKey); len(dup) > 0 {
		return errors.Errorf("table '%s' repeats key columns: %s", d.Name, strings.Join(dup, ", "))
	}
	for _, c := range d.NaturalKey {
		if !postgres.ValidIdentifier(c) || strings.Contains(c, ".") {
			return errors.Errorf("table '%s' has an invalid key column '%s'", d.Name, c)
		}
	}

	if d.UpsertDisabled {
		if !d.Dedupe {
			return errors.Errorf("table '%s' neither dedupes nor upserts", d.Name)
		}
		return nil
	}

	if d.Derivation.Empty() {
		return errors.Errorf("table '%s' has no derivation", d.Name)
	}
	if dup := lo.FindDuplicates(d.Columns); len(dup) > 0 {
		return errors.Errorf("table '%s' repeats columns: %s", d.Name, strings.Join(dup, ", "))
	}
	for _, c := range d.Columns {
		if !postgres.ValidIdentifier(c) || strings.Contains(c, ".") {
			return errors.Errorf("table '%s' has an invalid column '%s'", d.Name, c)
		}
	}
	if missing, _ := lo.Difference(d.NaturalKey, d.Columns); len(missing) > 0 {
		return errors.Errorf("table '%s' key columns are not in its column list: %s", d.Name, strings.Join(missing, ", "))
	}
	for _, o := range d.TieBreak {
		if !slices.Contains(d.Columns, o.Column) {
			return errors.Errorf("table '%s' tie-break column '%s' is not in its column list", d.Name, o.Column)
		}
	}

	switch d.Strategy {
	case "", StrategyUpsert, StrategyMerge:
	default:
		return errors.Errorf("table '%s' has an unknown strategy '%s'", d.Name, d.Strategy)
	}

	if slices.Contains(d.Sources, d.Name) {
		return errors.Errorf("table '%s' reads from itself", d.Name)
	}

	for _, p := range d.Probes {
		if len(p.Columns) != p.Kind.Arity() {
			return errors.Errorf("table '%s' probe %s needs %d columns", d.Name, p, p.Kind.Arity())
		}
	}

	return nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, strings.Join(d.NaturalKey, ", "))
}
