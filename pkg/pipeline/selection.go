package pipeline

import (
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/config"
	"github.com/vigyanshaala/kalpana/pkg/scheduler"
)

// Select resolves the tables of a run. Explicit names win over the pipeline definition, and an empty
// selection runs the whole catalog in dependency order. With autoOrder the selection is reordered so that
// every table follows the tables it derives from; otherwise the given order must already satisfy that.
func Select(registry *catalog.Registry, p *config.Pipeline, names []string, autoOrder bool) ([]catalog.Descriptor, error) {
	if len(names) == 0 {
		names = p.Tables
	}
	if len(names) == 0 {
		names = registry.Names()
	}

	if autoOrder {
		sorted, err := scheduler.SortByDependencies(registry, names)
		if err != nil {
			return nil, err
		}
		names = sorted
	}

	tables, err := registry.Select(names, Overrides(p))
	if err != nil {
		return nil, err
	}

	ordered := make([]string, len(tables))
	for i, d := range tables {
		ordered[i] = d.Name
	}
	if err := scheduler.ValidateOrder(registry, ordered); err != nil {
		return nil, err
	}

	return tables, nil
}

func Overrides(p *config.Pipeline) map[string]catalog.Override {
	if len(p.Overrides) == 0 {
		return nil
	}

	out := make(map[string]catalog.Override, len(p.Overrides))
	for name, o := range p.Overrides {
		out[name] = catalog.Override{Dedupe: o.Dedupe, Key: o.Key}
	}
	return out
}
