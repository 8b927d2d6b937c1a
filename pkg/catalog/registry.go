package catalog

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/yourbasic/graph"
)

var ErrUnknownTable = errors.New("table is not in the catalog")

// Registry is the closed set of tables the pipeline may touch.
type Registry struct {
	descriptors []Descriptor
	index       map[string]int
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(builtin()...)
	if err != nil {
		panic(err)
	}
	return r
})

// Default returns the registry of the built-in tables.
func Default() *Registry {
	return defaultRegistry()
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make([]Descriptor, 0, len(descriptors)),
		index:       make(map[string]int, len(descriptors)),
	}

	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.index[d.Name]; ok {
			return nil, errors.Errorf("table '%s' is registered more than once", d.Name)
		}
		r.index[d.Name] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}

	if err := r.checkCycles(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) Lookup(name string) (Descriptor, error) {
	i, ok := r.index[strings.TrimSpace(name)]
	if !ok {
		return Descriptor{}, errors.Wrapf(ErrUnknownTable, "'%s'", name)
	}
	return r.descriptors[i], nil
}

// Names lists the registered tables in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		names[i] = d.Name
	}
	return names
}

func (r *Registry) All() []Descriptor {
	return slices.Clone(r.descriptors)
}

// Select resolves the given names in order and applies the overrides. An empty name list selects every table.
func (r *Registry) Select(names []string, overrides map[string]Override) ([]Descriptor, error) {
	if len(names) == 0 {
		names = r.Names()
	}

	for name := range overrides {
		if _, err := r.Lookup(name); err != nil {
			return nil, errors.Wrap(err, "invalid override")
		}
	}

	selected := make([]Descriptor, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		d, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, errors.Errorf("table '%s' is selected more than once", d.Name)
		}
		seen[d.Name] = true

		if o, ok := overrides[d.Name]; ok {
			overridden, err := d.WithOverride(o)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid override for '%s'", d.Name)
			}
			d = overridden
		}
		selected = append(selected, d)
	}

	return selected, nil
}

// Upstreams are the registered tables the given table reads from, in registration order.
func (r *Registry) Upstreams(name string) []string {
	i, ok := r.index[name]
	if !ok {
		return nil
	}

	var upstreams []string
	for _, d := range r.descriptors {
		if slices.Contains(r.descriptors[i].Sources, d.Name) {
			upstreams = append(upstreams, d.Name)
		}
	}
	return upstreams
}

// Downstreams are the registered tables that read from the given table, in registration order.
func (r *Registry) Downstreams(name string) []string {
	var downstreams []string
	for _, d := range r.descriptors {
		if slices.Contains(d.Sources, name) {
			downstreams = append(downstreams, d.Name)
		}
	}
	return downstreams
}

func (r *Registry) checkCycles() error {
	g := graph.New(len(r.descriptors))
	for i, d := range r.descriptors {
		for _, source := range d.Sources {
			if j, ok := r.index[source]; ok {
				g.Add(i, j)
			}
		}
	}

	for _, component := range graph.StrongComponents(g) {
		if len(component) == 1 {
			continue
		}

		inCycle := make(map[string]bool, len(component))
		for _, i := range component {
			inCycle[r.descriptors[i].Name] = true
		}

		edges := make([]string, 0, len(component))
		for _, i := range component {
			d := r.descriptors[i]
			for _, source := range d.Sources {
				if inCycle[source] {
					edges = append(edges, fmt.Sprintf("%s -> %s", d.Name, source))
				}
			}
		}
		slices.Sort(edges)

		return errors.Errorf("tables derive from each other: %s", strings.Join(edges, ", "))
	}

	return nil
}
