package mapping

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/vigyanshaala/kalpana/pkg/logger"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
)

const maxConcurrentLoads = 4

// Resolver holds the mapping sets loaded for a single run. Sets are never reused across runs.
type Resolver struct {
	logger logger.Logger

	mu   sync.RWMutex
	sets map[Kind]*Set
}

func NewResolver(l logger.Logger) *Resolver {
	return &Resolver{
		logger: l,
		sets:   make(map[Kind]*Set),
	}
}

// Load reads the given kinds from the warehouse concurrently. q must be safe for concurrent use,
// i.e. a pool and not a transaction.
func (r *Resolver) Load(ctx context.Context, q postgres.Querier, kinds ...Kind) error {
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(maxConcurrentLoads)
	for _, kind := range kinds {
		p.Go(func(ctx context.Context) error {
			set, err := loadSet(ctx, q, kind)
			if err != nil {
				return err
			}

			r.mu.Lock()
			r.sets[kind] = set
			r.mu.Unlock()

			r.logger.Debugw("loaded mapping set", "kind", kind, "entries", set.Len(), "shadowed", set.Shadowed())
			return nil
		})
	}

	return p.Wait()
}

// Set returns a loaded set.
func (r *Resolver) Set(kind Kind) (*Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sets[kind]
	return s, ok
}

// Resolve looks up a raw value in a loaded set.
func (r *Resolver) Resolve(kind Kind, parts ...string) (Resolution, error) {
	s, ok := r.Set(kind)
	if !ok {
		return Resolution{}, errors.Errorf("mapping set '%s' is not loaded", kind)
	}
	if len(parts) != kind.Arity() {
		return Resolution{}, errors.Errorf("mapping '%s' expects %d name parts, got %d", kind, kind.Arity(), len(parts))
	}
	return s.Resolve(parts...), nil
}

func loadSet(ctx context.Context, q postgres.Querier, kind Kind) (*Set, error) {
	qry, err := kind.loadQuery()
	if err != nil {
		return nil, err
	}

	rows, err := postgres.Select(ctx, q, qry)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load mapping '%s' from %s", kind, kind.Table())
	}

	arity := kind.Arity()
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if len(row) != arity+2 {
			return nil, errors.Errorf("mapping '%s' returned %d columns, expected %d", kind, len(row), arity+2)
		}

		values := make([]string, len(row))
		for i, v := range row {
			s, ok := v.(string)
			if !ok {
				return nil, errors.Errorf("mapping '%s' returned a non-text value of type %T", kind, v)
			}
			values[i] = s
		}

		entries = append(entries, Entry{
			ID:        values[0],
			NameParts: values[1 : arity+1],
			Category:  values[arity+1],
		})
	}

	return NewSet(kind, entries), nil
}
