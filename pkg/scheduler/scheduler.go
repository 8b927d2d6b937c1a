package scheduler

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/yourbasic/graph"
)

type TableStatus int

const (
	Pending TableStatus = iota
	Deduping
	Constraining
	Upserting
	Done
	Failed
)

var statusNames = map[TableStatus]string{
	Pending:      "PENDING",
	Deduping:     "DEDUPING",
	Constraining: "CONSTRAINING",
	Upserting:    "UPSERTING",
	Done:         "DONE",
	Failed:       "FAILED",
}

func (s TableStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s TableStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TableStatus) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = status
			return nil
		}
	}
	return errors.Errorf("unknown table status '%s'", text)
}

// Terminal statuses are never left.
func (s TableStatus) Terminal() bool {
	return s == Done || s == Failed
}

// every stage is visited even when it has nothing to do for a table, FAILED is reachable from any stage
var transitions = map[TableStatus]TableStatus{
	Pending:      Deduping,
	Deduping:     Constraining,
	Constraining: Upserting,
	Upserting:    Done,
}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderViolation    = errors.New("table is listed before a table it derives from")
)

type TableInstance struct {
	ID         string
	Descriptor catalog.Descriptor
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error

	status   TableStatus
	upstream []*TableInstance
}

func NewTableInstance(d catalog.Descriptor) *TableInstance {
	return &TableInstance{
		ID:         uuid.New().String(),
		Descriptor: d,
		status:     Pending,
	}
}

func (t *TableInstance) Name() string {
	return t.Descriptor.Name
}

func (t *TableInstance) Status() TableStatus {
	return t.status
}

func (t *TableInstance) Completed() bool {
	return t.status.Terminal()
}

// MarkAs moves the table to the next stage of the pipeline. Stages cannot be skipped or repeated.
func (t *TableInstance) MarkAs(status TableStatus) error {
	if status == Failed {
		if t.status.Terminal() {
			return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", t.Name(), t.status, status)
		}
		t.finish(status)
		return nil
	}

	next, ok := transitions[t.status]
	if !ok || next != status {
		return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", t.Name(), t.status, status)
	}

	if t.status == Pending {
		t.StartedAt = time.Now()
	}
	if status.Terminal() {
		t.finish(status)
		return nil
	}
	t.status = status
	return nil
}

// Fail records the error and marks the table FAILED.
func (t *TableInstance) Fail(err error) error {
	if markErr := t.MarkAs(Failed); markErr != nil {
		return markErr
	}
	t.Err = err
	return nil
}

func (t *TableInstance) finish(status TableStatus) {
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	t.FinishedAt = time.Now()
	t.status = status
}

func (t *TableInstance) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Upstream are the selected tables this table derives from.
func (t *TableInstance) Upstream() []*TableInstance {
	return t.upstream
}

// FailedUpstream lists the upstream tables that failed in this run.
func (t *TableInstance) FailedUpstream() []string {
	var failed []string
	for _, u := range t.upstream {
		if u.Status() == Failed {
			failed = append(failed, u.Name())
		}
	}
	return failed
}

// Plan is the ordered set of tables for one run.
type Plan struct {
	instances []*TableInstance
}

// NewPlan links each table to its selected upstream tables and rejects orders that run a table before its inputs.
func NewPlan(registry *catalog.Registry, tables []catalog.Descriptor) (*Plan, error) {
	names := make([]string, len(tables))
	for i, d := range tables {
		names[i] = d.Name
	}
	if err := ValidateOrder(registry, names); err != nil {
		return nil, err
	}

	p := &Plan{instances: make([]*TableInstance, len(tables))}
	byName := make(map[string]*TableInstance, len(tables))
	for i, d := range tables {
		instance := NewTableInstance(d)
		p.instances[i] = instance
		byName[d.Name] = instance
	}

	for _, instance := range p.instances {
		for _, up := range registry.Upstreams(instance.Name()) {
			if u, ok := byName[up]; ok {
				instance.upstream = append(instance.upstream, u)
			}
		}
	}

	return p, nil
}

func (p *Plan) Instances() []*TableInstance {
	return p.instances
}

func (p *Plan) InstancesByStatus(status TableStatus) []*TableInstance {
	var out []*TableInstance
	for _, i := range p.instances {
		if i.Status() == status {
			out = append(out, i)
		}
	}
	return out
}

func (p *Plan) CountByStatus(status TableStatus) int {
	return len(p.InstancesByStatus(status))
}

// ValidateOrder fails if a table is listed before a listed table it derives from.
func ValidateOrder(registry *catalog.Registry, names []string) error {
	position := make(map[string]int, len(names))
	for i, name := range names {
		position[name] = i
	}

	for i, name := range names {
		for _, up := range registry.Upstreams(name) {
			if j, ok := position[up]; ok && j > i {
				return errors.Wrapf(ErrOrderViolation, "'%s' is listed before '%s'", name, up)
			}
		}
	}
	return nil
}

// SortByDependencies orders the tables so that every table runs after the selected tables it derives from.
// Tables with no ordering constraint between them keep their relative order.
func SortByDependencies(registry *catalog.Registry, names []string) ([]string, error) {
	index := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := index[name]; ok {
			return nil, errors.Errorf("table '%s' is listed more than once", name)
		}
		index[name] = i
	}

	g := graph.New(len(names))
	indegree := make([]int, len(names))
	for i, name := range names {
		for _, up := range registry.Upstreams(name) {
			if j, ok := index[up]; ok {
				g.Add(j, i)
				indegree[i]++
			}
		}
	}

	if !graph.Acyclic(g) {
		return nil, errors.New("selected tables derive from each other")
	}

	sorted := make([]string, 0, len(names))
	done := make([]bool, len(names))
	for len(sorted) < len(names) {
		next := slices.IndexFunc(names, func(name string) bool {
			i := index[name]
			return !done[i] && indegree[i] == 0
		})
		if next < 0 {
			return nil, errors.New("selected tables derive from each other")
		}

		done[next] = true
		sorted = append(sorted, names[next])
		g.Visit(next, func(w int, _ int64) bool {
			indegree[w]--
			return false
		})
	}

	return sorted, nil
}

func (t *TableInstance) String() string {
	return fmt.Sprintf("%s [%s]", t.Name(), t.status)
}
