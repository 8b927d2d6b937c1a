package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/vigyanshaala/kalpana/pkg/ansisql"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/constraint"
	"github.com/vigyanshaala/kalpana/pkg/dedupe"
	"github.com/vigyanshaala/kalpana/pkg/logger"
	"github.com/vigyanshaala/kalpana/pkg/mapping"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/scheduler"
	"github.com/vigyanshaala/kalpana/pkg/upsert"
)

// Database is the connection a run is scoped to. *postgres.Client satisfies it.
type Database interface {
	Querier() postgres.Querier
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	WithRollback(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type Options struct {
	RunID    string
	Pipeline string
	// DryRun runs every stage of a table in one transaction that is always rolled back.
	DryRun           bool
	Verify           bool
	StatementTimeout time.Duration
	// OnStatusChange is called after every status change of a table.
	OnStatusChange func(ti *scheduler.TableInstance)
}

type Orchestrator struct {
	db          Database
	registry    *catalog.Registry
	resolver    *mapping.Resolver
	dedupe      *dedupe.Deduplicator
	constraints *constraint.Manager
	engine      *upsert.Engine
	logger      logger.Logger
	opts        Options
}

func NewOrchestrator(
	db Database,
	registry *catalog.Registry,
	resolver *mapping.Resolver,
	deduplicator *dedupe.Deduplicator,
	constraints *constraint.Manager,
	engine *upsert.Engine,
	l logger.Logger,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		db:          db,
		registry:    registry,
		resolver:    resolver,
		dedupe:      deduplicator,
		constraints: constraints,
		engine:      engine,
		logger:      l,
		opts:        opts,
	}
}

// Run processes the tables one by one in the given order. A failing table never stops the run; the error
// is only returned when the run could not start at all.
func (o *Orchestrator) Run(ctx context.Context, tables []catalog.Descriptor) (*Report, error) {
	plan, err := scheduler.NewPlan(o.registry, tables)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     o.opts.RunID,
		Pipeline:  o.opts.Pipeline,
		StartedAt: time.Now(),
		DryRun:    o.opts.DryRun,
		Tables:    make([]TableReport, 0, len(tables)),
	}

	o.loadMappings(ctx, tables)

	for _, ti := range plan.Instances() {
		if ctx.Err() != nil {
			report.Tables = append(report.Tables, o.skip(ti, ctx.Err()))
			continue
		}
		report.Tables = append(report.Tables, o.runTable(ctx, ti))
	}

	report.FinishedAt = time.Now()
	o.logger.Infow("run finished", "run_id", report.RunID, "succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()), "dry_run", report.DryRun)

	return report, nil
}

// loadMappings reads every mapping set the selected tables probe. A failure here only costs the miss counts.
func (o *Orchestrator) loadMappings(ctx context.Context, tables []catalog.Descriptor) {
	kinds := lo.Uniq(lo.FlatMap(tables, func(d catalog.Descriptor, _ int) []mapping.Kind {
		return lo.Map(d.Probes, func(p mapping.Probe, _ int) mapping.Kind { return p.Kind })
	}))
	if len(kinds) == 0 {
		return
	}

	if err := o.resolver.Load(ctx, o.db.Querier(), kinds...); err != nil {
		o.logger.Warnw("failed to load mapping sets, unmapped values will not be counted", "error", err)
	}
}

func (o *Orchestrator) skip(ti *scheduler.TableInstance, cause error) TableReport {
	err := errors.Wrap(cause, "cancelled before the table started")
	_ = ti.Fail(err)
	o.notify(ti)

	return TableReport{
		Table:     ti.Name(),
		Status:    ti.Status(),
		Error:     err.Error(),
		ErrorKind: KindCancelled,
	}
}

func (o *Orchestrator) runTable(ctx context.Context, ti *scheduler.TableInstance) TableReport {
	d := ti.Descriptor
	tr := TableReport{Table: d.Name}

	for _, up := range ti.FailedUpstream() {
		warning := fmt.Sprintf("upstream table '%s' failed in this run, reading its last committed state", up)
		tr.Warnings = append(tr.Warnings, warning)
		o.logger.Warnw(warning, "table", d.Name)
	}

	o.logger.Infow("processing table", "table", d.Name, "key", d.NaturalKey, "dry_run", o.opts.DryRun)

	if err := o.process(ctx, ti, &tr); err != nil {
		stage := ti.Status()
		_ = ti.Fail(err)
		o.notify(ti)

		tr.Error = err.Error()
		tr.ErrorKind = Classify(stage, err)
		o.logger.Errorw("table failed", "table", d.Name, "stage", stage, "kind", tr.ErrorKind, "cause", postgres.Cause(err), "error", err)
	} else {
		o.logger.Infow("table reconciled", "table", d.Name, "inserted", tr.Inserted, "updated", tr.Updated,
			"duplicates_removed", tr.DuplicatesRemoved)
	}

	if ctx.Err() == nil {
		o.countMisses(ctx, d, &tr)
	}

	tr.Status = ti.Status()
	tr.Duration = ti.Duration()
	return tr
}

func (o *Orchestrator) process(ctx context.Context, ti *scheduler.TableInstance, tr *TableReport) error {
	var (
		deduped    *dedupe.Result
		outcome    constraint.Outcome
		reconciled *upsert.Result
	)

	dedupeStage := func(tx pgx.Tx) error {
		if err := o.mark(ti, scheduler.Deduping); err != nil {
			return err
		}
		if !ti.Descriptor.Dedupe {
			return nil
		}

		res, err := o.dedupe.Apply(ctx, tx, dedupe.Target{Table: ti.Descriptor.Name, Key: ti.Descriptor.NaturalKey})
		if err != nil {
			return err
		}
		deduped = res
		return nil
	}

	reconcileStage := func(tx pgx.Tx) error {
		if err := o.mark(ti, scheduler.Constraining); err != nil {
			return err
		}

		var err error
		outcome, err = o.constraints.Ensure(ctx, tx, ti.Descriptor.Name, ti.Descriptor.NaturalKey)
		if err != nil {
			return err
		}

		if err := o.mark(ti, scheduler.Upserting); err != nil {
			return err
		}
		if ti.Descriptor.Upserts() {
			reconciled, err = o.engine.Execute(ctx, tx, ti.Descriptor)
			if err != nil {
				return err
			}
		}

		if o.opts.Verify {
			return o.verify(ctx, tx, ti.Descriptor)
		}
		return nil
	}

	var err error
	if o.opts.DryRun {
		err = o.db.WithRollback(ctx, func(tx pgx.Tx) error {
			if err := o.prepare(ctx, tx); err != nil {
				return err
			}
			if err := dedupeStage(tx); err != nil {
				return err
			}
			return reconcileStage(tx)
		})
	} else {
		err = o.db.WithTx(ctx, func(tx pgx.Tx) error {
			if err := o.prepare(ctx, tx); err != nil {
				return err
			}
			return dedupeStage(tx)
		})
		if err == nil {
			// the dedupe is committed on its own and stays committed when the reconciliation fails
			if deduped != nil {
				tr.DuplicatesRemoved = deduped.Removed
				tr.AuditPath = deduped.AuditPath
			}
			err = o.db.WithTx(ctx, func(tx pgx.Tx) error {
				if err := o.prepare(ctx, tx); err != nil {
					return err
				}
				return reconcileStage(tx)
			})
		}
	}
	if err != nil {
		return err
	}

	if deduped != nil {
		tr.DuplicatesRemoved = deduped.Removed
		tr.AuditPath = deduped.AuditPath
	}
	tr.ConstraintCreated = outcome != constraint.AlreadyPresent
	if reconciled != nil {
		tr.Inserted = reconciled.Inserted
		tr.Updated = reconciled.Updated
		tr.RowsAffected = reconciled.Affected
	}

	return o.mark(ti, scheduler.Done)
}

// prepare scopes the statement timeout to the transaction.
func (o *Orchestrator) prepare(ctx context.Context, tx pgx.Tx) error {
	if o.opts.StatementTimeout <= 0 {
		return nil
	}

	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", o.opts.StatementTimeout.Milliseconds()))
	return errors.Wrap(err, "failed to set the statement timeout")
}

func (o *Orchestrator) verify(ctx context.Context, q postgres.Querier, d catalog.Descriptor) error {
	checks := []*ansisql.CountableQueryCheck{ansisql.UniqueKeyCheck(d.Name, d.NaturalKey)}
	if d.Upserts() {
		checks = append(checks, ansisql.CompletenessCheck(d.Name, d.Columns, upsert.SourceQuery(d)))
	}

	for _, check := range checks {
		if err := check.Check(ctx, q); err != nil {
			return err
		}
		o.logger.Debugw("check passed", "table", d.Name, "check", check.Name())
	}
	return nil
}

// countMisses is informational only; probe errors become warnings on the table.
func (o *Orchestrator) countMisses(ctx context.Context, d catalog.Descriptor, tr *TableReport) {
	for _, p := range d.Probes {
		report, err := o.resolver.Misses(ctx, o.db.Querier(), p)
		if err != nil {
			tr.Warnings = append(tr.Warnings, fmt.Sprintf("could not count unmapped values for %s: %v", p, err))
			continue
		}
		if report.Unmapped == 0 {
			continue
		}

		tr.UnmappedValues += report.Unmapped
		o.logger.Infow("unmapped values", "table", d.Name, "probe", p.String(), "unmapped", report.Unmapped,
			"distinct", report.Distinct, "samples", report.Samples)
	}
}

func (o *Orchestrator) mark(ti *scheduler.TableInstance, status scheduler.TableStatus) error {
	if err := ti.MarkAs(status); err != nil {
		return err
	}
	o.notify(ti)
	return nil
}

func (o *Orchestrator) notify(ti *scheduler.TableInstance) {
	if o.opts.OnStatusChange != nil {
		o.opts.OnStatusChange(ti)
	}
}

// Classify maps a table failure to the kind an operator acts on. stage is the status the table was in when it failed.
func Classify(stage scheduler.TableStatus, err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case postgres.IsCancelled(err):
		return KindCancelled
	case errors.Is(err, dedupe.ErrDuplicatesRemain):
		return KindPrecondition
	case errors.Is(err, constraint.ErrLeftoverDuplicates):
		return KindConfiguration
	case errors.Is(err, ansisql.ErrCheckFailed):
		return KindVerification
	}

	switch postgres.Cause(err) {
	case "permission denied", "undefined table", "undefined column", "object already exists", "syntax or access error":
		return KindSchema
	}

	if stage == scheduler.Upserting {
		return KindUpsert
	}
	return KindSchema
}
