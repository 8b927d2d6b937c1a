package pipeline

import (
	"time"

	"github.com/samber/lo"
	"github.com/vigyanshaala/kalpana/pkg/scheduler"
)

type ErrorKind string

const (
	// duplicates survived removal, nothing after the dedupe stage ran
	KindPrecondition ErrorKind = "precondition"
	// the declared key does not hold on the data, or the selection is invalid
	KindConfiguration ErrorKind = "configuration"
	KindSchema        ErrorKind = "schema"
	KindUpsert        ErrorKind = "upsert"
	KindVerification  ErrorKind = "verification"
	KindCancelled     ErrorKind = "cancelled"
)

type Report struct {
	RunID      string        `json:"run_id"`
	Pipeline   string        `json:"pipeline"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DryRun     bool          `json:"dry_run"`
	Tables     []TableReport `json:"tables"`
}

type TableReport struct {
	Table             string                `json:"table"`
	Status            scheduler.TableStatus `json:"status"`
	Inserted          int64                 `json:"inserted"`
	Updated           int64                 `json:"updated"`
	RowsAffected      int64                 `json:"rows_affected"`
	DuplicatesRemoved int64                 `json:"duplicates_removed"`
	ConstraintCreated bool                  `json:"constraint_created"`
	UnmappedValues    int                   `json:"unmapped_values"`
	AuditPath         string                `json:"audit_path,omitempty"`
	Warnings          []string              `json:"warnings,omitempty"`
	Duration          time.Duration         `json:"duration"`
	Error             string                `json:"error,omitempty"`
	ErrorKind         ErrorKind             `json:"error_kind,omitempty"`
}

func (r *Report) Succeeded() []TableReport {
	return lo.Filter(r.Tables, func(t TableReport, _ int) bool {
		return t.Status == scheduler.Done
	})
}

func (r *Report) Failed() []TableReport {
	return lo.Filter(r.Tables, func(t TableReport, _ int) bool {
		return t.Status == scheduler.Failed
	})
}

// FailedTables lists the failed table names in run order, ready to be passed to another run.
func (r *Report) FailedTables() []string {
	return lo.Map(r.Failed(), func(t TableReport, _ int) string {
		return t.Table
	})
}

func (r *Report) HasFailures() bool {
	return len(r.Failed()) > 0
}

func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Totals sums the row counts of the succeeded tables.
func (r *Report) Totals() TableReport {
	total := TableReport{Table: "total"}
	for _, t := range r.Succeeded() {
		total.Inserted += t.Inserted
		total.Updated += t.Updated
		total.RowsAffected += t.RowsAffected
		total.DuplicatesRemoved += t.DuplicatesRemoved
		total.UnmappedValues += t.UnmappedValues
		total.Duration += t.Duration
	}
	return total
}
