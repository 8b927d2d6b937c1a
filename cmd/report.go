package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/vigyanshaala/kalpana/pkg/pipeline"
	"github.com/vigyanshaala/kalpana/pkg/scheduler"
	"github.com/xlab/treeprint"
)

func statusText(s scheduler.TableStatus) string {
	switch s {
	case scheduler.Done:
		return successPrinter.Sprint(s.String())
	case scheduler.Failed:
		return errorPrinter.Sprint(s.String())
	default:
		return faint(s.String())
	}
}

// printReport shows the succeeded tables with their row counts, then the failed ones with their causes.
func printReport(w io.Writer, r *pipeline.Report) {
	title := fmt.Sprintf("Run %s", r.RunID)
	if r.DryRun {
		title += " (dry run, nothing was committed)"
	}
	fmt.Fprintln(w)
	infoPrinter.Fprintln(w, title)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Table", "Status", "Inserted", "Updated", "Duplicates removed", "Constraint", "Unmapped", "Duration"})
	for _, tr := range r.Tables {
		constraintText := ""
		if tr.ConstraintCreated {
			constraintText = "created"
		}
		t.AppendRow(table.Row{
			tr.Table,
			statusText(tr.Status),
			tr.Inserted,
			tr.Updated,
			tr.DuplicatesRemoved,
			constraintText,
			tr.UnmappedValues,
			tr.Duration.Round(time.Millisecond),
		})
	}

	total := r.Totals()
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded()), len(r.Failed())),
		"",
		total.Inserted,
		total.Updated,
		total.DuplicatesRemoved,
		"",
		total.UnmappedValues,
		r.Duration().Round(time.Millisecond),
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 7, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	fmt.Fprintln(w, t.Render())

	printWarnings(w, r)
	if r.HasFailures() {
		printFailures(w, r)
	}
}

func printWarnings(w io.Writer, r *pipeline.Report) {
	for _, tr := range r.Tables {
		for _, warning := range tr.Warnings {
			warningPrinter.Fprintf(w, "warning: %s %s\n", tr.Table, faint(warning))
		}
		if tr.AuditPath != "" {
			fmt.Fprintf(w, "%s %s\n", faint("removed duplicates of "+tr.Table+" were saved to"), tr.AuditPath)
		}
	}
}

func printFailures(w io.Writer, r *pipeline.Report) {
	failed := r.Failed()

	tree := treeprint.NewWithRoot(color.New(color.FgRed).Sprintf("%d tables failed", len(failed)))
	for _, tr := range failed {
		branch := tree.AddBranch(color.New(color.FgYellow).Sprint(tr.Table))
		branch.AddNode(fmt.Sprintf("%s %s", color.New(color.FgMagenta).Sprint(tr.ErrorKind), color.New(color.FgRed).Sprint(tr.Error)))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, tree.String())
	fmt.Fprintf(w, "Re-run only the failed tables with: %s\n", faint("kalpana run --rerun-failed"))
	fmt.Fprintf(w, "or explicitly: %s\n", faint("kalpana run --tables "+strings.Join(r.FailedTables(), ",")))
}
