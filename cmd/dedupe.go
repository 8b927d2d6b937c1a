package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/config"
	"github.com/vigyanshaala/kalpana/pkg/dedupe"
	"github.com/vigyanshaala/kalpana/pkg/export"
	"github.com/vigyanshaala/kalpana/pkg/helpers"
)

const defaultPreviewRows = 20

func Dedupe(isDebug *bool, envFile *string) *cli.Command {
	return &cli.Command{
		Name:  "dedupe",
		Usage: "find and remove rows that share a table's natural key",
		Subcommands: []*cli.Command{
			{
				Name:      "preview",
				Usage:     "list the duplicate groups without changing anything",
				ArgsUsage: "[table]",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "export",
						Usage: "write every duplicate row to the given .csv or .xlsx file",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "the number of duplicate rows to print",
						Value: defaultPreviewRows,
					},
				},
				Action: func(c *cli.Context) error {
					defer RecoverFromPanic()
					logger := makeLogger(*isDebug)

					p, err := loadPipeline(c)
					if err != nil {
						errorPrinter.Printf("Failed to load the pipeline definition: %v\n", err)
						return cli.Exit("", 1)
					}

					target, err := dedupeTarget(c, p)
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					client, err := connect(c.Context, *envFile, p.StatementTimeout)
					if err != nil {
						errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
						return cli.Exit("", 1)
					}
					defer client.Close()

					preview, err := dedupe.New(logger, nil).Preview(c.Context, client.Querier(), target)
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					printPreview(preview, c.Int("limit"))

					if path := c.String("export"); path != "" && !preview.Empty() {
						format, err := export.FormatFromPath(path)
						if err != nil {
							errorPrinter.Printf("%v\n", err)
							return cli.Exit("", 1)
						}
						err = export.NewWriter(fs).Write(path, format, export.Table{Name: target.Table, Columns: preview.Columns, Rows: preview.Rows})
						if err != nil {
							errorPrinter.Printf("%v\n", err)
							return cli.Exit("", 1)
						}
						successPrinter.Printf("Exported %d duplicate rows to %s\n", len(preview.Rows), path)
					}

					return nil
				},
			},
			{
				Name:      "apply",
				Usage:     "remove the duplicates, keeping the first physical row of each group",
				ArgsUsage: "[table]",
				Flags:     []cli.Flag{configFlag, yesFlag},
				Action: func(c *cli.Context) error {
					defer RecoverFromPanic()
					logger := makeLogger(*isDebug)

					p, err := loadPipeline(c)
					if err != nil {
						errorPrinter.Printf("Failed to load the pipeline definition: %v\n", err)
						return cli.Exit("", 1)
					}

					target, err := dedupeTarget(c, p)
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					client, err := connect(c.Context, *envFile, p.StatementTimeout)
					if err != nil {
						errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
						return cli.Exit("", 1)
					}
					defer client.Close()

					preview, err := dedupe.New(logger, nil).Preview(c.Context, client.Querier(), target)
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}
					printPreview(preview, defaultPreviewRows)
					if preview.Empty() {
						return nil
					}

					label := fmt.Sprintf("Remove %d %s from %s", preview.ToRemove, helpers.Pluralize(preview.ToRemove, "row", "rows"), target.Table)
					if !c.Bool("yes") && !confirm(label, os.Stdin) {
						return nil
					}

					format, err := export.ParseFormat(p.AuditFormat)
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}
					ignoreOutputs(logger, p.AuditDir)
					exporter := export.NewAuditExporter(export.NewWriter(fs), p.AuditDir, format, NewRunID())

					res, err := applyDedupe(c.Context, client, dedupe.New(logger, exporter), target)
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					successPrinter.Printf("Removed %d %s from %s\n", res.Removed, helpers.Pluralize(res.Removed, "row", "rows"), target.Table)
					if res.AuditPath != "" {
						fmt.Printf("%s %s\n", faint("The removed rows were saved to"), res.AuditPath)
					}
					return nil
				},
			},
		},
	}
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

func applyDedupe(ctx context.Context, db txRunner, d *dedupe.Deduplicator, target dedupe.Target) (*dedupe.Result, error) {
	var res *dedupe.Result
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = d.Apply(ctx, tx, target)
		return err
	})
	return res, err
}

func dedupeTarget(c *cli.Context, p *config.Pipeline) (dedupe.Target, error) {
	name := c.Args().Get(0)
	if name == "" {
		return dedupe.Target{}, errors.New("please give a table to deduplicate, e.g. kalpana dedupe preview final.final_quiz")
	}

	d, err := lookupTable(name, p)
	if err != nil {
		return dedupe.Target{}, err
	}
	return dedupe.Target{Table: d.Name, Key: d.NaturalKey}, nil
}

func printPreview(p *dedupe.Preview, limit int) {
	if p.Empty() {
		successPrinter.Printf("No duplicates in %s over (%s)\n", p.Target.Table, strings.Join(p.Target.Key, ", "))
		return
	}

	infoPrinter.Printf("%s: %d duplicate %s, %d %s would be removed\n", p.Target.Table,
		p.Groups, helpers.Pluralize(p.Groups, "group", "groups"),
		p.ToRemove, helpers.Pluralize(p.ToRemove, "row", "rows"))

	t := table.NewWriter()
	header := make(table.Row, len(p.Columns))
	for i, c := range p.Columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for i, row := range p.Rows {
		if limit > 0 && i >= limit {
			break
		}
		out := make(table.Row, len(row))
		for j, v := range row {
			out[j] = export.FormatValue(v)
		}
		t.AppendRow(out)
	}
	t.SetStyle(table.StyleLight)
	fmt.Println(t.Render())

	if limit > 0 && len(p.Rows) > limit {
		fmt.Println(faint(fmt.Sprintf("... %d more rows, use --export to see all of them", len(p.Rows)-limit)))
	}
}

