package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/pipeline"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/upsert"
)

type validationIssue struct {
	Table string `json:"table"`
	Cause string `json:"cause"`
	Error string `json:"error"`
}

func Validate(isDebug *bool, envFile *string) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check the pipeline definition and have the warehouse plan every reconciliation statement",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringSliceFlag{
				Name:    "tables",
				Aliases: []string{"t"},
				Usage:   "the tables to validate; defaults to the tables of the pipeline definition",
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "only check the pipeline definition, without connecting to the warehouse",
			},
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			defer RecoverFromPanic()
			logger := makeLogger(*isDebug)
			output := c.String("output")

			p, err := loadPipeline(c)
			if err != nil {
				printError(err, output, "Failed to load the pipeline definition")
				return cli.Exit("", 1)
			}

			tables, err := pipeline.Select(catalog.Default(), p, c.StringSlice("tables"), false)
			if err != nil {
				printError(err, output, "Invalid table selection")
				return cli.Exit("", 1)
			}

			if c.Bool("offline") {
				if output == "json" {
					return printJSON([]validationIssue{})
				}
				successPrinter.Printf("The pipeline definition is valid, %d tables selected\n", len(tables))
				return nil
			}

			client, err := connect(c.Context, *envFile, p.StatementTimeout)
			if err != nil {
				printError(err, output, "Failed to connect to the warehouse")
				return cli.Exit("", 1)
			}
			defer client.Close()

			issues := make([]validationIssue, 0)
			for _, d := range tables {
				if !d.Upserts() {
					logger.Debugw("table is not reconciled, nothing to plan", "table", d.Name)
					continue
				}

				q, err := upsert.Render(d)
				if err == nil {
					err = client.Explain(c.Context, q)
				}
				if err != nil {
					issues = append(issues, validationIssue{Table: d.Name, Cause: postgres.Cause(err), Error: err.Error()})
					continue
				}
				logger.Debugw("statement planned", "table", d.Name)
			}

			if output == "json" {
				if err := printJSON(issues); err != nil {
					return err
				}
			} else {
				printIssues(issues, len(tables))
			}

			if len(issues) > 0 {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printIssues(issues []validationIssue, total int) {
	if len(issues) == 0 {
		successPrinter.Printf("All %d tables are valid\n", total)
		return
	}

	for _, issue := range issues {
		fmt.Printf("%s %s %s\n", errorPrinter.Sprint(issue.Table), faint("("+issue.Cause+")"), issue.Error)
	}
	errorPrinter.Printf("\n%d of %d tables failed validation\n", len(issues), total)
}
