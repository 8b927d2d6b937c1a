package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/ansisql"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/constraint"
	"github.com/vigyanshaala/kalpana/pkg/dedupe"
	"github.com/vigyanshaala/kalpana/pkg/upsert"
)

const (
	stageDedupe     = "dedupe"
	stageConstraint = "constraint"
	stageUpsert     = "upsert"
	stageVerify     = "verify"
)

var renderStages = []string{stageDedupe, stageConstraint, stageUpsert, stageVerify}

type renderedStatement struct {
	Stage string `json:"stage"`
	Name  string `json:"name"`
	Query string `json:"query"`
}

func Render() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "print the SQL a run would execute for a table, without connecting to the warehouse",
		ArgsUsage: "[table]",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringSliceFlag{
				Name:    "stage",
				Aliases: []string{"s"},
				Usage:   "only render the given stages, possible values are: " + strings.Join(renderStages, ", "),
			},
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			defer RecoverFromPanic()
			output := c.String("output")

			name := c.Args().Get(0)
			if name == "" {
				printError(errors.New("no table given"), output, "Please give a table to render, e.g. kalpana render final.final_quiz")
				return cli.Exit("", 1)
			}

			p, err := loadPipeline(c)
			if err != nil {
				printError(err, output, "Failed to load the pipeline definition")
				return cli.Exit("", 1)
			}

			d, err := lookupTable(name, p)
			if err != nil {
				printError(err, output, "Unknown table")
				return cli.Exit("", 1)
			}

			stages := c.StringSlice("stage")
			if len(stages) == 0 {
				stages = renderStages
			}

			statements, err := renderTable(d, stages)
			if err != nil {
				printError(err, output, "Failed to render the table")
				return cli.Exit("", 1)
			}

			if output == "json" {
				return printJSON(statements)
			}
			writeStatements(os.Stdout, statements)
			return nil
		},
	}
}

// renderTable builds the statements of the given stages in run order. Stages the table skips are left out.
func renderTable(d catalog.Descriptor, stages []string) ([]renderedStatement, error) {
	wanted := make(map[string]bool, len(stages))
	for _, s := range stages {
		if !slices.Contains(renderStages, s) {
			return nil, errors.Errorf("unknown stage '%s', possible values are: %s", s, strings.Join(renderStages, ", "))
		}
		wanted[s] = true
	}

	var out []renderedStatement
	if wanted[stageDedupe] && d.Dedupe {
		target := dedupe.Target{Table: d.Name, Key: d.NaturalKey}
		out = append(out,
			renderedStatement{Stage: stageDedupe, Name: "preview", Query: dedupe.PreviewQuery(target).String()},
			renderedStatement{Stage: stageDedupe, Name: "delete", Query: dedupe.DeleteQuery(target).String()},
		)
	}

	if wanted[stageConstraint] {
		out = append(out,
			renderedStatement{Stage: stageConstraint, Name: "find", Query: constraint.FindQuery(d.Name, d.NaturalKey).String()},
			renderedStatement{Stage: stageConstraint, Name: "owned", Query: constraint.OwnedQuery(d.Name).String()},
			renderedStatement{Stage: stageConstraint, Name: "add", Query: constraint.AddQuery(d.Name, d.NaturalKey).String()},
		)
	}

	if wanted[stageUpsert] && d.Upserts() {
		q, err := upsert.Render(d)
		if err != nil {
			return nil, err
		}
		out = append(out, renderedStatement{Stage: stageUpsert, Name: string(d.EffectiveStrategy()), Query: q.String()})
	}

	if wanted[stageVerify] {
		checks := []*ansisql.CountableQueryCheck{ansisql.UniqueKeyCheck(d.Name, d.NaturalKey)}
		if d.Upserts() {
			checks = append(checks, ansisql.CompletenessCheck(d.Name, d.Columns, upsert.SourceQuery(d)))
		}
		for _, check := range checks {
			out = append(out, renderedStatement{Stage: stageVerify, Name: check.Name(), Query: check.Query().String()})
		}
	}

	return out, nil
}

func writeStatements(w io.Writer, statements []renderedStatement) {
	for i, s := range statements {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, faint(fmt.Sprintf("-- %s: %s", s.Stage, s.Name)))
		fmt.Fprintln(w, highlightCode(strings.TrimSuffix(strings.TrimSpace(s.Query), ";")+";", "postgres"))
	}
}

func highlightCode(code string, language string) string {
	o, err := os.Stdout.Stat()
	if err != nil {
		return code
	}

	if (o.Mode() & os.ModeCharDevice) != os.ModeCharDevice {
		return code
	}

	b := new(strings.Builder)
	if err := quick.Highlight(b, code, language, "terminal16m", "monokai"); err != nil {
		return code
	}
	return b.String()
}
