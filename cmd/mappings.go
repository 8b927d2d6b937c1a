package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/helpers"
	"github.com/vigyanshaala/kalpana/pkg/mapping"
)

func Mappings(isDebug *bool, envFile *string) *cli.Command {
	return &cli.Command{
		Name:  "mappings",
		Usage: "inspect the curated lookup tables that standardize free-text values",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "count the raw values that no mapping entry matches",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "kind",
						Aliases: []string{"k"},
						Usage:   "only check the given mapping kinds, one of: " + strings.Join(kindNames(), ", "),
					},
					outputFlag,
				},
				Action: func(c *cli.Context) error {
					defer RecoverFromPanic()
					logger := makeLogger(*isDebug)

					kinds, err := parseKinds(c.StringSlice("kind"))
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					probes := lo.Filter(allProbes(), func(p mapping.Probe, _ int) bool {
						return len(kinds) == 0 || lo.Contains(kinds, p.Kind)
					})
					if len(probes) == 0 {
						warningPrinter.Println("No table reads the selected mapping kinds.")
						return nil
					}

					client, err := connect(c.Context, *envFile, 0)
					if err != nil {
						errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
						return cli.Exit("", 1)
					}
					defer client.Close()

					resolver := mapping.NewResolver(logger)
					used := lo.Uniq(lo.Map(probes, func(p mapping.Probe, _ int) mapping.Kind { return p.Kind }))
					if err := resolver.Load(c.Context, client.Querier(), used...); err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					reports := make([]*mapping.MissReport, 0, len(probes))
					for _, p := range probes {
						report, err := resolver.Misses(c.Context, client.Querier(), p)
						if err != nil {
							errorPrinter.Printf("%v\n", err)
							return cli.Exit("", 1)
						}
						reports = append(reports, report)
					}

					if c.String("output") == "json" {
						return printJSON(reports)
					}
					printMissReports(reports)
					return nil
				},
			},
			{
				Name:      "resolve",
				Usage:     "look up raw values the way the derivations do",
				ArgsUsage: "[value...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "kind",
						Aliases:  []string{"k"},
						Usage:    "the mapping kind, one of: " + strings.Join(kindNames(), ", "),
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					defer RecoverFromPanic()
					logger := makeLogger(*isDebug)

					kind, err := mapping.ParseKind(c.String("kind"))
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}
					values := c.Args().Slice()
					if len(values) == 0 {
						errorPrinter.Println("Please give at least one value to resolve.")
						return cli.Exit("", 1)
					}

					client, err := connect(c.Context, *envFile, 0)
					if err != nil {
						errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
						return cli.Exit("", 1)
					}
					defer client.Close()

					resolver := mapping.NewResolver(logger)
					if err := resolver.Load(c.Context, client.Querier(), kind); err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					// composite kinds take their name parts as consecutive arguments
					arity := kind.Arity()
					if len(values)%arity != 0 {
						errorPrinter.Printf("Mapping '%s' needs %d values per lookup, got %d values.\n", kind, arity, len(values))
						return cli.Exit("", 1)
					}

					var resolutions []mapping.Resolution
					for _, parts := range lo.Chunk(values, arity) {
						res, err := resolver.Resolve(kind, parts...)
						if err != nil {
							errorPrinter.Printf("%v\n", err)
							return cli.Exit("", 1)
						}
						resolutions = append(resolutions, res)
					}
					printResolutions(resolutions)

					if set, ok := resolver.Set(kind); ok && arity == 1 && len(values) > 1 {
						all := set.ResolveAll(values)
						fmt.Printf("\n%s %s\n", faint("Aggregated categories:"), all.Categories)
					}
					return nil
				},
			},
			{
				Name:  "backfill-locations",
				Usage: "fill in missing student locations from the state and district they registered with",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "apply",
						Usage: "update the students instead of only listing them",
					},
					yesFlag,
				},
				Action: func(c *cli.Context) error {
					defer RecoverFromPanic()

					client, err := connect(c.Context, *envFile, 0)
					if err != nil {
						errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
						return cli.Exit("", 1)
					}
					defer client.Close()

					backfill := mapping.LocationBackfill{}
					matches, err := backfill.Preview(c.Context, client.Querier())
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}
					if len(matches) == 0 {
						successPrinter.Println("Every student with a known state and district already has a location.")
						return nil
					}
					printLocationMatches(matches)

					if !c.Bool("apply") {
						fmt.Println(faint("Nothing was changed, pass --apply to update these students."))
						return nil
					}

					count := int64(len(matches))
					label := fmt.Sprintf("Set the location of %d %s", count, helpers.Pluralize(count, "student", "students"))
					if !c.Bool("yes") && !confirm(label, os.Stdin) {
						return nil
					}

					var updated int64
					err = client.WithTx(c.Context, func(tx pgx.Tx) error {
						updated, err = backfill.Apply(c.Context, tx)
						return err
					})
					if err != nil {
						errorPrinter.Printf("%v\n", err)
						return cli.Exit("", 1)
					}

					successPrinter.Printf("Updated the location of %d %s\n", updated, helpers.Pluralize(updated, "student", "students"))
					return nil
				},
			},
		},
	}
}

func kindNames() []string {
	return lo.Map(mapping.Kinds(), func(k mapping.Kind, _ int) string { return string(k) })
}

func parseKinds(values []string) ([]mapping.Kind, error) {
	kinds := make([]mapping.Kind, 0, len(values))
	for _, v := range values {
		k, err := mapping.ParseKind(v)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func allProbes() []mapping.Probe {
	return lo.FlatMap(catalog.Default().All(), func(d catalog.Descriptor, _ int) []mapping.Probe {
		return d.Probes
	})
}

func printMissReports(reports []*mapping.MissReport) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Kind", "Raw column", "Distinct values", "Unmapped", "Examples"})
	for _, r := range reports {
		unmapped := successPrinter.Sprint(r.Unmapped)
		if r.Unmapped > 0 {
			unmapped = warningPrinter.Sprint(r.Unmapped)
		}
		t.AppendRow(table.Row{
			r.Probe.Kind,
			fmt.Sprintf("%s(%s)", r.Probe.Table, strings.Join(r.Probe.Columns, ", ")),
			r.Distinct,
			unmapped,
			strings.Join(r.Samples, "; "),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 60},
	})
	t.SetStyle(table.StyleLight)
	fmt.Println(t.Render())
	fmt.Println(faint("Unmapped values are kept in the final tables with empty mapped fields."))
}

func printResolutions(resolutions []mapping.Resolution) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Raw value", "Id", "Standard name", "Category"})
	for _, r := range resolutions {
		if !r.Mapped {
			t.AppendRow(table.Row{r.Raw, warningPrinter.Sprint("unmapped"), "", ""})
			continue
		}
		t.AppendRow(table.Row{r.Raw, r.ID, r.Name(), r.Category})
	}
	t.SetStyle(table.StyleLight)
	fmt.Println(t.Render())
}

func printLocationMatches(matches []mapping.LocationMatch) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Student", "Location", "State / UT", "District"})
	for _, m := range matches {
		t.AppendRow(table.Row{m.StudentID, m.LocationID, m.State, m.District})
	}
	t.SetStyle(table.StyleLight)
	fmt.Println(t.Render())
}
