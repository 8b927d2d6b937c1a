package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/pipeline"
	"github.com/xlab/treeprint"
)

type tableInfo struct {
	Name        string   `json:"name"`
	Tier        string   `json:"tier"`
	Description string   `json:"description,omitempty"`
	Key         []string `json:"natural_key"`
	Dedupe      bool     `json:"dedupe"`
	Upserts     bool     `json:"upserts"`
	Strategy    string   `json:"strategy,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

func Tables() *cli.Command {
	return &cli.Command{
		Name:  "tables",
		Usage: "list the tables the pipeline can reconcile",
		Flags: []cli.Flag{
			configFlag,
			&cli.BoolFlag{
				Name:  "tree",
				Usage: "show which tables derive from which",
			},
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			defer RecoverFromPanic()

			p, err := loadPipeline(c)
			if err != nil {
				printError(err, c.String("output"), "Failed to load the pipeline definition")
				return cli.Exit("", 1)
			}

			registry := catalog.Default()
			descriptors, err := registry.Select(registry.Names(), pipeline.Overrides(p))
			if err != nil {
				printError(err, c.String("output"), "Invalid table overrides")
				return cli.Exit("", 1)
			}

			if c.String("output") == "json" {
				infos := make([]tableInfo, len(descriptors))
				for i, d := range descriptors {
					infos[i] = describe(d)
				}
				return printJSON(infos)
			}

			if c.Bool("tree") {
				fmt.Println(dependencyTree(registry).String())
				return nil
			}

			printTables(descriptors)
			return nil
		},
	}
}

func describe(d catalog.Descriptor) tableInfo {
	info := tableInfo{
		Name:        d.Name,
		Tier:        string(d.Tier),
		Description: d.Description,
		Key:         d.NaturalKey,
		Dedupe:      d.Dedupe,
		Upserts:     d.Upserts(),
		Sources:     d.Sources,
	}
	if d.Upserts() {
		info.Strategy = string(d.EffectiveStrategy())
	}
	return info
}

func printTables(descriptors []catalog.Descriptor) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Table", "Tier", "Natural key", "Dedupe", "Reconcile"})
	for _, d := range descriptors {
		info := describe(d)
		reconcile := faint("no")
		if info.Upserts {
			reconcile = info.Strategy
		}
		dedupe := faint("no")
		if info.Dedupe {
			dedupe = "yes"
		}
		t.AppendRow(table.Row{info.Name, info.Tier, strings.Join(info.Key, ", "), dedupe, reconcile})
	}
	t.SetStyle(table.StyleLight)
	fmt.Println(t.Render())
}

// dependencyTree roots every table that reads no other registered table and hangs its readers below it.
func dependencyTree(r *catalog.Registry) treeprint.Tree {
	tree := treeprint.NewWithRoot(color.New(color.Bold).Sprint("tables"))
	for _, name := range r.Names() {
		if len(r.Upstreams(name)) > 0 {
			continue
		}
		addDownstreams(r, tree.AddBranch(name), name, map[string]bool{name: true})
	}
	return tree
}

func addDownstreams(r *catalog.Registry, branch treeprint.Tree, name string, seen map[string]bool) {
	for _, down := range r.Downstreams(name) {
		if seen[down] {
			continue
		}
		seen[down] = true
		addDownstreams(r, branch.AddBranch(down), down, seen)
		delete(seen, down)
	}
}
