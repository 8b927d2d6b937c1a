package cmd

import (
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/export"
)

func Dump(envFile *string) *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "export every row of a pipeline table to a .csv or .xlsx file",
		ArgsUsage: "[table] [path]",
		Action: func(c *cli.Context) error {
			defer RecoverFromPanic()

			if c.Args().Len() != 2 {
				errorPrinter.Println("Please give a table and a file, e.g. kalpana dump final.final_quiz quiz.xlsx")
				return cli.Exit("", 1)
			}
			name, path := c.Args().Get(0), c.Args().Get(1)

			// only tables the pipeline owns can be dumped
			d, err := catalog.Default().Lookup(name)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}

			client, err := connect(c.Context, *envFile, 0)
			if err != nil {
				errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
				return cli.Exit("", 1)
			}
			defer client.Close()

			count, err := export.DumpTable(c.Context, client.Querier(), export.NewWriter(fs), d.Name, path)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}

			successPrinter.Printf("Exported %d rows of %s to %s\n", count, d.Name, path)
			return nil
		},
	}
}
