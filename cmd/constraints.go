package cmd

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/constraint"
)

func Constraints(isDebug *bool, envFile *string) *cli.Command {
	return &cli.Command{
		Name:  "constraints",
		Usage: "manage the unique constraints that back the natural keys",
		Subcommands: []*cli.Command{
			{
				Name:      "ensure",
				Usage:     "create the natural key constraint of each table unless an equivalent one exists",
				ArgsUsage: "[table...]",
				Flags:     []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					defer RecoverFromPanic()
					logger := makeLogger(*isDebug)

					names := c.Args().Slice()
					if len(names) == 0 {
						errorPrinter.Println("Please give at least one table, e.g. kalpana constraints ensure final.final_quiz")
						return cli.Exit("", 1)
					}

					p, err := loadPipeline(c)
					if err != nil {
						errorPrinter.Printf("Failed to load the pipeline definition: %v\n", err)
						return cli.Exit("", 1)
					}

					client, err := connect(c.Context, *envFile, p.StatementTimeout)
					if err != nil {
						errorPrinter.Printf("Failed to connect to the warehouse: %v\n", err)
						return cli.Exit("", 1)
					}
					defer client.Close()

					manager := constraint.NewManager(logger)
					failed := 0
					for _, name := range names {
						d, err := lookupTable(name, p)
						if err != nil {
							errorPrinter.Printf("%v\n", err)
							failed++
							continue
						}

						var outcome constraint.Outcome
						err = client.WithTx(c.Context, func(tx pgx.Tx) error {
							outcome, err = manager.Ensure(c.Context, tx, d.Name, d.NaturalKey)
							return err
						})
						if err != nil {
							failed++
							errorPrinter.Printf("%s: %v\n", d.Name, err)
							if errors.Is(err, constraint.ErrLeftoverDuplicates) {
								fmt.Println(faint(fmt.Sprintf("  remove them first with: kalpana dedupe apply %s", d.Name)))
							}
							continue
						}

						fmt.Printf("%s %s %s\n", successPrinter.Sprint(d.Name), faint(constraint.Name(d.Name, d.NaturalKey)), outcome)
					}

					if failed > 0 {
						return cli.Exit("", 1)
					}
					return nil
				},
			},
		},
	}
}
