package main

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/cmd"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	isDebug := false
	envFile := ""
	color.NoColor = false

	versionCommand := cmd.VersionCmd(commit)

	cli.VersionPrinter = func(cCtx *cli.Context) {
		err := versionCommand.Action(cCtx)
		if err != nil {
			panic(err)
		}
	}

	app := &cli.App{
		Name:     "kalpana",
		Version:  version,
		Usage:    "Keeps the mentorship warehouse deduplicated and its final tables reconciled",
		Compiled: time.Now(),
		ExitErrHandler: func(context *cli.Context, err error) {
			cli.HandleExitCoder(err)
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "debug",
				Value:       false,
				Usage:       "show debug information",
				Destination: &isDebug,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "the file holding the warehouse credentials, defaults to config.env when it exists; the environment takes precedence",
				EnvVars:     []string{"KALPANA_ENV_FILE"},
				Destination: &envFile,
			},
		},
		Commands: []*cli.Command{
			cmd.Run(&isDebug, &envFile),
			cmd.Dedupe(&isDebug, &envFile),
			cmd.Constraints(&isDebug, &envFile),
			cmd.Mappings(&isDebug, &envFile),
			cmd.Tables(),
			cmd.Render(),
			cmd.Validate(&isDebug, &envFile),
			cmd.Dump(&envFile),
			versionCommand,
		},
	}

	_ = app.Run(os.Args)
}
