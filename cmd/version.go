package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli/v2"
)

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

func VersionCmd(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version of kalpana",
		Flags: []cli.Flag{outputFlag},
		Action: func(c *cli.Context) error {
			info := VersionInfo{
				Version:   c.App.Version,
				Commit:    commit,
				GoVersion: runtime.Version(),
			}

			if c.String("output") == "json" {
				return printJSON(info)
			}

			fmt.Printf("Current: %s (%s)\n", info.Version, info.Commit)
			fmt.Println(faint("Built with " + info.GoVersion))
			return nil
		},
	}
}
