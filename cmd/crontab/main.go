package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"homecron/internal/config"
	"homecron/internal/cronfile"
	"homecron/internal/crontab"
	logx "homecron/pkg/logx"
)

var (
	editMode   bool
	listMode   bool
	removeMode bool
)

func main() {
	app := cli.NewApp()
	app.Name = "crontab"
	app.Usage = "view or update your personal crontab"
	app.UsageText = "crontab [-e|-l|-r]\n   crontab [file]"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:        "edit, e",
			Usage:       "edit the crontab with $EDITOR (vi if unset)",
			Destination: &editMode,
		},
		cli.BoolFlag{
			Name:        "list, l",
			Usage:       "print the crontab to stdout",
			Destination: &listMode,
		},
		cli.BoolFlag{
			Name:        "remove, r",
			Usage:       "delete the crontab",
			Destination: &removeMode,
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "crontab: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	paths, err := cronfile.Resolve()
	if err != nil {
		return err
	}
	tool := crontab.New(paths, logx.NewConsole("error"))

	modes := 0
	for _, on := range []bool{editMode, listMode, removeMode} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("incorrect usage of flags")
	}

	switch {
	case editMode:
		return tool.Edit(context.Background(), config.ResolveEditor())
	case listMode:
		return tool.List()
	case removeMode:
		return tool.Remove()
	}

	switch args := c.Args(); len(args) {
	case 0:
		return tool.Replace()
	case 1:
		return tool.ReplaceFile(args[0])
	default:
		return errors.New("too many files")
	}
}
