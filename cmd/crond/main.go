package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"homecron/internal/config"
	"homecron/internal/cronfile"
	"homecron/internal/daemon"
	"homecron/internal/eventbus"
	"homecron/internal/mailer"
	"homecron/internal/runner"
	logx "homecron/pkg/logx"
)

var (
	verbose  bool
	watch    bool
	optsPath string
)

func main() {
	app := cli.NewApp()
	app.Name = "crond"
	app.Usage = "run scheduled commands from your personal crontab"
	app.UsageText = "crond [-v] [-w] [-c file]"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:        "verbose, v",
			Usage:       "log operational diagnostics to stderr",
			Destination: &verbose,
		},
		cli.BoolFlag{
			Name:        "watch, w",
			Usage:       "react to crontab edits immediately instead of on the next minute poll",
			Destination: &watch,
		},
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the options file (default: crond.yaml next to the crontab)",
			Destination: &optsPath,
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "crond: %v\n", err)
		os.Exit(1)
	}
}

func run(*cli.Context) error {
	paths, err := cronfile.Resolve()
	if err != nil {
		return err
	}

	if optsPath == "" {
		optsPath = config.DefaultPath(paths.Dir)
	} else if _, err := os.Stat(optsPath); err != nil {
		// Only the default path may be absent; a named file must exist.
		return fmt.Errorf("options file: %w", err)
	}
	opts, err := config.Load(optsPath)
	if err != nil {
		return err
	}

	level := opts.Logging.Level
	if verbose {
		level = "debug"
	}
	logsvc, log := logx.New(logx.Config{Level: level, File: opts.Logging.File})
	defer logsvc.Close()

	mail := mailer.New(mailer.Config{
		Prog:    opts.Mailer.Prog,
		To:      opts.ResolveMailTo(),
		Timeout: opts.ResolveMailTimeout(),
	}, log.With(logx.String("component", "mailer")))

	jobs := runner.New(runner.Config{
		Shell: opts.ResolveShell(),
	}, mail, log.With(logx.String("component", "runner")))

	d := daemon.New(daemon.Config{
		Paths:        paths,
		Watch:        watch || opts.Watch,
		DrainTimeout: opts.ResolveDrainTimeout(),
	}, jobs, eventbus.New(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
