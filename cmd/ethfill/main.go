package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var verbosityFlag = &cli.StringFlag{
	Name:    "verbosity",
	Usage:   "log level: trace, debug, info, warn, error",
	EnvVars: []string{"ETHFILL_VERBOSITY"},
}

func main() {
	app := &cli.App{
		Name:  "ethfill",
		Usage: "fill Ethereum blockchain test fixtures from declarative chain tests",
		Flags: []cli.Flag{verbosityFlag},
		Before: func(ctx *cli.Context) error {
			return setupLogging(ctx.String(verbosityFlag.Name))
		},
		Commands: []*cli.Command{
			fillCommand,
			forksCommand,
			hiveRulesCommand,
			dumpConfigCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the terminal handler at level. An empty level keeps
// the info default and is raised later from the config file.
func setupLogging(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return err
	}
	useColor := false
	if fi, err := os.Stderr.Stat(); err == nil {
		useColor = fi.Mode()&os.ModeCharDevice != 0 && os.Getenv("NO_COLOR") == ""
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, useColor)))
	return nil
}
