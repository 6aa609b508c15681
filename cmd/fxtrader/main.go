package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

const serviceName = "fxtrader"

var (
	configPath string
	logLevel   string
)

func main() {
	app := cli.NewApp()
	app.Name = serviceName
	app.Usage = "event-driven FX backtesting and trading engine"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to the YAML config, configs/$CONFIG_FILE when empty",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn or error; overrides log.level",
			Destination: &logLevel,
		},
	}
	app.Commands = []*cli.Command{
		backtestCommand,
		tradeCommand,
		reportCommand,
		fetchCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
