package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/fintrack/fintrack/internal/cli"
	"github.com/google/subcommands"
)

func main() {
	configPath := flag.String("config", os.Getenv("FINTRACK_CONFIG"), "Path to the configuration file (YAML)")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	open := func(ctx context.Context) (*cli.App, error) {
		return cli.Open(ctx, *configPath, os.Stdout, os.Stderr)
	}
	cli.Register(commander, open, os.Stdout, os.Stderr)

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
