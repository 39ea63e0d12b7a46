package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&turnoverCmd{}, "ledger")
	commander.Register(&balanceCmd{}, "ledger")
	commander.Register(&periodCmd{}, "ledger")
	commander.Register(&reportCmd{}, "ledger")
	commander.Register(&verifyCmd{}, "ledger")
	commander.Register(&enqueueCmd{}, "jobs")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
