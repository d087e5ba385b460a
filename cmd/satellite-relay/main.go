package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "satellite-relay"
	app.Usage = "one-way FEC block and transaction relay over UDP multicast and unicast links"
	app.Version = version

	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "start the relay daemon",
			// configuration flags belong to the viper/pflag layer in
			// pkg/config, which parses the remaining arguments itself
			SkipFlagParsing: true,
			Action:          runAction,
		},
		{
			Name:            "recover-scan",
			Usage:           "scan the partial_blocks directory, report recoverable entries, and exit",
			SkipFlagParsing: true,
			Action:          recoverScanAction,
		},
	}
	app.Action = runAction

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "satellite-relay: %v\n", err)
		os.Exit(1)
	}
}

func runAction(_ *cli.Context) error {
	return runNode()
}

func recoverScanAction(_ *cli.Context) error {
	return runRecoverScan()
}
