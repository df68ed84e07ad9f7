package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[bridged] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "bridged"
	app.Usage = "Burn-attested bridge daemon (bridged)."
	app.Commands = append(app.Commands, initCommand, startCommand, verifyCommand, devnetCommand)
	app.Commands = append(app.Commands, keysCommands...)
	app.Commands = append(app.Commands, valsetCommands...)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
