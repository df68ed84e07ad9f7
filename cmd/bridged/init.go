package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/util"
)

var initCommand = cli.Command{
	Name:        "init",
	Usage:       "bridged init",
	Description: "Creates a new bridged home directory with the default config",
	Flags: []cli.Flag{
		homeCliFlag,
		cli.BoolFlag{
			Name:  forceFlag,
			Usage: "Override existing configuration",
		},
	},
	Action: initHome,
}

func initHome(ctx *cli.Context) error {
	homePath, err := homePath(ctx)
	if err != nil {
		return err
	}

	if util.FileExists(homePath) && !ctx.Bool(forceFlag) {
		return fmt.Errorf("home path %s already exists", homePath)
	}

	if err := util.MakeDirectory(homePath); err != nil {
		return err
	}
	if err := util.MakeDirectory(config.LogDir(homePath)); err != nil {
		return err
	}
	if err := util.MakeDirectory(config.DataDir(homePath)); err != nil {
		return err
	}

	defaultConfig := config.DefaultConfigWithHome(homePath)
	if err := config.WriteConfig(homePath, &defaultConfig); err != nil {
		return err
	}

	fmt.Printf("initialized bridged home at %s\n", homePath)
	return nil
}
