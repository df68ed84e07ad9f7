package main

import (
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/util"
)

const (
	homeFlag       = "home"
	forceFlag      = "force"
	passphraseFlag = "passphrase"
	keyNameFlag    = "key-name"
	mnemonicFlag   = "mnemonic"
	fileFlag       = "file"
	assetFlag      = "asset"
	legacyFlag     = "legacy"
	listenerFlag   = "listener"
	slotTimeFlag   = "slot-time"
	burnFlag       = "burn"

	defaultPassphrase = ""
)

var homeCliFlag = cli.StringFlag{
	Name:  homeFlag,
	Usage: "The path to the bridged home directory",
	Value: config.DefaultBridgedDir,
}

func homePath(ctx *cli.Context) (string, error) {
	homePath, err := filepath.Abs(ctx.String(homeFlag))
	if err != nil {
		return "", err
	}
	return util.CleanAndExpandPath(homePath), nil
}
