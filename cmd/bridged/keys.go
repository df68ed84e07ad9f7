package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/keyring"
)

var keysCommands = []cli.Command{
	{
		Name:     "keys",
		Usage:    "Manage the validator key of an attesting node",
		Category: "Key management",
		Subcommands: []cli.Command{
			addKeyCommand,
			showKeyCommand,
		},
	},
}

var keyFlags = []cli.Flag{
	homeCliFlag,
	cli.StringFlag{
		Name:  keyNameFlag,
		Usage: "The name of the validator key, the attestor key name of the config if empty",
	},
}

var addKeyCommand = cli.Command{
	Name:  "add",
	Usage: "Create a validator key, or recover one from its mnemonic",
	Flags: append([]cli.Flag{
		cli.StringFlag{
			Name:  passphraseFlag,
			Usage: "The pass phrase used to encrypt the key",
			Value: defaultPassphrase,
		},
		cli.StringFlag{
			Name:  mnemonicFlag,
			Usage: "The BIP39 mnemonic to recover the key from",
		},
	}, keyFlags...),
	Action: addKey,
}

var showKeyCommand = cli.Command{
	Name:   "show",
	Usage:  "Print the public key of a validator key",
	Flags:  keyFlags,
	Action: showKey,
}

func keyringFromFlags(ctx *cli.Context) (*keyring.KeyringController, string, error) {
	homePath, err := homePath(ctx)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadConfig(homePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}

	name := ctx.String(keyNameFlag)
	if name == "" {
		name = cfg.AttestorConfig.KeyName
	}
	kc, err := keyring.NewKeyringController(cfg.AttestorConfig.KeyDir, name)
	return kc, name, err
}

func addKey(ctx *cli.Context) error {
	kc, _, err := keyringFromFlags(ctx)
	if err != nil {
		return err
	}
	info, err := kc.CreateKey(ctx.String(passphraseFlag), ctx.String(mnemonicFlag))
	if err != nil {
		return err
	}
	// the mnemonic is only printed for a new key
	if ctx.String(mnemonicFlag) != "" {
		info.Mnemonic = ""
	}
	return printJSON(info)
}

func showKey(ctx *cli.Context) error {
	kc, name, err := keyringFromFlags(ctx)
	if err != nil {
		return err
	}
	pk, err := kc.PublicKey()
	if err != nil {
		return err
	}
	return printJSON(&keyring.KeyInfo{Name: name, PublicKey: pk})
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
