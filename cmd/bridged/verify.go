package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/log"
	"github.com/xencat/bridge-verifier/service"
	"github.com/xencat/bridge-verifier/types"
)

var verifyCommand = cli.Command{
	Name:  "verify",
	Usage: "bridged verify --file proof.json --asset XENCAT",
	Description: "Check a burn proof against the local validator set and the source ledger " +
		"without redeeming it. The daemon must be stopped",
	Flags: []cli.Flag{
		homeCliFlag,
		cli.StringFlag{
			Name:     fileFlag,
			Usage:    "The JSON file holding the burn proof",
			Required: true,
		},
		cli.StringFlag{
			Name:  assetFlag,
			Usage: "The asset the proof is submitted for",
			Value: types.AssetXENCAT.String(),
		},
		cli.BoolFlag{
			Name:  legacyFlag,
			Usage: "Check the proof against the legacy attestation message",
		},
	},
	Action: verify,
}

func verify(ctx *cli.Context) error {
	var proof types.BurnProof
	if err := readJSONFile(ctx.String(fileFlag), &proof); err != nil {
		return err
	}
	asset, err := types.AssetFromName(ctx.String(assetFlag))
	if err != nil {
		return err
	}

	homePath, err := homePath(ctx)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(homePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lock, err := lockHome(homePath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	logger, err := log.NewRootLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize the logger: %w", err)
	}

	db, err := cfg.DatabaseConfig.GetDbBackend()
	if err != nil {
		return fmt.Errorf("failed to create db backend: %w", err)
	}
	defer db.Close()

	// the attestor is never started for a check
	cfg.AttestorConfig.Enabled = false
	app, err := service.NewBridgeAppFromConfig(context.Background(), cfg, db, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create bridge app: %w", err)
	}
	if err := app.Start(); err != nil {
		return err
	}
	defer app.Stop()

	res, err := app.CheckProof(context.Background(), asset, ctx.Bool(legacyFlag), &proof)
	if err != nil {
		return fmt.Errorf("the proof is rejected: %w", err)
	}
	return printJSON(res)
}
