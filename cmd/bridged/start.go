package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/juju/fslock"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/keyring"
	"github.com/xencat/bridge-verifier/log"
	"github.com/xencat/bridge-verifier/service"
	"github.com/xencat/bridge-verifier/types"
)

const lockFileName = "bridged.lock"

var startCommand = cli.Command{
	Name:        "start",
	Usage:       "bridged start",
	Description: "Start the bridge daemon. Validator nodes also serve attestations if the attestor is enabled",
	Flags: []cli.Flag{
		homeCliFlag,
		cli.StringFlag{
			Name:  passphraseFlag,
			Usage: "The pass phrase used to decrypt the validator key",
			Value: defaultPassphrase,
		},
	},
	Action: start,
}

// lockHome makes sure a single process works on the home directory.
func lockHome(homePath string) (*fslock.Lock, error) {
	lock := fslock.New(filepath.Join(homePath, lockFileName))
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, fslock.ErrLocked) {
			return nil, fmt.Errorf("home %s is used by another bridged process", homePath)
		}
		return nil, fmt.Errorf("failed to lock home %s: %w", homePath, err)
	}
	return lock, nil
}

func start(ctx *cli.Context) error {
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

	logger, logFile, err := log.NewRootLoggerWithFile(config.LogFile(homePath), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize the logger: %w", err)
	}
	defer logFile.Close()

	var signer types.Signer
	if cfg.AttestorConfig.Enabled {
		kc, err := keyring.NewKeyringController(cfg.AttestorConfig.KeyDir, cfg.AttestorConfig.KeyName)
		if err != nil {
			return err
		}
		s, err := kc.Signer(ctx.String(passphraseFlag))
		if err != nil {
			return fmt.Errorf("failed to load the validator key %s: %w", cfg.AttestorConfig.KeyName, err)
		}
		signer = s
	}

	db, err := cfg.DatabaseConfig.GetDbBackend()
	if err != nil {
		return fmt.Errorf("failed to create db backend: %w", err)
	}

	app, err := service.NewBridgeAppFromConfig(context.Background(), cfg, db, signer, logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create bridge app: %w", err)
	}

	// Hook interceptor for os signals.
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		db.Close()
		return err
	}

	bridgeServer := service.NewBridgeServer(cfg, logger, app, db, shutdownInterceptor)

	return bridgeServer.RunUntilShutdown()
}
