package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/store"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

var valsetCommands = []cli.Command{
	{
		Name:     "valset",
		Usage:    "Manage the validator set of a stopped daemon",
		Category: "Validator set",
		Subcommands: []cli.Command{
			rotateCommand,
			rotateTieredCommand,
			updateCommand,
			showValsetCommand,
		},
	},
}

var valsetFileFlags = []cli.Flag{
	homeCliFlag,
	cli.StringFlag{
		Name:     fileFlag,
		Usage:    "The JSON file describing the new validator set",
		Required: true,
	},
}

var rotateCommand = cli.Command{
	Name:        "rotate",
	Usage:       "Replace the validator set with a flat weighted set",
	Description: "Reads {validators, threshold, population, slot}. A missing threshold means two thirds of the stake",
	Flags:       valsetFileFlags,
	Action:      rotate,
}

var rotateTieredCommand = cli.Command{
	Name:        "rotate-tiered",
	Usage:       "Replace the validator set with a tiered set",
	Description: "Reads {config, threshold, population, slot}",
	Flags:       valsetFileFlags,
	Action:      rotateTiered,
}

var updateCommand = cli.Command{
	Name:        "update",
	Usage:       "Activate a flat set approved by the current validators",
	Description: "Reads {validators, threshold, approvals, slot}",
	Flags:       valsetFileFlags,
	Action:      updateValset,
}

var showValsetCommand = cli.Command{
	Name:   "show",
	Usage:  "Print the active validator set and the update history",
	Flags:  []cli.Flag{homeCliFlag},
	Action: showValset,
}

// withRegistry opens the validator set registry of the home directory. The
// home is locked, so the daemon must not be running.
func withRegistry(ctx *cli.Context, fn func(reg *valset.Registry) error) error {
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

	db, err := cfg.DatabaseConfig.GetDbBackend()
	if err != nil {
		return fmt.Errorf("failed to create db backend: %w", err)
	}
	defer db.Close()

	setStore, err := store.NewValidatorSetStore(db)
	if err != nil {
		return fmt.Errorf("failed to initiate validator set store: %w", err)
	}
	reg, err := valset.NewRegistry(cfg.RegistryConfig.RegistryParams(), setStore, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to load validator set registry: %w", err)
	}

	return fn(reg)
}

func readJSONFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

type activated struct {
	Version uint64 `json:"version"`
}

func rotate(ctx *cli.Context) error {
	var rot valset.Rotation
	if err := readJSONFile(ctx.String(fileFlag), &rot); err != nil {
		return err
	}
	if rot.Threshold == (valset.Threshold{}) {
		rot.Threshold = valset.TwoThirds()
	}

	return withRegistry(ctx, func(reg *valset.Registry) error {
		version, err := reg.Rotate(rot)
		if err != nil {
			return err
		}
		return printJSON(&activated{Version: version})
	})
}

func rotateTiered(ctx *cli.Context) error {
	var rot valset.TieredRotation
	if err := readJSONFile(ctx.String(fileFlag), &rot); err != nil {
		return err
	}
	if rot.Threshold == (valset.Threshold{}) {
		rot.Threshold = valset.TwoThirds()
	}

	return withRegistry(ctx, func(reg *valset.Registry) error {
		version, err := reg.RotateTiered(rot)
		if err != nil {
			return err
		}
		return printJSON(&activated{Version: version})
	})
}

func updateValset(ctx *cli.Context) error {
	var upd valset.FlatUpdate
	if err := readJSONFile(ctx.String(fileFlag), &upd); err != nil {
		return err
	}
	if upd.Threshold == (valset.Threshold{}) {
		upd.Threshold = valset.TwoThirds()
	}

	return withRegistry(ctx, func(reg *valset.Registry) error {
		version, err := reg.UpdateWithApprovals(&upd)
		if err != nil {
			return err
		}
		return printJSON(&activated{Version: version})
	})
}

type valsetView struct {
	Version    uint64                 `json:"version"`
	Shape      string                 `json:"shape"`
	Threshold  string                 `json:"threshold"`
	TotalStake uint64                 `json:"total_stake"`
	Validators []types.ValidatorStake `json:"validators"`
	History    []valset.UpdateRecord  `json:"history"`
}

func showValset(ctx *cli.Context) error {
	return withRegistry(ctx, func(reg *valset.Registry) error {
		snap, err := reg.Current()
		if err != nil {
			return err
		}
		return printJSON(&valsetView{
			Version:    snap.Version,
			Shape:      snap.Shape.String(),
			Threshold:  snap.Threshold.String(),
			TotalStake: snap.TotalStake(),
			Validators: snap.Members(),
			History:    reg.History(),
		})
	})
}
