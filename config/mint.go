package config

import (
	"fmt"

	"github.com/xencat/bridge-verifier/types"
)

type MintConfig struct {
	Assets []string `long:"asset" description:"Name of an asset this node mints. Can be given multiple times"`
}

func DefaultMintConfig() MintConfig {
	return MintConfig{
		Assets: []string{types.AssetXENCAT.String()},
	}
}

// MintableAssets resolves the configured asset names.
func (cfg *MintConfig) MintableAssets() ([]types.AssetID, error) {
	assets := make([]types.AssetID, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		id, err := types.AssetFromName(a)
		if err != nil {
			return nil, err
		}
		assets = append(assets, id)
	}
	return assets, nil
}

func (cfg *MintConfig) Validate() error {
	if len(cfg.Assets) == 0 {
		return fmt.Errorf("at least one mintable asset is required")
	}
	_, err := cfg.MintableAssets()
	return err
}
