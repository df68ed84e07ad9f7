package config

import (
	"fmt"
	"time"

	"github.com/xencat/bridge-verifier/valset"
)

type RegistryConfig struct {
	LivenessFloorBps    uint64        `long:"livenessfloorbps" description:"The minimum share, in basis points, of the population stake a new validator set must carry"`
	MinRotationInterval time.Duration `long:"minrotationinterval" description:"The minimum time between two tiered rotations"`
	MinTrackedStake     uint64        `long:"mintrackedstake" description:"The minimum total stake of a tiered validator config"`
	HistorySize         int           `long:"historysize" description:"How many validator set updates are kept in the history"`
	CacheSize           int           `long:"cachesize" description:"How many historic validator set snapshots are cached in memory"`
}

func DefaultRegistryConfig() RegistryConfig {
	d := valset.DefaultConfig()
	return RegistryConfig{
		LivenessFloorBps:    d.LivenessFloorBps,
		MinRotationInterval: d.MinRotationInterval,
		MinTrackedStake:     d.MinTrackedStake,
		HistorySize:         d.HistorySize,
		CacheSize:           d.CacheSize,
	}
}

func (cfg *RegistryConfig) Validate() error {
	if cfg.LivenessFloorBps > 10000 {
		return fmt.Errorf("liveness floor %d bps is above 100%%", cfg.LivenessFloorBps)
	}
	if cfg.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive")
	}
	if cfg.CacheSize <= 0 {
		return fmt.Errorf("snapshot cache size must be positive")
	}
	return nil
}

// RegistryParams converts the section to the registry's own config.
func (cfg *RegistryConfig) RegistryParams() valset.Config {
	return valset.Config{
		LivenessFloorBps:    cfg.LivenessFloorBps,
		MinRotationInterval: cfg.MinRotationInterval,
		MinTrackedStake:     cfg.MinTrackedStake,
		HistorySize:         cfg.HistorySize,
		CacheSize:           cfg.CacheSize,
	}
}
