package config

import (
	"fmt"

	"github.com/xencat/bridge-verifier/merkle"
)

const (
	defaultMinFinalityDepth = 32
)

type VerifierConfig struct {
	MinFinalityDepth    uint64 `long:"minfinalitydepth" description:"The number of slots a burn block must be behind the finalized tip before it can be redeemed"`
	MaxMerkleDepth      int    `long:"maxmerkledepth" description:"The maximum number of siblings accepted in a merkle inclusion proof"`
	AllowDuplicateVotes bool   `long:"allowduplicatevotes" description:"If set, repeated votes of a validator are ignored instead of rejecting the proof"`
}

func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MinFinalityDepth: defaultMinFinalityDepth,
		MaxMerkleDepth:   merkle.MaxDepth,
	}
}

func (cfg *VerifierConfig) Validate() error {
	if cfg.MinFinalityDepth == 0 {
		return fmt.Errorf("min finality depth must be positive")
	}
	if cfg.MaxMerkleDepth <= 0 || cfg.MaxMerkleDepth > merkle.MaxDepth {
		return fmt.Errorf("max merkle depth must be in (0, %d]", merkle.MaxDepth)
	}
	return nil
}
