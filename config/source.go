package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	defaultSourceRPCAddr      = "http://127.0.0.1:8899"
	defaultSourcePollInterval = 2 * time.Second
	defaultSourceTimeout      = 10 * time.Second
	defaultCommitmentAttempts = 5
	defaultCommitmentDelay    = 400 * time.Millisecond
)

// SourceConfig configures access to the ledger burns happen on.
type SourceConfig struct {
	RPCAddr      string        `long:"rpcaddr" description:"JSON-RPC endpoint of the source ledger"`
	Timeout      time.Duration `long:"timeout" description:"Timeout of a single source ledger request"`
	PollInterval time.Duration `long:"pollinterval" description:"The interval between each poll of the finalized slot"`

	CommitmentAttempts uint          `long:"commitmentattempts" description:"How many times to ask for the commitment of a block that is not committed yet"`
	CommitmentDelay    time.Duration `long:"commitmentdelay" description:"The initial delay between two commitment requests"`
}

func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		RPCAddr:      defaultSourceRPCAddr,
		Timeout:      defaultSourceTimeout,
		PollInterval: defaultSourcePollInterval,

		CommitmentAttempts: defaultCommitmentAttempts,
		CommitmentDelay:    defaultCommitmentDelay,
	}
}

func (cfg *SourceConfig) Validate() error {
	if _, err := url.Parse(cfg.RPCAddr); err != nil {
		return fmt.Errorf("invalid source rpc address %s: %w", cfg.RPCAddr, err)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if cfg.CommitmentAttempts == 0 {
		return fmt.Errorf("commitment attempts must be positive")
	}
	return nil
}
