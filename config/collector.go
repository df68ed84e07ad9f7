package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xencat/bridge-verifier/types"
)

const (
	defaultCallTimeout   = 5 * time.Second
	defaultBatchTimeout  = 15 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = 200 * time.Millisecond
)

// CollectorConfig configures how attestations are gathered from validators.
type CollectorConfig struct {
	Endpoints     []string      `long:"endpoint" description:"Attestation endpoint of a validator node as <identity>=<url>, can be repeated"`
	CallTimeout   time.Duration `long:"calltimeout" description:"Timeout of a single request to a validator"`
	BatchTimeout  time.Duration `long:"batchtimeout" description:"Timeout of collecting attestations for one claim"`
	RetryAttempts uint          `long:"retryattempts" description:"Number of attempts per validator"`
	RetryDelay    time.Duration `long:"retrydelay" description:"The initial delay between two attempts to the same validator"`
}

func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		CallTimeout:   defaultCallTimeout,
		BatchTimeout:  defaultBatchTimeout,
		RetryAttempts: defaultRetryAttempts,
		RetryDelay:    defaultRetryDelay,
	}
}

// ValidatorEndpoints maps each validator identity to its attestation
// endpoint.
func (cfg *CollectorConfig) ValidatorEndpoints() (map[types.PublicKey]string, error) {
	endpoints := make(map[types.PublicKey]string, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		id, rawURL, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("validator endpoint %s is not <identity>=<url>", e)
		}
		pk, err := types.NewPublicKeyFromBase58(id)
		if err != nil {
			return nil, fmt.Errorf("invalid validator endpoint %s: %w", e, err)
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid validator endpoint %s: %w", e, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("validator endpoint %s must be http or https", e)
		}
		if _, dup := endpoints[pk]; dup {
			return nil, fmt.Errorf("validator %s has more than one endpoint", pk)
		}
		endpoints[pk] = rawURL
	}
	return endpoints, nil
}

// EndpointFor formats a validator endpoint entry.
func EndpointFor(identity types.PublicKey, rawURL string) string {
	return identity.String() + "=" + rawURL
}

func (cfg *CollectorConfig) Validate() error {
	if _, err := cfg.ValidatorEndpoints(); err != nil {
		return err
	}
	if cfg.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	if cfg.BatchTimeout < cfg.CallTimeout {
		return fmt.Errorf("batch timeout %v is shorter than the call timeout %v", cfg.BatchTimeout, cfg.CallTimeout)
	}
	if cfg.RetryAttempts == 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	return nil
}
