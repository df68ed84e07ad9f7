package config

import (
	"fmt"
	"net"
	"path/filepath"
)

const (
	defaultAttestorListener = "127.0.0.1:8090"
	defaultAttestorKeyName  = "validator"
	defaultKeyDirname       = "keys"
)

// AttestorConfig configures the validator side attestation service.
type AttestorConfig struct {
	Enabled  bool   `long:"enabled" description:"Run the attestation service of a validator node"`
	KeyName  string `long:"keyname" description:"The name of the validator key"`
	KeyDir   string `long:"keydir" description:"The directory the validator keys are stored in"`
	Listener string `long:"listener" description:"The address the attestation service listens on"`
}

func DefaultAttestorConfigWithHome(homePath string) AttestorConfig {
	return AttestorConfig{
		KeyName:  defaultAttestorKeyName,
		KeyDir:   KeyDir(homePath),
		Listener: defaultAttestorListener,
	}
}

func KeyDir(homePath string) string {
	return filepath.Join(homePath, defaultKeyDirname)
}

func (cfg *AttestorConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.KeyName == "" {
		return fmt.Errorf("the validator key name should not be empty")
	}
	if cfg.KeyDir == "" {
		return fmt.Errorf("the validator key directory should not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.Listener); err != nil {
		return fmt.Errorf("invalid attestor listener %s: %w", cfg.Listener, err)
	}
	return nil
}
