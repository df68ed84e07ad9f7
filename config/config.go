package config

import (
	"fmt"
	"net"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"

	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/util"
)

const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "bridged.log"
	defaultConfigFileName = "bridged.conf"
	defaultDataDirname    = "data"
	DefaultAPIPort        = 8080
)

var (
	//   C:\Users\<username>\AppData\Local\ on Windows
	//   ~/.bridged on Linux
	//   ~/Users/<username>/Library/Application Support/Bridged on MacOS
	DefaultBridgedDir = btcutil.AppDataDir("bridged", false)

	DefaultAPIListener = fmt.Sprintf("127.0.0.1:%d", DefaultAPIPort)
)

// Config is the main config of the bridged daemon.
type Config struct {
	LogLevel    string `long:"loglevel" description:"Logging level for all subsystems" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal"`
	LogFormat   string `long:"logformat" description:"Format of the log lines" choice:"auto" choice:"console" choice:"json" choice:"logfmt"`
	APIListener string `long:"apilistener" description:"The listener of the REST API, e.g., 127.0.0.1:8080"`

	DatabaseConfig *DBConfig `group:"dbconfig" namespace:"dbconfig"`

	VerifierConfig *VerifierConfig `group:"verifier" namespace:"verifier"`

	CollectorConfig *CollectorConfig `group:"collector" namespace:"collector"`

	RegistryConfig *RegistryConfig `group:"registry" namespace:"registry"`

	MintConfig *MintConfig `group:"mint" namespace:"mint"`

	SourceConfig *SourceConfig `group:"source" namespace:"source"`

	AttestorConfig *AttestorConfig `group:"attestor" namespace:"attestor"`

	Metrics *metrics.Config `group:"metrics" namespace:"metrics"`
}

func DefaultConfigWithHome(homePath string) Config {
	dbCfg := DefaultDBConfigWithHomePath(homePath)
	verifierCfg := DefaultVerifierConfig()
	collectorCfg := DefaultCollectorConfig()
	registryCfg := DefaultRegistryConfig()
	mintCfg := DefaultMintConfig()
	sourceCfg := DefaultSourceConfig()
	attestorCfg := DefaultAttestorConfigWithHome(homePath)
	cfg := Config{
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
		APIListener:     DefaultAPIListener,
		DatabaseConfig:  &dbCfg,
		VerifierConfig:  &verifierCfg,
		CollectorConfig: &collectorCfg,
		RegistryConfig:  &registryCfg,
		MintConfig:      &mintCfg,
		SourceConfig:    &sourceCfg,
		AttestorConfig:  &attestorCfg,
		Metrics:         metrics.DefaultConfig(),
	}

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	return cfg
}

func DefaultConfig() Config {
	return DefaultConfigWithHome(DefaultBridgedDir)
}

func ConfigFile(homePath string) string {
	return filepath.Join(homePath, defaultConfigFileName)
}

func LogDir(homePath string) string {
	return filepath.Join(homePath, defaultLogDirname)
}

func LogFile(homePath string) string {
	return filepath.Join(LogDir(homePath), defaultLogFilename)
}

func DataDir(homePath string) string {
	return filepath.Join(homePath, defaultDataDirname)
}

// LoadConfig parses the config file of the home directory and validates it.
func LoadConfig(homePath string) (*Config, error) {
	cfgFile := ConfigFile(homePath)
	if !util.FileExists(cfgFile) {
		return nil, fmt.Errorf("specified config file does not exist in %s", cfgFile)
	}

	var cfg Config
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(cfgFile)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteConfig writes the config as an ini file to the home directory.
func WriteConfig(homePath string, cfg *Config) error {
	if err := util.MakeDirectory(homePath); err != nil {
		return err
	}
	fileParser := flags.NewParser(cfg, flags.Default)
	return flags.NewIniParser(fileParser).WriteFile(ConfigFile(homePath), flags.IniIncludeComments|flags.IniIncludeDefaults)
}

// Validate checks the given configuration to be sane. This makes sure no
// illegal values or combination of values are set.
func (cfg *Config) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", cfg.APIListener); err != nil {
		return fmt.Errorf("invalid API listener address %s, %w", cfg.APIListener, err)
	}

	if cfg.DatabaseConfig == nil || cfg.VerifierConfig == nil || cfg.CollectorConfig == nil ||
		cfg.RegistryConfig == nil || cfg.MintConfig == nil || cfg.SourceConfig == nil ||
		cfg.AttestorConfig == nil || cfg.Metrics == nil {
		return fmt.Errorf("incomplete config")
	}

	if err := cfg.DatabaseConfig.Validate(); err != nil {
		return fmt.Errorf("invalid db config: %w", err)
	}
	if err := cfg.VerifierConfig.Validate(); err != nil {
		return fmt.Errorf("invalid verifier config: %w", err)
	}
	if err := cfg.CollectorConfig.Validate(); err != nil {
		return fmt.Errorf("invalid collector config: %w", err)
	}
	if err := cfg.RegistryConfig.Validate(); err != nil {
		return fmt.Errorf("invalid registry config: %w", err)
	}
	if err := cfg.MintConfig.Validate(); err != nil {
		return fmt.Errorf("invalid mint config: %w", err)
	}
	if err := cfg.SourceConfig.Validate(); err != nil {
		return fmt.Errorf("invalid source config: %w", err)
	}
	if err := cfg.AttestorConfig.Validate(); err != nil {
		return fmt.Errorf("invalid attestor config: %w", err)
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}
