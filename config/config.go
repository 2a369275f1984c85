package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tipjar/crypto"
	"tipjar/native/tipjar"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress           string         `toml:"RPCAddress"`
	DataDir              string         `toml:"DataDir"`
	ProgramID            string         `toml:"ProgramID"`
	OperatorKeystorePath string         `toml:"OperatorKeystorePath"`
	Rent                 Rent           `toml:"rent"`
	Runtime              Runtime        `toml:"runtime"`
	Faucet               Faucet         `toml:"faucet"`
	Genesis              []GenesisAlloc `toml:"genesis"`
	RPC                  RPC            `toml:"rpc"`
	Telemetry            Telemetry      `toml:"telemetry"`
	Logging              Logging        `toml:"logging"`
}

const (
	defaultRPCAddress      = ":8899"
	defaultDataDir         = "./tipjar-data"
	defaultParallelism     = 4
	defaultLockTimeoutMs   = 5_000
	defaultOperatorBalance = 1_000_000_000_000
	defaultRPCPerMinute    = 600
	defaultRPCBurst        = 50
)

var errMissingPassphrase = errors.New("config: keystore passphrase required to create the operator key")

type loadOptions struct {
	passphrase func() (string, error)
	light      bool
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithKeystorePassphrase sets the passphrase used to encrypt a generated
// operator key.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = func() (string, error) { return passphrase, nil }
	}
}

// WithKeystorePassphraseSource defers reading the passphrase until a key
// actually has to be generated.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) { o.passphrase = source }
}

// WithLightKeystore encrypts generated keys with the light scrypt parameters.
func WithLightKeystore() LoadOption {
	return func(o *loadOptions) { o.light = true }
}

// Load loads the configuration from the given path, creating a default file
// and operator keystore when it does not exist.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.ProgramID) == "" {
		cfg.ProgramID = tipjar.DefaultProgramID.String()
	}
	if cfg.Runtime.Parallelism <= 0 {
		cfg.Runtime.Parallelism = defaultParallelism
	}
	if cfg.Runtime.LockTimeoutMs <= 0 {
		cfg.Runtime.LockTimeoutMs = defaultLockTimeoutMs
	}
	if cfg.RPC.RequestsPerMinute > 0 && cfg.RPC.Burst <= 0 {
		cfg.RPC.Burst = defaultRPCBurst
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []GenesisAlloc{}
	}
}

// createDefault creates and saves a default configuration file together with
// an operator key funded at genesis.
func createDefault(path string, options loadOptions) (*Config, error) {
	if options.passphrase == nil {
		return nil, errMissingPassphrase
	}
	passphrase, err := options.passphrase()
	if err != nil {
		return nil, fmt.Errorf("config: keystore passphrase: %w", err)
	}
	if passphrase == "" {
		return nil, errMissingPassphrase
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	save := crypto.SaveToKeystore
	if options.light {
		save = crypto.SaveToKeystoreLight
	}
	if err := save(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:           defaultRPCAddress,
		DataDir:              defaultDataDir,
		ProgramID:            tipjar.DefaultProgramID.String(),
		OperatorKeystorePath: keystorePath,
		Rent: Rent{
			LamportsPerByteYear: 3480,
			ExemptionYears:      2,
		},
		Runtime: Runtime{
			Parallelism:   defaultParallelism,
			LockTimeoutMs: defaultLockTimeoutMs,
		},
		RPC: RPC{
			RequestsPerMinute: defaultRPCPerMinute,
			Burst:             defaultRPCBurst,
		},
		Faucet: Faucet{
			Enabled:            true,
			MaxLamports:        5_000_000_000,
			RequestsPerMinute:  60,
			Burst:              10,
			QuotaRequests:      10,
			QuotaLamports:      20_000_000_000,
			QuotaWindowSeconds: 3600,
		},
		Genesis: []GenesisAlloc{{
			Address:  key.Address().String(),
			Lamports: defaultOperatorBalance,
		}},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
