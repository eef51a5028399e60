package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config stores all configuration for the ethfill tool
type Config struct {
	// Executor is the external state transition tool
	Executor struct {
		Binary    string `yaml:"binary"`    // Path to an evm binary providing the t8n subcommand
		Server    string `yaml:"server"`    // URL of a t8n server; takes precedence over Binary
		JWTSecret string `yaml:"jwtSecret"` // Path to a hex JWT secret for the server
		Trace     bool   `yaml:"trace"`     // Collect EVM traces for diagnostics
		Timeout   int    `yaml:"timeout"`   // Per-invocation timeout in seconds
	} `yaml:"executor"`

	Fill struct {
		ChainID     uint64   `yaml:"chainId"`
		From        string   `yaml:"from"`        // First fork to fill for (inclusive)
		Until       string   `yaml:"until"`       // Last fork to fill for (inclusive)
		Formats     []string `yaml:"formats"`     // Fixture formats to emit
		Parallelism int      `yaml:"parallelism"` // Independent chains filled concurrently
	} `yaml:"fill"`

	Output struct {
		Dir                  string `yaml:"dir"`
		SingleFixturePerFile bool   `yaml:"singleFixturePerFile"`
	} `yaml:"output"`

	Log struct {
		Level string `yaml:"level"` // trace, debug, info, warn, error
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr"` // Listen address for /metrics; empty disables
	} `yaml:"metrics"`
}

// Known fixture format names.
const (
	FormatBlockchain       = "blockchain_test"
	FormatBlockchainEngine = "blockchain_test_engine"
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Executor.Binary = "evm"
	cfg.Executor.Timeout = 60

	cfg.Fill.ChainID = 1
	cfg.Fill.Formats = []string{FormatBlockchain, FormatBlockchainEngine}
	cfg.Fill.Parallelism = 4

	cfg.Output.Dir = "fixtures"

	cfg.Log.Level = "info"

	return cfg
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	configPath := os.Getenv("ETHFILL_CONFIG")
	if configPath == "" {
		configPath = "ethfill.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration at path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	if bin := os.Getenv("EVM_BIN"); bin != "" {
		cfg.Executor.Binary = bin
	}
	if dir := os.Getenv("ETHFILL_OUTPUT"); dir != "" {
		cfg.Output.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Executor.Binary == "" && c.Executor.Server == "" {
		return fmt.Errorf("executor: either binary or server must be set")
	}
	if c.Fill.Parallelism < 1 {
		return fmt.Errorf("fill: parallelism must be positive, got %d", c.Fill.Parallelism)
	}
	for _, f := range c.Fill.Formats {
		switch f {
		case FormatBlockchain, FormatBlockchainEngine:
		default:
			return fmt.Errorf("fill: unknown format %q", f)
		}
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	return nil
}

// EnsureOutputDir creates the fixture output directory.
func (c *Config) EnsureOutputDir() error {
	return os.MkdirAll(filepath.Clean(c.Output.Dir), 0755)
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(c)
}
