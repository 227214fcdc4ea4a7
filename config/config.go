package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the file-backed configuration for the lendmesh daemon.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	RegistryDSN     string `toml:"RegistryDSN"`
	NetworkName     string `toml:"NetworkName"`
	Environment     string `toml:"Environment"`
	FeeRecipient    string `toml:"FeeRecipient"`
	RateLimitPerMin int    `toml:"RateLimitPerMin"`
	AuthEnabled     bool   `toml:"AuthEnabled"`
	AuthSecretEnv   string `toml:"AuthSecretEnv"`
	PoRHeartbeatSec int    `toml:"PoRHeartbeatSeconds"`
}

const (
	defaultListenAddress   = ":8445"
	defaultDataDir         = "./lendmesh-data"
	defaultNetworkName     = "lendmesh-local"
	defaultRateLimitPerMin = 120
	defaultAuthSecretEnv   = "LENDMESH_AUTH_SECRET"
	defaultPoRHeartbeatSec = 3600
)

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.RegistryDSN) == "" {
		cfg.RegistryDSN = filepath.Join(cfg.DataDir, "registry.db")
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaultNetworkName
	}
	if cfg.RateLimitPerMin == 0 {
		cfg.RateLimitPerMin = defaultRateLimitPerMin
	}
	if strings.TrimSpace(cfg.AuthSecretEnv) == "" {
		cfg.AuthSecretEnv = defaultAuthSecretEnv
	}
	if cfg.PoRHeartbeatSec == 0 {
		cfg.PoRHeartbeatSec = defaultPoRHeartbeatSec
	}
}

// Validate ensures the configuration is internally consistent.
func (cfg *Config) Validate() error {
	if cfg.RateLimitPerMin < 0 {
		return fmt.Errorf("rate limit per minute must be non-negative")
	}
	if cfg.PoRHeartbeatSec < 0 {
		return fmt.Errorf("proof-of-reserve heartbeat must be non-negative")
	}
	if cfg.AuthEnabled && strings.TrimSpace(os.Getenv(cfg.AuthSecretEnv)) == "" {
		return fmt.Errorf("auth enabled but %s is not set", cfg.AuthSecretEnv)
	}
	return nil
}

// AuthSecret resolves the JWT signing secret from the configured environment
// variable. Secrets never live in the config file itself.
func (cfg *Config) AuthSecret() string {
	return strings.TrimSpace(os.Getenv(cfg.AuthSecretEnv))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
