package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"paystream/core"
	"paystream/native/stream"
)

// GenesisAccount seeds a token balance at first start.
type GenesisAccount struct {
	Asset   string `toml:"Asset"`
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress     string           `toml:"RPCAddress"`
	MetricsAddress string           `toml:"MetricsAddress"`
	DataDir        string           `toml:"DataDir"`
	NetworkName    string           `toml:"NetworkName"`
	Environment    string           `toml:"Environment"`
	LogFile        string           `toml:"LogFile"`
	Genesis        []GenesisAccount `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     "127.0.0.1:8645",
		MetricsAddress: "127.0.0.1:9464",
		DataDir:        "./paystream-data",
		NetworkName:    "paystream-local",
		Environment:    "dev",
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks addresses, balances and listen addresses for obvious
// misconfiguration before the node starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	for i, account := range c.Genesis {
		if _, err := stream.NormalizeAsset(account.Asset); err != nil {
			return fmt.Errorf("genesis entry %d: %w", i, err)
		}
		if !common.IsHexAddress(strings.TrimSpace(account.Address)) {
			return fmt.Errorf("genesis entry %d: invalid address %q", i, account.Address)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(account.Balance), 10)
		if !ok || balance.Sign() <= 0 {
			return fmt.Errorf("genesis entry %d: invalid balance %q", i, account.Balance)
		}
	}
	return nil
}

// GenesisAllocs converts the configured genesis accounts into allocations
// the node can apply.
func (c *Config) GenesisAllocs() ([]core.GenesisAlloc, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	allocs := make([]core.GenesisAlloc, 0, len(c.Genesis))
	for _, account := range c.Genesis {
		asset, err := stream.NormalizeAsset(account.Asset)
		if err != nil {
			return nil, err
		}
		balance, _ := new(big.Int).SetString(strings.TrimSpace(account.Balance), 10)
		allocs = append(allocs, core.GenesisAlloc{
			Asset:   asset,
			Address: common.HexToAddress(strings.TrimSpace(account.Address)),
			Balance: balance,
		})
	}
	return allocs, nil
}
