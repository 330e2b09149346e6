package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, "127.0.0.1:9464", cfg.MetricsAddress)
	require.NotEmpty(t, cfg.DataDir)

	// The default must have been written to disk and reload cleanly.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadParsesGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
RPCAddress = "127.0.0.1:8645"
DataDir = "./data"

[[Genesis]]
Asset = "pay"
Address = "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a"
Balance = "10000"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Genesis, 1)

	allocs, err := cfg.GenesisAllocs()
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	require.Equal(t, "PAY", allocs[0].Asset)
	require.Equal(t, 0, allocs[0].Balance.Cmp(big.NewInt(10000)))
	require.Equal(t, byte(0x0A), allocs[0].Address[0])
}

func TestValidateRejectsBadEntries(t *testing.T) {
	base := Config{RPCAddress: "127.0.0.1:8645", DataDir: "./data"}

	cases := []struct {
		name    string
		account GenesisAccount
	}{
		{"bad asset", GenesisAccount{Asset: "p y", Address: "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a", Balance: "1"}},
		{"bad address", GenesisAccount{Asset: "PAY", Address: "nope", Balance: "1"}},
		{"zero balance", GenesisAccount{Asset: "PAY", Address: "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a", Balance: "0"}},
		{"garbage balance", GenesisAccount{Asset: "PAY", Address: "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a", Balance: "ten"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Genesis = []GenesisAccount{tc.account}
			require.Error(t, cfg.Validate())
		})
	}

	empty := Config{DataDir: "./data"}
	require.Error(t, empty.Validate())
}
