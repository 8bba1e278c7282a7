package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeFile(t, "config.yaml", `
listen_addr: ":9000"
log_level: debug
ledger_api: true
pool:
  asset:
    name: Gold
accounts:
  - address: "0x0000000000000000000000000000000000000001"
    balance: "1_000"
    allowance: "0x3e8"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.True(t, cfg.LedgerAPI)
		assert.Equal(t, "Gold", cfg.Pool.Asset.Name)
		assert.Equal(t, Default().Pool.Asset.Address, cfg.Pool.Asset.Address)
		require.Len(t, cfg.Accounts, 1)

		level, err := cfg.SlogLevel()
		require.NoError(t, err)
		assert.Equal(t, slog.LevelDebug, level)
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "listen_addr: \":9000\"\n")
		t.Setenv("SHAREPOOL_LISTEN_ADDR", ":7000")
		t.Setenv("SHAREPOOL_LOG_LEVEL", "warn")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.ListenAddr)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			errMsg  string
		}{
			{"BadYAML", "listen_addr: [", "failed to parse config"},
			{"LogLevel", "log_level: loud", "config: log_level"},
			{"BufferSize", "stream_buffer_size: 0", "stream_buffer_size"},
			{"PoolAddress", "pool:\n  address: nope", "config: pool.address"},
			{"SharedAddress", "pool:\n  custody: \"0x00000000000000000000000000000000000000e1\"", "must differ"},
			{"AccountBalance", "accounts:\n  - address: \"0x0000000000000000000000000000000000000001\"\n    balance: \"-1\"", "accounts[0].balance"},
			{"AccountAddress", "accounts:\n  - address: \"0x0000000000000000000000000000000000000000\"", "accounts[0].address"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := Load(writeFile(t, "config.yaml", tc.content))
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
			})
		}
	})
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"", "0", false},
		{"150", "150", false},
		{"1_000_000", "1000000", false},
		{"0x96", "150", false},
		{"-5", "", true},
		{"ten", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Dec())
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := writeFile(t, "scenario.yaml", `
steps:
  - action: deposit
    from: "0x0000000000000000000000000000000000000001"
    amount: "50"
  - action: yield
    amount: "150"
  - action: withdraw
    holder: "0x0000000000000000000000000000000000000001"
    amount: "50"
    expect_error: ""
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, ActionYield, s.Steps[1].Action)

	_, err = LoadScenario(writeFile(t, "bad.yaml", "steps:\n  - action: burn\n    amount: \"1\"\n"))
	assert.ErrorContains(t, err, `unknown action "burn"`)

	_, err = LoadScenario(writeFile(t, "bad.yaml", "steps:\n  - action: withdraw\n    amount: \"1\"\n"))
	assert.ErrorContains(t, err, "steps[0].holder")

	_, err = LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario")
}
