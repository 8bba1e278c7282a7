package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of the sharepool binary.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"SHAREPOOL_LISTEN_ADDR"`
	LogLevel   string `yaml:"log_level" env:"SHAREPOOL_LOG_LEVEL"`

	// StreamBufferSize is the number of committed states queued per stream subscriber.
	StreamBufferSize uint `yaml:"stream_buffer_size" env:"SHAREPOOL_STREAM_BUFFER_SIZE"`

	// LedgerAPI exposes the in-memory ledgers under the "ledger" namespace.
	LedgerAPI bool `yaml:"ledger_api" env:"SHAREPOOL_LEDGER_API"`

	Pool     PoolConfig `yaml:"pool"`
	Accounts []Account  `yaml:"accounts"`
}

// PoolConfig wires one pool and its in-memory ledgers.
type PoolConfig struct {
	Address string       `yaml:"address"`
	Custody string       `yaml:"custody"`
	Asset   LedgerConfig `yaml:"asset"`
	Shares  LedgerConfig `yaml:"shares"`
}

type LedgerConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Symbol  string `yaml:"symbol"`
}

// Account is funded with Balance assets at startup and approves the pool for Allowance.
type Account struct {
	Address   string `yaml:"address"`
	Balance   string `yaml:"balance"`
	Allowance string `yaml:"allowance"`
}

// Default returns a configuration that serves a fresh pool on localhost.
func Default() *Config {
	return &Config{
		ListenAddr:       "127.0.0.1:8545",
		LogLevel:         "info",
		StreamBufferSize: 100,
		Pool: PoolConfig{
			Address: "0x00000000000000000000000000000000000000e1",
			Custody: "0x00000000000000000000000000000000000000c1",
			Asset: LedgerConfig{
				Address: "0x00000000000000000000000000000000000000a0",
				Name:    "Tokens",
				Symbol:  "TKN",
			},
			Shares: LedgerConfig{
				Address: "0x00000000000000000000000000000000000000e0",
				Name:    "TicketTokens",
				Symbol:  "TTT",
			},
		},
	}
}

// Load reads the yaml file at path over the defaults, then applies environment overrides.
// A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.StreamBufferSize < 1 {
		return errors.New("config: stream_buffer_size must be greater than 0")
	}

	seen := make(map[common.Address]string)
	for field, s := range map[string]string{
		"pool.address":        c.Pool.Address,
		"pool.custody":        c.Pool.Custody,
		"pool.asset.address":  c.Pool.Asset.Address,
		"pool.shares.address": c.Pool.Shares.Address,
	} {
		addr, err := ParseAddress(s)
		if err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
		if other, dup := seen[addr]; dup {
			return fmt.Errorf("config: %s and %s must differ", field, other)
		}
		seen[addr] = field
	}

	for i, acct := range c.Accounts {
		if _, err := ParseAddress(acct.Address); err != nil {
			return fmt.Errorf("config: accounts[%d].address: %w", i, err)
		}
		if _, err := ParseAmount(acct.Balance); err != nil {
			return fmt.Errorf("config: accounts[%d].balance: %w", i, err)
		}
		if _, err := ParseAmount(acct.Allowance); err != nil {
			return fmt.Errorf("config: accounts[%d].allowance: %w", i, err)
		}
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// ParseAddress parses a non-zero hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("zero address")
	}
	return addr, nil
}

// ParseAmount parses a decimal or 0x-prefixed hex amount. Empty means zero.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return new(uint256.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}
