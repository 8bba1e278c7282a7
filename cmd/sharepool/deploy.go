package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/sharepool-go/cmd/sharepool/config"
	"github.com/defistate/sharepool-go/ledger/assetledger"
	"github.com/defistate/sharepool-go/ledger/shareledger"
	"github.com/defistate/sharepool-go/ledger/yieldsource"
	"github.com/defistate/sharepool-go/protocols/sharepool"
)

// deployment is a pool wired to fresh in-memory ledgers.
type deployment struct {
	assets   *assetledger.Ledger
	shares   *shareledger.Ledger
	source   *yieldsource.Source
	pool     *sharepool.Pool
	accounts []common.Address
}

// deploy creates the ledgers described by cfg, funds the configured accounts, and
// constructs a pool that controls the share ledger.
func deploy(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*deployment, error) {
	// Addresses were checked by config validation.
	poolAddr, _ := config.ParseAddress(cfg.Pool.Address)
	custody, _ := config.ParseAddress(cfg.Pool.Custody)
	assetAddr, _ := config.ParseAddress(cfg.Pool.Asset.Address)
	sharesAddr, _ := config.ParseAddress(cfg.Pool.Shares.Address)

	d := &deployment{
		assets: assetledger.New(assetAddr, cfg.Pool.Asset.Name, cfg.Pool.Asset.Symbol),
		shares: shareledger.New(sharesAddr, cfg.Pool.Shares.Name, cfg.Pool.Shares.Symbol, poolAddr),
	}
	d.source = yieldsource.New(custody, d.assets)

	for _, acct := range cfg.Accounts {
		addr, _ := config.ParseAddress(acct.Address)
		balance, _ := config.ParseAmount(acct.Balance)
		allowance, _ := config.ParseAmount(acct.Allowance)

		if !balance.IsZero() {
			if err := d.assets.Mint(addr, balance); err != nil {
				return nil, fmt.Errorf("failed to fund %s: %w", addr.Hex(), err)
			}
		}
		if err := d.assets.Approve(addr, poolAddr, allowance); err != nil {
			return nil, fmt.Errorf("failed to approve pool for %s: %w", addr.Hex(), err)
		}
		d.accounts = append(d.accounts, addr)
	}

	pool, err := sharepool.New(ctx, sharepool.Config{
		Address:  poolAddr,
		Assets:   d.source.Custody(poolAddr),
		Shares:   d.shares,
		Yield:    d.source,
		Logger:   logger.With("component", "sharepool"),
		Registry: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	d.pool = pool

	logger.Info("Pool deployed",
		"pool", poolAddr,
		"asset", fmt.Sprintf("%s (%s)", d.assets.Name(), d.assets.Symbol()),
		"shares", fmt.Sprintf("%s (%s)", d.shares.Name(), d.shares.Symbol()),
		"custody", custody,
		"accounts", len(d.accounts),
	)
	return d, nil
}
