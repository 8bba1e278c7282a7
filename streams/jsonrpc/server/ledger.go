package server

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/defistate/sharepool-go/ledger/assetledger"
	"github.com/defistate/sharepool-go/ledger/shareledger"
	"github.com/defistate/sharepool-go/ledger/yieldsource"
)

// LedgerAPI exposes the in-memory ledgers behind a pool under the "ledger" namespace,
// so a served pool can be funded and exercised without a chain.
type LedgerAPI struct {
	assets *assetledger.Ledger
	shares *shareledger.Ledger
	source *yieldsource.Source
	logger Logger
}

func NewLedgerAPI(assets *assetledger.Ledger, shares *shareledger.Ledger, source *yieldsource.Source, logger Logger) *LedgerAPI {
	return &LedgerAPI{assets: assets, shares: shares, source: source, logger: logger}
}

// Mint credits amount of the underlying asset to account.
func (api *LedgerAPI) Mint(account common.Address, amount *math.HexOrDecimal256) (bool, error) {
	v, err := toAmount(amount)
	if err != nil {
		return false, rpcError(err)
	}
	if err := api.assets.Mint(account, v); err != nil {
		return false, err
	}
	api.logger.Debug("Minted assets", "account", account, "amount", v.Dec())
	return true, nil
}

// Approve sets the amount spender may pull from owner.
func (api *LedgerAPI) Approve(owner, spender common.Address, amount *math.HexOrDecimal256) (bool, error) {
	v, err := toAmount(amount)
	if err != nil {
		return false, rpcError(err)
	}
	if err := api.assets.Approve(owner, spender, v); err != nil {
		return false, err
	}
	return true, nil
}

func (api *LedgerAPI) Allowance(owner, spender common.Address) *hexutil.Big {
	return toBig(api.assets.Allowance(owner, spender))
}

func (api *LedgerAPI) BalanceOf(account common.Address) *hexutil.Big {
	return toBig(api.assets.BalanceOf(account))
}

func (api *LedgerAPI) ShareBalanceOf(ctx context.Context, holder common.Address) (*hexutil.Big, error) {
	b, err := api.shares.BalanceOf(ctx, holder)
	if err != nil {
		return nil, err
	}
	return toBig(b), nil
}

// Yield credits amount to the pool's custody without minting shares.
func (api *LedgerAPI) Yield(ctx context.Context, amount *math.HexOrDecimal256) (bool, error) {
	v, err := toAmount(amount)
	if err != nil {
		return false, rpcError(err)
	}
	if err := api.source.Yield(ctx, v); err != nil {
		return false, fmt.Errorf("yield: %w", err)
	}
	api.logger.Info("Yield injected", "custody", api.source.Address(), "amount", v.Dec())
	return true, nil
}
