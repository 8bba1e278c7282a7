package yieldsource

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/sharepool-go/ledger/assetledger"
)

// ErrInvalidAmount is returned when yield is injected with a nil or zero amount.
var ErrInvalidAmount = errors.New("yield amount must be positive")

// Source is a yield-bearing custody account. Everything held by the account on the
// asset ledger belongs to the pool, including yield credited to it.
type Source struct {
	account common.Address
	assets  *assetledger.Ledger
}

// New returns a yield source whose custody account is account.
func New(account common.Address, assets *assetledger.Ledger) *Source {
	return &Source{account: account, assets: assets}
}

// Address is the custody account.
func (s *Source) Address() common.Address { return s.account }

// Asset is the address of the underlying asset ledger.
func (s *Source) Asset() common.Address { return s.assets.Address() }

// TotalPooledAssets reports the custody balance.
func (s *Source) TotalPooledAssets(_ context.Context) (*uint256.Int, error) {
	return s.assets.BalanceOf(s.account), nil
}

// Yield credits newly earned assets to custody without touching any share balance.
func (s *Source) Yield(_ context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return s.assets.Mint(s.account, amount)
}

// Custody returns the asset store through which spender moves value in and out of custody.
func (s *Source) Custody(spender common.Address) *assetledger.Custody {
	return assetledger.NewCustody(s.assets, s.account, spender)
}
