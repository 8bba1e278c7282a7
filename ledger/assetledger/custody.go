package assetledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custody binds a ledger to a single custody account and the spender allowed to pull
// deposits into it. It is the asset store a pool moves value through.
type Custody struct {
	ledger  *Ledger
	account common.Address
	spender common.Address
}

// NewCustody returns a custody adapter for account. Deposits are pulled from depositors
// with TransferFrom on behalf of spender, so depositors must approve spender first.
func NewCustody(ledger *Ledger, account, spender common.Address) *Custody {
	return &Custody{ledger: ledger, account: account, spender: spender}
}

// Asset is the address of the underlying ledger.
func (c *Custody) Asset() common.Address { return c.ledger.Address() }

// Account is the custody account.
func (c *Custody) Account() common.Address { return c.account }

// TransferIn pulls amount from a depositor into custody.
func (c *Custody) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return c.ledger.TransferFrom(ctx, c.spender, from, c.account, amount)
}

// TransferOut pays amount out of custody.
func (c *Custody) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return c.ledger.Transfer(ctx, c.account, to, amount)
}

// BalanceOf reports any account's balance on the underlying ledger.
func (c *Custody) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	return c.ledger.BalanceOf(account), nil
}
