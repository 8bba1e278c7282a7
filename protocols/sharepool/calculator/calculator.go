package calculator

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// WAD is the fixed-point scale used when reporting an exchange rate (1e18 == 1 asset per share).
	WAD = uint256.NewInt(1_000_000_000_000_000_000)

	// ErrNilAmount is returned when a nil pointer is passed for an amount or a pool total.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrEmptyPool is returned when shares are redeemed against a pool with no shares outstanding.
	ErrEmptyPool = errors.New("pool has no shares outstanding")
	// ErrExceedsSupply is returned when more shares are redeemed than exist.
	ErrExceedsSupply = errors.New("share amount exceeds total shares")
	// ErrInvalidState is returned when shares are outstanding but the pool holds no assets.
	ErrInvalidState = errors.New("invalid internal state")
	// ErrOverflow is returned when a conversion result does not fit in 256 bits.
	ErrOverflow = errors.New("conversion overflow")
)

// SharesForDeposit returns the number of shares minted for depositing assets into a pool
// with the given totals, measured before the deposit is counted.
//
// An empty pool mints 1:1. Otherwise shares = floor(assets * totalShares / totalPooled);
// the product is computed at 512 bits so it cannot wrap.
func SharesForDeposit(assets, totalShares, totalPooled *uint256.Int) (*uint256.Int, error) {
	if assets == nil || totalShares == nil || totalPooled == nil {
		return nil, ErrNilAmount
	}
	if totalShares.IsZero() {
		return assets.Clone(), nil
	}
	if totalPooled.IsZero() {
		return nil, fmt.Errorf("%w: %s shares outstanding against zero pooled assets", ErrInvalidState, totalShares.Dec())
	}

	shares, overflow := new(uint256.Int).MulDivOverflow(assets, totalShares, totalPooled)
	if overflow {
		return nil, fmt.Errorf("%w: shares for deposit of %s", ErrOverflow, assets.Dec())
	}
	return shares, nil
}

// AssetsForWithdraw returns the assets paid out for redeeming shares at the current rate:
// floor(shares * totalPooled / totalShares).
func AssetsForWithdraw(shares, totalShares, totalPooled *uint256.Int) (*uint256.Int, error) {
	if shares == nil || totalShares == nil || totalPooled == nil {
		return nil, ErrNilAmount
	}
	if totalShares.IsZero() {
		return nil, ErrEmptyPool
	}
	if shares.Gt(totalShares) {
		return nil, fmt.Errorf("%w: requested %s of %s", ErrExceedsSupply, shares.Dec(), totalShares.Dec())
	}
	if totalPooled.IsZero() {
		return nil, fmt.Errorf("%w: %s shares outstanding against zero pooled assets", ErrInvalidState, totalShares.Dec())
	}

	// shares <= totalShares, so the quotient is bounded by totalPooled and cannot overflow.
	assets, _ := new(uint256.Int).MulDivOverflow(shares, totalPooled, totalShares)
	return assets, nil
}

// ExchangeRate returns assetsPerShare scaled by WAD. The bootstrap rate of an empty pool is 1.
func ExchangeRate(totalShares, totalPooled *uint256.Int) (*uint256.Int, error) {
	if totalShares == nil || totalPooled == nil {
		return nil, ErrNilAmount
	}
	if totalShares.IsZero() {
		return WAD.Clone(), nil
	}
	rate, overflow := new(uint256.Int).MulDivOverflow(totalPooled, WAD, totalShares)
	if overflow {
		return nil, fmt.Errorf("%w: exchange rate", ErrOverflow)
	}
	return rate, nil
}

// RedeemableValue returns floor(totalShares * assetsPerShare) without going through the scaled
// rate, i.e. the total the pool would owe if every holder redeemed at once.
func RedeemableValue(totalShares, totalPooled *uint256.Int) (*uint256.Int, error) {
	if totalShares == nil || totalPooled == nil {
		return nil, ErrNilAmount
	}
	if totalShares.IsZero() {
		return new(uint256.Int), nil
	}
	return AssetsForWithdraw(totalShares, totalShares, totalPooled)
}
