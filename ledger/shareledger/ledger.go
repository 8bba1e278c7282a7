package shareledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrUnauthorizedController is returned when anyone but the registered controller mints or burns.
	ErrUnauthorizedController = errors.New("caller is not the share controller")
	// ErrInvalidAmount is returned for nil amounts.
	ErrInvalidAmount = errors.New("amount must be non-nil")
	// ErrInsufficientShares is returned when a burn exceeds the holder's balance.
	ErrInsufficientShares = errors.New("burn amount exceeds balance")
	// ErrSupplyOverflow is returned when a mint would overflow the total supply.
	ErrSupplyOverflow = errors.New("total supply overflow")
)

// Ledger tracks per-holder share balances. Mutation is gated on a single controller
// identity fixed at construction. It is safe for concurrent use.
type Ledger struct {
	address    common.Address
	name       string
	symbol     string
	controller common.Address

	mu          sync.RWMutex
	balances    map[common.Address]*uint256.Int
	totalSupply *uint256.Int
}

// New creates an empty share ledger whose only authorized mutator is controller.
func New(address common.Address, name, symbol string, controller common.Address) *Ledger {
	return &Ledger{
		address:     address,
		name:        name,
		symbol:      symbol,
		controller:  controller,
		balances:    make(map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

func (l *Ledger) Address() common.Address    { return l.address }
func (l *Ledger) Name() string               { return l.name }
func (l *Ledger) Symbol() string             { return l.symbol }
func (l *Ledger) Controller() common.Address { return l.controller }

// Mint credits shares to a holder. caller must be the controller.
func (l *Ledger) Mint(_ context.Context, caller, to common.Address, amount *uint256.Int) error {
	if caller != l.controller {
		return fmt.Errorf("%w: %s", ErrUnauthorizedController, caller.Hex())
	}
	if amount == nil {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.totalSupply = supply
	if b, ok := l.balances[to]; ok {
		b.Add(b, amount)
	} else {
		l.balances[to] = amount.Clone()
	}
	return nil
}

// Burn destroys shares held by from. caller must be the controller.
func (l *Ledger) Burn(_ context.Context, caller, from common.Address, amount *uint256.Int) error {
	if caller != l.controller {
		return fmt.Errorf("%w: %s", ErrUnauthorizedController, caller.Hex())
	}
	if amount == nil {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[from]
	if !ok || balance.Lt(amount) {
		if !ok && amount.IsZero() {
			return nil
		}
		return fmt.Errorf("%w: %s burning %s", ErrInsufficientShares, from.Hex(), amount.Dec())
	}
	balance.Sub(balance, amount)
	l.totalSupply.Sub(l.totalSupply, amount)
	if balance.IsZero() {
		delete(l.balances, from)
	}
	return nil
}

// BalanceOf returns a copy of the holder's share balance.
func (l *Ledger) BalanceOf(_ context.Context, holder common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[holder]; ok {
		return b.Clone(), nil
	}
	return new(uint256.Int), nil
}

// TotalSupply returns a copy of the outstanding share supply.
func (l *Ledger) TotalSupply(_ context.Context) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply.Clone(), nil
}

// Holders returns the number of accounts with a non-zero balance.
func (l *Ledger) Holders() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}
