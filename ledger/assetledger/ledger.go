package assetledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInvalidAmount is returned for nil amounts.
	ErrInvalidAmount = errors.New("amount must be non-nil")
	// ErrInsufficientBalance is returned when an account cannot cover a debit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when a spender exceeds its approval.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrZeroAddress is returned when funds would be sent to the zero address.
	ErrZeroAddress = errors.New("zero address")
	// ErrSupplyOverflow is returned when a mint would overflow the total supply.
	ErrSupplyOverflow = errors.New("total supply overflow")
)

// TransferHook is invoked after a transfer has been applied, outside the ledger's lock.
// Hooks model receivers that run code when they are paid.
//
// A hook runs on the goroutine of whoever moved the funds, often a pool in the middle of an
// operation. Pass the hook's ctx to any call back into that pool: the pool recognises its own
// in-flight context and returns sharepool.ErrReentrantCall. A call made with a fresh context
// such as context.Background() is not recognised and deadlocks waiting for the pool.
type TransferHook func(ctx context.Context, from, to common.Address, amount *uint256.Int)

// Ledger is an in-memory balance store for a single fungible asset.
// It is safe for concurrent use.
type Ledger struct {
	address common.Address
	name    string
	symbol  string

	mu          sync.RWMutex
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	totalSupply *uint256.Int
	hooks       []TransferHook
}

// New creates an empty ledger identified by address.
func New(address common.Address, name, symbol string) *Ledger {
	return &Ledger{
		address:     address,
		name:        name,
		symbol:      symbol,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Name() string            { return l.name }
func (l *Ledger) Symbol() string          { return l.symbol }

// OnTransfer registers a hook run after every successful transfer.
func (l *Ledger) OnTransfer(hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Mint credits amount to an account out of thin air.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.totalSupply = supply
	l.credit(to, amount)
	return nil
}

// Approve sets the amount spender may move out of owner's account.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.Clone()
	return nil
}

// Allowance returns what spender may still move out of owner's account.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// BalanceOf returns a copy of the account's balance.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[account]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns a copy of the minted supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply.Clone()
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := l.transfer(nil, from, to, amount); err != nil {
		return err
	}
	l.notify(ctx, from, to, amount)
	return nil
}

// TransferFrom moves amount from one account to another on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if err := l.transfer(&spender, from, to, amount); err != nil {
		return err
	}
	l.notify(ctx, from, to, amount)
	return nil
}

func (l *Ledger) transfer(spender *common.Address, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Allowance is checked first, as transferFrom does on ERC-20 ledgers.
	var allowance *uint256.Int
	if spender != nil && *spender != from {
		allowance = l.allowances[from][*spender]
		if allowance == nil || allowance.Lt(amount) {
			return fmt.Errorf("%w: %s may not move %s from %s", ErrInsufficientAllowance, spender.Hex(), amount.Dec(), from.Hex())
		}
	}

	balance, ok := l.balances[from]
	if !ok || balance.Lt(amount) {
		have := new(uint256.Int)
		if ok {
			have = balance
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have.Dec(), amount.Dec())
	}

	if allowance != nil {
		allowance.Sub(allowance, amount)
	}
	balance.Sub(balance, amount)
	l.credit(to, amount)
	return nil
}

// credit must be called with the write lock held.
func (l *Ledger) credit(to common.Address, amount *uint256.Int) {
	if b, ok := l.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[to] = amount.Clone()
}

func (l *Ledger) notify(ctx context.Context, from, to common.Address, amount *uint256.Int) {
	l.mu.RLock()
	hooks := make([]TransferHook, len(l.hooks))
	copy(hooks, l.hooks)
	l.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, from, to, amount.Clone())
	}
}
