package sharepool

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrInvalidAmount is returned for nil, zero, or otherwise unusable quantities. No state changes.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidAccount is returned when an operation names the zero address.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrInsufficientShares is returned when a withdrawal exceeds the holder's shares. No state changes.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrTransferFailed is returned when the asset store refuses to move funds. No state changes.
	ErrTransferFailed = errors.New("asset transfer failed")
	// ErrUnauthorizedController is returned when the pool is not the share ledger's controller.
	// It is a wiring fault and is never retried.
	ErrUnauthorizedController = errors.New("pool is not the share ledger controller")
	// ErrInvariantViolation is returned when pool accounting would become unsound,
	// including overflow in rate arithmetic. The operation is aborted.
	ErrInvariantViolation = errors.New("pool invariant violation")
	// ErrReentrantCall is returned when a collaborator calls back into the pool
	// while an operation on the same pool is in flight.
	ErrReentrantCall = errors.New("reentrant call")
	// ErrSubscriberTooSlow closes a state subscription whose channel was full when a
	// state was published.
	ErrSubscriberTooSlow = errors.New("state subscriber fell behind")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AssetStore moves the underlying asset in and out of the pool's custody.
type AssetStore interface {
	// Asset identifies the underlying asset.
	Asset() common.Address
	// TransferIn pulls amount from an account into custody.
	TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error
	// TransferOut pays amount out of custody to an account.
	TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// ShareLedger holds share balances. Mint and Burn must reject any caller other than Controller().
type ShareLedger interface {
	Address() common.Address
	Controller() common.Address
	Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, caller, from common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
}

// YieldSource reports everything the pool economically owns, yield included.
type YieldSource interface {
	TotalPooledAssets(ctx context.Context) (*uint256.Int, error)
}

// UserRecord is the pool's bookkeeping for one depositor. A record with zero shares is
// equivalent to no record at all.
type UserRecord struct {
	Owner  common.Address `json:"owner"`
	Shares *uint256.Int   `json:"shares"`
}

// Config holds the fixed wiring of a pool.
type Config struct {
	// Address is the pool's identity and the credential it presents to the share ledger.
	Address common.Address
	Assets  AssetStore
	Shares  ShareLedger
	Yield   YieldSource

	// Holders lists accounts that already hold shares when the pool is constructed over a
	// non-empty share ledger. Their records are loaded eagerly.
	Holders []common.Address

	Logger   Logger
	Registry prometheus.Registerer
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Assets == nil {
		return errors.New("config: Assets is required")
	}
	if c.Shares == nil {
		return errors.New("config: Shares is required")
	}
	if c.Yield == nil {
		return errors.New("config: Yield is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	return nil
}
