package server

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"

	"github.com/defistate/sharepool-go/differ"
	"github.com/defistate/sharepool-go/engine"
	"github.com/defistate/sharepool-go/protocols/sharepool"
)

const (
	// Namespace is the namespace under which the pool API is registered.
	Namespace = "pool"
	// LedgerNamespace is the namespace of the development ledger API.
	LedgerNamespace = "ledger"

	StateStreamSubscriptionMethod = "subscribeStateStream"

	EventTypeFull = "full"
	EventTypeDiff = "diff"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pool is the engine surface served over JSON-RPC.
type Pool interface {
	DepositTo(ctx context.Context, depositor, beneficiary common.Address, assets *uint256.Int) (*uint256.Int, error)
	WithdrawFrom(ctx context.Context, holder common.Address, shares *uint256.Int) (*uint256.Int, error)
	UserRecord(holder common.Address) sharepool.UserRecord
	TotalValueLocked(ctx context.Context) (*uint256.Int, error)
	IsController(shareLedger common.Address) bool
	ExchangeRate(ctx context.Context) (*uint256.Int, error)
	PreviewDeposit(ctx context.Context, assets *uint256.Int) (*uint256.Int, error)
	PreviewWithdraw(ctx context.Context, shares *uint256.Int) (*uint256.Int, error)
	Snapshot(ctx context.Context) (*engine.State, error)
	SnapshotAndSubscribe(ctx context.Context, ch chan<- *engine.State) (*engine.State, event.Subscription, error)
	Verify(ctx context.Context) error
}

// StateDiffer turns consecutive states into stream diffs.
type StateDiffer interface {
	Diff(old, new *engine.State) (*differ.StateDiff, error)
}

// SubscriptionEvent is the wrapper object sent to stream subscribers.
// Payload is an engine.State for "full" events and a differ.StateDiff for "diff" events.
type SubscriptionEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	SentAt  int64  `json:"sentAt"`
}

// UserRecord is the wire form of sharepool.UserRecord.
type UserRecord struct {
	Owner  common.Address `json:"owner"`
	Shares *hexutil.Big   `json:"shares"`
}
