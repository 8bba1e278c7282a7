package server

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/defistate/sharepool-go/engine"
	"github.com/defistate/sharepool-go/protocols/sharepool"
)

// Config holds the dependencies of the pool API.
type Config struct {
	Pool   Pool
	Differ StateDiffer
	Logger Logger
	// BufferSize is the number of committed states queued per stream subscriber.
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Pool == nil {
		return errors.New("config: Pool is required")
	}
	if c.Differ == nil {
		return errors.New("config: Differ is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	return nil
}

// PoolAPI exposes a pool under the "pool" namespace.
type PoolAPI struct {
	pool       Pool
	differ     StateDiffer
	logger     Logger
	bufferSize uint
}

func NewPoolAPI(cfg Config) (*PoolAPI, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PoolAPI{
		pool:       cfg.Pool,
		differ:     cfg.Differ,
		logger:     cfg.Logger,
		bufferSize: cfg.BufferSize,
	}, nil
}

// DepositTo deposits amount from depositor and mints the shares to beneficiary.
func (api *PoolAPI) DepositTo(ctx context.Context, depositor, beneficiary common.Address, amount *math.HexOrDecimal256) (*hexutil.Big, error) {
	assets, err := toAmount(amount)
	if err != nil {
		return nil, rpcError(err)
	}
	minted, err := api.pool.DepositTo(ctx, depositor, beneficiary, assets)
	if err != nil {
		return nil, rpcError(err)
	}
	return toBig(minted), nil
}

// WithdrawFrom burns shares from holder and returns the assets paid out.
func (api *PoolAPI) WithdrawFrom(ctx context.Context, holder common.Address, shares *math.HexOrDecimal256) (*hexutil.Big, error) {
	amount, err := toAmount(shares)
	if err != nil {
		return nil, rpcError(err)
	}
	paid, err := api.pool.WithdrawFrom(ctx, holder, amount)
	if err != nil {
		return nil, rpcError(err)
	}
	return toBig(paid), nil
}

func (api *PoolAPI) UserRecord(holder common.Address) UserRecord {
	rec := api.pool.UserRecord(holder)
	return UserRecord{Owner: rec.Owner, Shares: toBig(rec.Shares)}
}

func (api *PoolAPI) TotalValueLocked(ctx context.Context) (*hexutil.Big, error) {
	tvl, err := api.pool.TotalValueLocked(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return toBig(tvl), nil
}

func (api *PoolAPI) IsController(shareLedger common.Address) bool {
	return api.pool.IsController(shareLedger)
}

// ExchangeRate returns assets per share scaled by 1e18.
func (api *PoolAPI) ExchangeRate(ctx context.Context) (*hexutil.Big, error) {
	rate, err := api.pool.ExchangeRate(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return toBig(rate), nil
}

func (api *PoolAPI) PreviewDeposit(ctx context.Context, amount *math.HexOrDecimal256) (*hexutil.Big, error) {
	assets, err := toAmount(amount)
	if err != nil {
		return nil, rpcError(err)
	}
	shares, err := api.pool.PreviewDeposit(ctx, assets)
	if err != nil {
		return nil, rpcError(err)
	}
	return toBig(shares), nil
}

func (api *PoolAPI) PreviewWithdraw(ctx context.Context, shares *math.HexOrDecimal256) (*hexutil.Big, error) {
	amount, err := toAmount(shares)
	if err != nil {
		return nil, rpcError(err)
	}
	assets, err := api.pool.PreviewWithdraw(ctx, amount)
	if err != nil {
		return nil, rpcError(err)
	}
	return toBig(assets), nil
}

func (api *PoolAPI) Snapshot(ctx context.Context) (*engine.State, error) {
	state, err := api.pool.Snapshot(ctx)
	return state, rpcError(err)
}

// Verify runs the pool's consistency checks. It returns true or an invariant violation.
func (api *PoolAPI) Verify(ctx context.Context) (bool, error) {
	if err := api.pool.Verify(ctx); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

// SubscribeStateStream sends the current state as a "full" event followed by a "diff"
// event for every committed operation. A subscriber that falls behind the pool is sent a
// fresh "full" event and continues from there.
func (api *PoolAPI) SubscribeStateStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	states := make(chan *engine.State, api.bufferSize)
	initial, stateSub, err := api.pool.SnapshotAndSubscribe(ctx, states)
	if err != nil {
		return nil, rpcError(err)
	}

	rpcSub := notifier.CreateSubscription()
	go api.streamStates(notifier, rpcSub, initial, states, stateSub)
	return rpcSub, nil
}

func (api *PoolAPI) streamStates(notifier *rpc.Notifier, rpcSub *rpc.Subscription, last *engine.State, states chan *engine.State, stateSub event.Subscription) {
	logger := api.logger
	id := rpcSub.ID
	defer func() { stateSub.Unsubscribe() }()

	if err := api.notify(notifier, id, EventTypeFull, last); err != nil {
		logger.Warn("Failed to send full state", "subscription", id, "error", err)
		return
	}

	for {
		select {
		case state := <-states:
			if state.Sequence <= last.Sequence {
				continue
			}
			diff, err := api.differ.Diff(last, state)
			if err != nil {
				logger.Error("Failed to diff states", "subscription", id, "from", last.Sequence, "to", state.Sequence, "error", err)
				return
			}
			if err := api.notify(notifier, id, EventTypeDiff, diff); err != nil {
				logger.Warn("Failed to send diff", "subscription", id, "sequence", state.Sequence, "error", err)
				return
			}
			last = state
		case err := <-stateSub.Err():
			if !errors.Is(err, sharepool.ErrSubscriberTooSlow) {
				if err != nil {
					logger.Warn("State feed closed", "subscription", id, "error", err)
				}
				return
			}
			logger.Warn("Subscriber fell behind, resending full state", "subscription", id, "last_sequence", last.Sequence)

			// The subscribe call's context ends with the call, so resubscribe without it.
			states = make(chan *engine.State, api.bufferSize)
			state, sub, err := api.pool.SnapshotAndSubscribe(context.Background(), states)
			if err != nil {
				logger.Error("Failed to resubscribe to pool states", "subscription", id, "error", err)
				return
			}
			last, stateSub = state, sub
			if err := api.notify(notifier, id, EventTypeFull, last); err != nil {
				logger.Warn("Failed to send full state", "subscription", id, "error", err)
				return
			}
		case <-rpcSub.Err():
			logger.Debug("Subscriber went away", "subscription", id, "last_sequence", last.Sequence)
			return
		}
	}
}

func (api *PoolAPI) notify(notifier *rpc.Notifier, id rpc.ID, typ string, payload any) error {
	return notifier.Notify(id, &SubscriptionEvent{Type: typ, Payload: payload, SentAt: time.Now().UnixNano()})
}

// toAmount converts a JSON quantity into a pool amount. Missing, negative and
// out-of-range quantities are invalid amounts.
func toAmount(q *math.HexOrDecimal256) (*uint256.Int, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: missing quantity", sharepool.ErrInvalidAmount)
	}
	b := (*big.Int)(q)
	if b.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative quantity %s", sharepool.ErrInvalidAmount, b)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: quantity exceeds 256 bits", sharepool.ErrInvalidAmount)
	}
	return v, nil
}

func toBig(v *uint256.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(v.ToBig())
}
