package sharepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"

	"github.com/defistate/sharepool-go/engine"
	"github.com/defistate/sharepool-go/protocols/sharepool/calculator"
)

// poolState is the pool's own bookkeeping. It is only touched with Pool.mu held.
type poolState struct {
	totalShares *uint256.Int
	records     map[common.Address]*UserRecord
	sequence    uint64
}

// operationKey marks contexts handed to collaborators while an operation is in flight.
type operationKey struct{}

// Pool is the share accounting engine for a single pool of one underlying asset.
// Deposits and withdrawals are serialized; each one either commits in full or leaves
// the pool, the share ledger and the asset store as they were.
type Pool struct {
	address common.Address
	assets  AssetStore
	shares  ShareLedger
	yield   YieldSource
	logger  Logger
	metrics *Metrics

	mu    sync.Mutex
	state poolState

	// view is the holders' shares as of the last commit, served to readers that do not take mu.
	viewMu sync.RWMutex
	view   map[common.Address]*uint256.Int

	// pubMu keeps published states in sequence order once mu is released. It guards subs.
	pubMu sync.Mutex
	subs  map[*stateSub]struct{}
}

// stateSub is one receiver of committed states. dropped is closed when the receiver
// falls behind and is removed.
type stateSub struct {
	ch      chan<- *engine.State
	dropped chan struct{}
}

// New wires a pool to its collaborators. The share ledger must already name cfg.Address
// as its controller; anything else is a configuration fault reported as ErrUnauthorizedController.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if controller := cfg.Shares.Controller(); controller != cfg.Address {
		return nil, fmt.Errorf("%w: share ledger %s is controlled by %s, not %s",
			ErrUnauthorizedController, cfg.Shares.Address().Hex(), controller.Hex(), cfg.Address.Hex())
	}

	supply, err := cfg.Shares.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read share supply: %w", err)
	}

	p := &Pool{
		address: cfg.Address,
		assets:  cfg.Assets,
		shares:  cfg.Shares,
		yield:   cfg.Yield,
		logger:  cfg.Logger,
		state: poolState{
			totalShares: supply,
			records:     make(map[common.Address]*UserRecord),
		},
		subs: make(map[*stateSub]struct{}),
	}

	sum := new(uint256.Int)
	for _, holder := range cfg.Holders {
		if _, seen := p.state.records[holder]; seen {
			continue
		}
		rec, err := p.record(ctx, &p.state, holder)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, rec.Shares)
	}
	if !sum.Eq(supply) {
		return nil, fmt.Errorf("%w: known holders own %s of %s shares", ErrInvariantViolation, sum.Dec(), supply.Dec())
	}

	p.publishRecords()

	metrics, err := NewMetrics(cfg.Registry, cfg.Address.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	p.metrics = metrics

	p.logger.Info("Pool initialized",
		"pool", p.address,
		"asset", p.assets.Asset(),
		"share_ledger", p.shares.Address(),
		"total_shares", supply.Dec(),
	)
	return p, nil
}

// Address is the pool's controller identity.
func (p *Pool) Address() common.Address { return p.address }

// Asset is the underlying asset.
func (p *Pool) Asset() common.Address { return p.assets.Asset() }

// ShareLedger is the share ledger the pool mints and burns on.
func (p *Pool) ShareLedger() common.Address { return p.shares.Address() }

// IsController reports whether this pool is the authorized mutator of the given share ledger.
func (p *Pool) IsController(shareLedger common.Address) bool {
	return shareLedger == p.shares.Address() && p.shares.Controller() == p.address
}

// DepositTo pulls assets from depositor into custody and mints the corresponding shares to
// beneficiary at the rate in force before the deposit. It returns the shares minted.
func (p *Pool) DepositTo(ctx context.Context, depositor, beneficiary common.Address, assets *uint256.Int) (minted *uint256.Int, err error) {
	start := time.Now()
	defer func() { p.metrics.observe(opDeposit, start, err) }()

	if assets == nil || assets.IsZero() {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	if depositor == (common.Address{}) || beneficiary == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidAccount)
	}

	ctx, err = p.lock(ctx)
	if err != nil {
		return nil, err
	}

	minted, err = p.deposit(ctx, &p.state, depositor, beneficiary, assets)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	p.logger.Debug("Deposit committed",
		"depositor", depositor,
		"beneficiary", beneficiary,
		"assets", assets.Dec(),
		"shares", minted.Dec(),
		"sequence", p.state.sequence,
	)
	p.commitAndUnlock(ctx)
	return minted, nil
}

// WithdrawFrom burns shares from holder and pays the holder their value at the current rate.
// It returns the assets paid.
func (p *Pool) WithdrawFrom(ctx context.Context, holder common.Address, shares *uint256.Int) (paid *uint256.Int, err error) {
	start := time.Now()
	defer func() { p.metrics.observe(opWithdraw, start, err) }()

	if shares == nil || shares.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	if holder == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidAccount)
	}

	ctx, err = p.lock(ctx)
	if err != nil {
		return nil, err
	}

	paid, err = p.withdraw(ctx, &p.state, holder, shares)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	p.logger.Debug("Withdrawal committed",
		"holder", holder,
		"shares", shares.Dec(),
		"assets", paid.Dec(),
		"sequence", p.state.sequence,
	)
	p.commitAndUnlock(ctx)
	return paid, nil
}

// deposit runs the deposit protocol against st. On error nothing has changed.
func (p *Pool) deposit(ctx context.Context, st *poolState, depositor, beneficiary common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.checkSupply(ctx, st); err != nil {
		return nil, err
	}
	rec, err := p.record(ctx, st, beneficiary)
	if err != nil {
		return nil, err
	}

	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pooled assets: %w", err)
	}

	// The rate is taken before the incoming assets are counted.
	shares, err := calculator.SharesForDeposit(assets, st.totalShares, pooled)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit of %s mints no shares at the current rate", ErrInvalidAmount, assets.Dec())
	}
	newTotal, overflow := new(uint256.Int).AddOverflow(st.totalShares, shares)
	if overflow {
		return nil, fmt.Errorf("%w: total shares overflow", ErrInvariantViolation)
	}

	balance, err := p.assets.BalanceOf(ctx, depositor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if balance.Lt(assets) {
		return nil, fmt.Errorf("%w: %s holds %s, deposit needs %s", ErrTransferFailed, depositor.Hex(), balance.Dec(), assets.Dec())
	}
	if err := p.assets.TransferIn(ctx, depositor, assets); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	if err := p.shares.Mint(ctx, p.address, beneficiary, shares); err != nil {
		if refundErr := p.assets.TransferOut(context.WithoutCancel(ctx), depositor, assets); refundErr != nil {
			p.logger.Error("Failed to refund deposit after mint failure",
				"depositor", depositor, "assets", assets.Dec(), "mint_error", err, "error", refundErr)
			return nil, fmt.Errorf("%w: mint failed (%v) and refund failed: %w", ErrInvariantViolation, err, refundErr)
		}
		return nil, p.ledgerError("mint", err)
	}

	p.setShares(rec, new(uint256.Int).Add(rec.Shares, shares))
	st.totalShares = newTotal
	st.sequence++
	return shares, nil
}

// withdraw runs the withdraw protocol against st. Shares are burned and the pool's own
// records committed before any asset leaves custody; a refused payout is rolled back.
func (p *Pool) withdraw(ctx context.Context, st *poolState, holder common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.checkSupply(ctx, st); err != nil {
		return nil, err
	}
	rec, err := p.record(ctx, st, holder)
	if err != nil {
		return nil, err
	}
	if shares.Gt(rec.Shares) {
		return nil, fmt.Errorf("%w: %s holds %s, requested %s", ErrInsufficientShares, holder.Hex(), rec.Shares.Dec(), shares.Dec())
	}

	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pooled assets: %w", err)
	}
	assets, err := calculator.AssetsForWithdraw(shares, st.totalShares, pooled)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}

	if err := p.shares.Burn(ctx, p.address, holder, shares); err != nil {
		return nil, p.ledgerError("burn", err)
	}

	prevShares, prevTotal := rec.Shares, st.totalShares
	p.setShares(rec, new(uint256.Int).Sub(rec.Shares, shares))
	st.totalShares = new(uint256.Int).Sub(st.totalShares, shares)

	if !assets.IsZero() {
		if err := p.assets.TransferOut(ctx, holder, assets); err != nil {
			if mintErr := p.shares.Mint(context.WithoutCancel(ctx), p.address, holder, shares); mintErr != nil {
				p.logger.Error("Failed to restore shares after payout failure",
					"holder", holder, "shares", shares.Dec(), "transfer_error", err, "error", mintErr)
				return nil, fmt.Errorf("%w: payout failed (%v) and re-mint failed: %w", ErrInvariantViolation, err, mintErr)
			}
			p.setShares(rec, prevShares)
			st.totalShares = prevTotal
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	st.sequence++
	return assets, nil
}

// UserRecord returns holder's record as of the last committed operation. Changes made by an
// operation still in flight are not visible. Unknown holders have zero shares.
func (p *Pool) UserRecord(holder common.Address) UserRecord {
	p.viewMu.RLock()
	defer p.viewMu.RUnlock()

	if shares, ok := p.view[holder]; ok {
		return UserRecord{Owner: holder, Shares: shares.Clone()}
	}
	return UserRecord{Owner: holder, Shares: new(uint256.Int)}
}

// TotalValueLocked is the pool's total pooled assets as reported by the yield source.
func (p *Pool) TotalValueLocked(ctx context.Context) (*uint256.Int, error) {
	ctx, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	return p.yield.TotalPooledAssets(ctx)
}

// PreviewDeposit returns the shares a deposit of assets would mint right now.
func (p *Pool) PreviewDeposit(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	if assets == nil || assets.IsZero() {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	ctx, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pooled assets: %w", err)
	}
	shares, err := calculator.SharesForDeposit(assets, p.state.totalShares, pooled)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return shares, nil
}

// PreviewWithdraw returns the assets redeeming shares would pay right now.
func (p *Pool) PreviewWithdraw(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	if shares == nil || shares.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	ctx, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	if shares.Gt(p.state.totalShares) {
		return nil, fmt.Errorf("%w: %s requested, %s outstanding", ErrInsufficientShares, shares.Dec(), p.state.totalShares.Dec())
	}
	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pooled assets: %w", err)
	}
	assets, err := calculator.AssetsForWithdraw(shares, p.state.totalShares, pooled)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return assets, nil
}

// ExchangeRate returns the current assets per share, scaled by 1e18.
func (p *Pool) ExchangeRate(ctx context.Context) (*uint256.Int, error) {
	ctx, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pooled assets: %w", err)
	}
	rate, err := calculator.ExchangeRate(p.state.totalShares, pooled)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return rate, nil
}

// Snapshot returns a consistent view of the pool.
func (p *Pool) Snapshot(ctx context.Context) (*engine.State, error) {
	ctx, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	return p.snapshot(ctx, &p.state)
}

// SubscribeStates delivers a State to ch after every committed operation, in sequence order.
// Delivery never waits: if ch has no room when a state is published, the subscription is
// closed and ErrSubscriberTooSlow is sent on its Err channel. Buffer ch accordingly.
func (p *Pool) SubscribeStates(ch chan<- *engine.State) event.Subscription {
	return p.subscribe(ch)
}

// SnapshotAndSubscribe atomically takes a snapshot and subscribes ch to the states
// committed after it.
func (p *Pool) SnapshotAndSubscribe(ctx context.Context, ch chan<- *engine.State) (*engine.State, event.Subscription, error) {
	ctx, err := p.lock(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer p.mu.Unlock()

	state, err := p.snapshot(ctx, &p.state)
	if err != nil {
		return nil, nil, err
	}
	return state, p.subscribe(ch), nil
}

// Verify checks that every record matches the share ledger, that records add up to the
// outstanding supply, and that the pool can honour every outstanding share at the current rate.
func (p *Pool) Verify(ctx context.Context) error {
	ctx, err := p.lock(ctx)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	st := &p.state
	if err := p.checkSupply(ctx, st); err != nil {
		return err
	}

	sum := new(uint256.Int)
	for holder, rec := range st.records {
		onLedger, err := p.shares.BalanceOf(ctx, holder)
		if err != nil {
			return fmt.Errorf("failed to read share balance of %s: %w", holder.Hex(), err)
		}
		if !onLedger.Eq(rec.Shares) {
			return fmt.Errorf("%w: %s has %s shares on the ledger but %s on record", ErrInvariantViolation, holder.Hex(), onLedger.Dec(), rec.Shares.Dec())
		}
		sum.Add(sum, rec.Shares)
	}
	if !sum.Eq(st.totalShares) {
		return fmt.Errorf("%w: records hold %s of %s shares", ErrInvariantViolation, sum.Dec(), st.totalShares.Dec())
	}

	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pooled assets: %w", err)
	}
	owed, err := calculator.RedeemableValue(st.totalShares, pooled)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	if owed.Gt(pooled) {
		return fmt.Errorf("%w: pool owes %s but holds %s", ErrInvariantViolation, owed.Dec(), pooled.Dec())
	}
	return nil
}

// lock rejects calls made from inside an in-flight operation on this pool, then takes mu.
// The returned context carries the marker collaborators hand back on re-entry.
func (p *Pool) lock(ctx context.Context) (context.Context, error) {
	if owner, _ := ctx.Value(operationKey{}).(*Pool); owner == p {
		return nil, ErrReentrantCall
	}
	p.mu.Lock()
	return context.WithValue(ctx, operationKey{}, p), nil
}

// commitAndUnlock publishes the committed state and releases mu. Publication happens
// after mu is released but under pubMu, so subscribers see states in sequence order.
func (p *Pool) commitAndUnlock(ctx context.Context) {
	p.publishRecords()
	state, err := p.snapshot(ctx, &p.state)
	p.pubMu.Lock()
	p.mu.Unlock()
	defer p.pubMu.Unlock()

	if err != nil {
		p.logger.Warn("Failed to snapshot committed state", "error", err)
		return
	}
	p.metrics.commit(state)
	p.publish(state)
}

func (p *Pool) subscribe(ch chan<- *engine.State) event.Subscription {
	s := &stateSub{ch: ch, dropped: make(chan struct{})}
	p.pubMu.Lock()
	p.subs[s] = struct{}{}
	p.pubMu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			p.pubMu.Lock()
			delete(p.subs, s)
			p.pubMu.Unlock()
			return nil
		case <-s.dropped:
			return ErrSubscriberTooSlow
		}
	})
}

// publish hands state to every subscriber without blocking. Must be called with pubMu held.
func (p *Pool) publish(state *engine.State) {
	for s := range p.subs {
		select {
		case s.ch <- state:
		default:
			delete(p.subs, s)
			close(s.dropped)
			p.metrics.subscribersDropped.Inc()
			p.logger.Warn("Dropped state subscriber that fell behind", "sequence", state.Sequence)
		}
	}
}

// checkSupply verifies the cached share total against the ledger.
func (p *Pool) checkSupply(ctx context.Context, st *poolState) error {
	supply, err := p.shares.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("failed to read share supply: %w", err)
	}
	if !supply.Eq(st.totalShares) {
		return fmt.Errorf("%w: ledger supply %s, pool records %s", ErrInvariantViolation, supply.Dec(), st.totalShares.Dec())
	}
	return nil
}

// record returns holder's record, loading it from the ledger the first time the holder is
// seen and checking it against the ledger on every later use.
func (p *Pool) record(ctx context.Context, st *poolState, holder common.Address) (*UserRecord, error) {
	onLedger, err := p.shares.BalanceOf(ctx, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to read share balance of %s: %w", holder.Hex(), err)
	}

	rec, ok := st.records[holder]
	if !ok {
		rec = &UserRecord{Owner: holder, Shares: onLedger.Clone()}
		st.records[holder] = rec
		return rec, nil
	}
	if !rec.Shares.Eq(onLedger) {
		return nil, fmt.Errorf("%w: %s has %s shares on the ledger but %s on record", ErrInvariantViolation, holder.Hex(), onLedger.Dec(), rec.Shares.Dec())
	}
	return rec, nil
}

// setShares replaces a record's shares. Share values are never mutated in place, so the
// published view may alias them.
func (p *Pool) setShares(rec *UserRecord, shares *uint256.Int) {
	rec.Shares = shares
}

// publishRecords makes the current records visible to UserRecord. Must be called with mu held.
func (p *Pool) publishRecords() {
	view := make(map[common.Address]*uint256.Int, len(p.state.records))
	for holder, rec := range p.state.records {
		if !rec.Shares.IsZero() {
			view[holder] = rec.Shares
		}
	}
	p.viewMu.Lock()
	p.view = view
	p.viewMu.Unlock()
}

// ledgerError classifies a share ledger rejection. A correctly wired pool is always the
// controller, so an authorization failure means the wiring changed underneath it.
func (p *Pool) ledgerError(op string, err error) error {
	if p.shares.Controller() != p.address {
		return fmt.Errorf("%w: %s: %w", ErrUnauthorizedController, op, err)
	}
	return fmt.Errorf("%w: share ledger rejected %s: %w", ErrInvariantViolation, op, err)
}

func (p *Pool) snapshot(ctx context.Context, st *poolState) (*engine.State, error) {
	pooled, err := p.yield.TotalPooledAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pooled assets: %w", err)
	}
	rate, err := calculator.ExchangeRate(st.totalShares, pooled)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}

	holders := make(map[common.Address]*uint256.Int, len(st.records))
	for holder, rec := range st.records {
		if !rec.Shares.IsZero() {
			holders[holder] = rec.Shares.Clone()
		}
	}

	return &engine.State{
		Meta: engine.PoolMeta{
			Pool:        p.address,
			Asset:       p.assets.Asset(),
			ShareLedger: p.shares.Address(),
		},
		Sequence:          st.sequence,
		Timestamp:         uint64(time.Now().UnixNano()),
		TotalShares:       st.totalShares.Clone(),
		TotalPooledAssets: pooled,
		AssetsPerShare:    rate,
		Holders:           holders,
	}, nil
}
