package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/defistate/sharepool-go/engine"
	"github.com/defistate/sharepool-go/protocols/sharepool"
	"github.com/defistate/sharepool-go/streams/jsonrpc/server"
)

// PoolClient is a typed client for the pool JSON-RPC API.
type PoolClient struct {
	c *rpc.Client
}

// DialPool connects to a pool API at url (http, ws or ipc).
func DialPool(ctx context.Context, url string) (*PoolClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewPoolClient(c), nil
}

// NewPoolClient wraps an existing rpc client.
func NewPoolClient(c *rpc.Client) *PoolClient {
	return &PoolClient{c: c}
}

func (pc *PoolClient) Close() {
	pc.c.Close()
}

func (pc *PoolClient) DepositTo(ctx context.Context, depositor, beneficiary common.Address, assets *uint256.Int) (*uint256.Int, error) {
	return pc.callAmount(ctx, "depositTo", depositor, beneficiary, quantity(assets))
}

func (pc *PoolClient) WithdrawFrom(ctx context.Context, holder common.Address, shares *uint256.Int) (*uint256.Int, error) {
	return pc.callAmount(ctx, "withdrawFrom", holder, quantity(shares))
}

func (pc *PoolClient) UserRecord(ctx context.Context, holder common.Address) (sharepool.UserRecord, error) {
	var rec server.UserRecord
	if err := pc.c.CallContext(ctx, &rec, server.Namespace+"_userRecord", holder); err != nil {
		return sharepool.UserRecord{}, remoteError(err)
	}
	shares, err := fromBig(rec.Shares)
	if err != nil {
		return sharepool.UserRecord{}, err
	}
	return sharepool.UserRecord{Owner: rec.Owner, Shares: shares}, nil
}

func (pc *PoolClient) TotalValueLocked(ctx context.Context) (*uint256.Int, error) {
	return pc.callAmount(ctx, "totalValueLocked")
}

func (pc *PoolClient) IsController(ctx context.Context, shareLedger common.Address) (bool, error) {
	var ok bool
	err := pc.c.CallContext(ctx, &ok, server.Namespace+"_isController", shareLedger)
	return ok, remoteError(err)
}

// ExchangeRate returns assets per share scaled by 1e18.
func (pc *PoolClient) ExchangeRate(ctx context.Context) (*uint256.Int, error) {
	return pc.callAmount(ctx, "exchangeRate")
}

func (pc *PoolClient) PreviewDeposit(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	return pc.callAmount(ctx, "previewDeposit", quantity(assets))
}

func (pc *PoolClient) PreviewWithdraw(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	return pc.callAmount(ctx, "previewWithdraw", quantity(shares))
}

func (pc *PoolClient) Snapshot(ctx context.Context) (*engine.State, error) {
	var state engine.State
	if err := pc.c.CallContext(ctx, &state, server.Namespace+"_snapshot"); err != nil {
		return nil, remoteError(err)
	}
	return &state, nil
}

func (pc *PoolClient) Verify(ctx context.Context) error {
	var ok bool
	return remoteError(pc.c.CallContext(ctx, &ok, server.Namespace+"_verify"))
}

func (pc *PoolClient) callAmount(ctx context.Context, method string, args ...any) (*uint256.Int, error) {
	var result hexutil.Big
	if err := pc.c.CallContext(ctx, &result, server.Namespace+"_"+method, args...); err != nil {
		return nil, remoteError(err)
	}
	return fromBig(&result)
}

func quantity(v *uint256.Int) *math.HexOrDecimal256 {
	if v == nil {
		return nil
	}
	return (*math.HexOrDecimal256)(v.ToBig())
}

func fromBig(b *hexutil.Big) (*uint256.Int, error) {
	if b == nil {
		return new(uint256.Int), nil
	}
	v, overflow := uint256.FromBig((*big.Int)(b))
	if overflow {
		return nil, fmt.Errorf("quantity %s exceeds 256 bits", (*big.Int)(b))
	}
	return v, nil
}
