package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolMeta identifies a pool and its fixed wiring.
type PoolMeta struct {
	Pool        common.Address `json:"pool"`        // controller identity of the engine
	Asset       common.Address `json:"asset"`       // underlying asset ledger
	ShareLedger common.Address `json:"shareLedger"` // share ledger minted/burned by the engine
}

// State is a consistent snapshot of a pool, taken between two committed operations.
type State struct {
	Meta PoolMeta `json:"meta"`

	// Sequence counts committed deposits and withdrawals. It increases by exactly one per commit.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the Unix nanosecond time the snapshot was taken.
	Timestamp uint64 `json:"timestamp"`

	TotalShares       *uint256.Int `json:"totalShares"`
	TotalPooledAssets *uint256.Int `json:"totalPooledAssets"`

	// AssetsPerShare is the exchange rate scaled by 1e18.
	AssetsPerShare *uint256.Int `json:"assetsPerShare"`

	// Holders maps every account with a non-zero record to its shares.
	Holders map[common.Address]*uint256.Int `json:"holders"`
}

// Copy returns a deep copy of the state.
func (s *State) Copy() *State {
	if s == nil {
		return nil
	}
	c := &State{
		Meta:              s.Meta,
		Sequence:          s.Sequence,
		Timestamp:         s.Timestamp,
		TotalShares:       clone(s.TotalShares),
		TotalPooledAssets: clone(s.TotalPooledAssets),
		AssetsPerShare:    clone(s.AssetsPerShare),
		Holders:           make(map[common.Address]*uint256.Int, len(s.Holders)),
	}
	for holder, shares := range s.Holders {
		c.Holders[holder] = clone(shares)
	}
	return c
}

// SumHolders adds up every holder's shares.
func (s *State) SumHolders() *uint256.Int {
	sum := new(uint256.Int)
	for _, shares := range s.Holders {
		sum.Add(sum, shares)
	}
	return sum
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
