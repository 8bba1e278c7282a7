package patcher

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	differ "github.com/defistate/sharepool-go/differ"
	engine "github.com/defistate/sharepool-go/engine"
)

// StatePatcher rebuilds pool states from a previous state and a diff.
type StatePatcher struct{}

// NewStatePatcher constructs a new patcher.
func NewStatePatcher() *StatePatcher {
	return &StatePatcher{}
}

// Patch creates a new State by applying the diff to oldState. oldState is never mutated;
// unchanged holder balances are shared by reference, so callers must treat states as read-only.
func (p *StatePatcher) Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	if oldState == nil || diff == nil {
		return nil, errors.New("patcher: state and diff must not be nil")
	}
	if oldState.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("patcher: mismatch fromSequence (state=%d, diff=%d)", oldState.Sequence, diff.FromSequence)
	}
	if oldState.Meta != diff.Meta {
		return nil, fmt.Errorf("patcher: pool mismatch (state=%s, diff=%s)", oldState.Meta.Pool.Hex(), diff.Meta.Pool.Hex())
	}

	holders := make(map[common.Address]*uint256.Int, len(oldState.Holders)+len(diff.Holders))
	for holder, shares := range oldState.Holders {
		holders[holder] = shares
	}
	for holder, shares := range diff.Holders {
		if shares == nil || shares.IsZero() {
			delete(holders, holder)
			continue
		}
		holders[holder] = shares.Clone()
	}

	next := &engine.State{
		Meta:              diff.Meta,
		Sequence:          diff.ToSequence,
		Timestamp:         diff.Timestamp,
		TotalShares:       diff.TotalShares,
		TotalPooledAssets: diff.TotalPooledAssets,
		AssetsPerShare:    diff.AssetsPerShare,
		Holders:           holders,
	}
	if next.TotalShares == nil || !next.SumHolders().Eq(next.TotalShares) {
		return nil, fmt.Errorf("patcher: holders do not add up to total shares at sequence %d", next.Sequence)
	}
	return next, nil
}
