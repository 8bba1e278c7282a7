package stateops

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/sharepool-go/differ"
	"github.com/defistate/sharepool-go/engine"
	"github.com/defistate/sharepool-go/patcher"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateOps bundles the two halves of the state stream:
// the differ used by the server and the patcher used by clients.
type StateOps struct {
	*differ.StateDiffer
	*patcher.StatePatcher
}

func NewStateOps(logger Logger, prometheusRegistry prometheus.Registerer) (*StateOps, error) {
	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Logger:   logger,
		Registry: prometheusRegistry,
	})
	if err != nil {
		return nil, err
	}

	return &StateOps{
		StateDiffer:  stateDiffer,
		StatePatcher: patcher.NewStatePatcher(),
	}, nil
}

// DecodeStateJSON decodes a full state payload.
func (ops *StateOps) DecodeStateJSON(data json.RawMessage) (*engine.State, error) {
	return DecodeState(data)
}

// DecodeStateDiffJSON decodes a diff payload.
func (ops *StateOps) DecodeStateDiffJSON(data json.RawMessage) (*differ.StateDiff, error) {
	return DecodeStateDiff(data)
}

// DecodeState decodes a full state payload and checks that its holders add up.
func DecodeState(data json.RawMessage) (*engine.State, error) {
	var state engine.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.TotalShares == nil {
		return nil, fmt.Errorf("state %d has no totalShares", state.Sequence)
	}
	if state.Holders == nil {
		state.Holders = make(map[common.Address]*uint256.Int)
	}
	if !state.SumHolders().Eq(state.TotalShares) {
		return nil, fmt.Errorf("state %d: holders own %s of %s shares", state.Sequence, state.SumHolders().Dec(), state.TotalShares.Dec())
	}
	return &state, nil
}

func DecodeStateDiff(data json.RawMessage) (*differ.StateDiff, error) {
	var diff differ.StateDiff
	if err := json.Unmarshal(data, &diff); err != nil {
		return nil, err
	}
	if diff.ToSequence < diff.FromSequence {
		return nil, fmt.Errorf("diff runs backwards (%d -> %d)", diff.FromSequence, diff.ToSequence)
	}
	return &diff, nil
}
