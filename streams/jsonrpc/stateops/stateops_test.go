package stateops

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/sharepool-go/engine"
)

func TestStateOps_RoundTrip(t *testing.T) {
	ops, err := NewStateOps(slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	require.NoError(t, err)

	alice := common.HexToAddress("0x01")
	prev := &engine.State{
		Sequence:          1,
		TotalShares:       uint256.NewInt(50),
		TotalPooledAssets: uint256.NewInt(50),
		AssetsPerShare:    uint256.NewInt(1e18),
		Holders:           map[common.Address]*uint256.Int{alice: uint256.NewInt(50)},
	}
	next := prev.Copy()
	next.Sequence = 2
	next.TotalShares = uint256.NewInt(0)
	next.TotalPooledAssets = uint256.NewInt(0)
	next.Holders = map[common.Address]*uint256.Int{}

	// Over the wire and back, as the stream carries them.
	stateJSON, err := json.Marshal(prev)
	require.NoError(t, err)
	decoded, err := ops.DecodeStateJSON(stateJSON)
	require.NoError(t, err)
	assert.Equal(t, prev.Holders, decoded.Holders)

	diff, err := ops.Diff(prev, next)
	require.NoError(t, err)
	diffJSON, err := json.Marshal(diff)
	require.NoError(t, err)
	decodedDiff, err := ops.DecodeStateDiffJSON(diffJSON)
	require.NoError(t, err)

	patched, err := ops.Patch(decoded, decodedDiff)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), patched.Sequence)
	assert.Empty(t, patched.Holders)
	assert.True(t, patched.TotalShares.IsZero())
}

func TestDecodeState_Rejects(t *testing.T) {
	_, err := DecodeState(json.RawMessage(`{"sequence":1}`))
	assert.ErrorContains(t, err, "no totalShares")

	_, err = DecodeState(json.RawMessage(`{"sequence":1,"totalShares":"5","holders":{}}`))
	assert.ErrorContains(t, err, "holders own 0 of 5")

	_, err = DecodeStateDiff(json.RawMessage(`{"fromSequence":3,"toSequence":2}`))
	assert.ErrorContains(t, err, "runs backwards")

	_, err = DecodeState(json.RawMessage(`not json`))
	assert.Error(t, err)
}
