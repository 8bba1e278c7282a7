package differ

import (
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

var (
	meta = engine.PoolMeta{
		Pool:        common.HexToAddress("0xe1"),
		Asset:       common.HexToAddress("0xa0"),
		ShareLedger: common.HexToAddress("0xe0"),
	}
	alice = common.HexToAddress("0x01")
	bob   = common.HexToAddress("0x02")
	carol = common.HexToAddress("0x03")
)

func makeState(seq uint64, pooled uint64, holders map[common.Address]uint64) *engine.State {
	s := &engine.State{
		Meta:              meta,
		Sequence:          seq,
		TotalPooledAssets: uint256.NewInt(pooled),
		AssetsPerShare:    uint256.NewInt(1e18),
		Holders:           make(map[common.Address]*uint256.Int),
	}
	for h, v := range holders {
		s.Holders[h] = uint256.NewInt(v)
	}
	s.TotalShares = s.SumHolders()
	return s
}

func newDiffer(t *testing.T) *StateDiffer {
	t.Helper()
	d, err := NewStateDiffer(&StateDifferConfig{
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return d
}

func TestNewStateDiffer(t *testing.T) {
	_, err := NewStateDiffer(&StateDifferConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.EqualError(t, err, "config: Registry cannot be nil")

	_, err = NewStateDiffer(&StateDifferConfig{Registry: prometheus.NewRegistry()})
	assert.EqualError(t, err, "config: Logger cannot be nil")
}

func TestStateDiffer_Diff(t *testing.T) {
	d := newDiffer(t)

	t.Run("ListsOnlyChangedHolders", func(t *testing.T) {
		old := makeState(4, 150, map[common.Address]uint64{alice: 50, bob: 50, carol: 50})
		next := makeState(5, 200, map[common.Address]uint64{alice: 50, bob: 75, carol: 50})

		diff, err := d.Diff(old, next)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), diff.FromSequence)
		assert.Equal(t, uint64(5), diff.ToSequence)
		assert.Equal(t, meta, diff.Meta)
		assert.Equal(t, uint64(175), diff.TotalShares.Uint64())
		assert.Equal(t, uint64(200), diff.TotalPooledAssets.Uint64())
		require.Len(t, diff.Holders, 1)
		assert.Equal(t, uint64(75), diff.Holders[bob].Uint64())
	})

	t.Run("RemovedHolderIsZero", func(t *testing.T) {
		old := makeState(1, 100, map[common.Address]uint64{alice: 50, bob: 50})
		next := makeState(2, 50, map[common.Address]uint64{alice: 50})

		diff, err := d.Diff(old, next)
		require.NoError(t, err)
		require.Contains(t, diff.Holders, bob)
		assert.True(t, diff.Holders[bob].IsZero())
	})

	t.Run("DoesNotAliasNewState", func(t *testing.T) {
		old := makeState(0, 0, nil)
		next := makeState(1, 10, map[common.Address]uint64{alice: 10})

		diff, err := d.Diff(old, next)
		require.NoError(t, err)
		diff.Holders[alice].SetUint64(99)
		assert.Equal(t, uint64(10), next.Holders[alice].Uint64())
	})

	t.Run("SameStateIsEmpty", func(t *testing.T) {
		s := makeState(3, 10, map[common.Address]uint64{alice: 10})
		diff, err := d.Diff(s, s.Copy())
		require.NoError(t, err)
		assert.True(t, diff.IsEmpty())
	})

	t.Run("RejectsInvalidPairs", func(t *testing.T) {
		old := makeState(3, 10, nil)

		_, err := d.Diff(old, makeState(2, 10, nil))
		assert.Error(t, err)

		other := makeState(4, 10, nil)
		other.Meta.Pool = common.HexToAddress("0xff")
		_, err = d.Diff(old, other)
		assert.Error(t, err)

		_, err = d.Diff(nil, old)
		assert.Error(t, err)
	})
}
