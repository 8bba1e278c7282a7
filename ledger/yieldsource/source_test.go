package yieldsource

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/sharepool-go/ledger/assetledger"
)

func TestSource(t *testing.T) {
	ctx := context.Background()
	gold := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	custody := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	pool := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	assets := assetledger.New(gold, "Gold", "GLD")
	src := New(custody, assets)
	assert.Equal(t, custody, src.Address())
	assert.Equal(t, gold, src.Asset())

	total, err := src.TotalPooledAssets(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	require.NoError(t, assets.Mint(alice, uint256.NewInt(100)))
	require.NoError(t, assets.Approve(alice, pool, uint256.NewInt(100)))
	require.NoError(t, src.Custody(pool).TransferIn(ctx, alice, uint256.NewInt(100)))

	require.NoError(t, src.Yield(ctx, uint256.NewInt(100)))
	total, err = src.TotalPooledAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), total.Uint64())

	assert.ErrorIs(t, src.Yield(ctx, nil), ErrInvalidAmount)
	assert.ErrorIs(t, src.Yield(ctx, new(uint256.Int)), ErrInvalidAmount)
}
