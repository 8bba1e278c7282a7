package calculator

import (
	"math/rand/v2"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// pow2 returns 2^n.
func pow2(n uint) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), n)
}

func TestSharesForDeposit(t *testing.T) {
	maxUint := new(uint256.Int).SetAllOne()

	testCases := []struct {
		name           string
		assets         *uint256.Int
		totalShares    *uint256.Int
		totalPooled    *uint256.Int
		expectedShares *uint256.Int
		expectedErr    error
	}{
		{
			name:           "Bootstrap: empty pool mints 1:1",
			assets:         u(50),
			totalShares:    u(0),
			totalPooled:    u(0),
			expectedShares: u(50),
		},
		{
			name:           "Bootstrap ignores stray pooled assets",
			assets:         u(50),
			totalShares:    u(0),
			totalPooled:    u(1_000),
			expectedShares: u(50),
		},
		{
			name:           "Identity rate",
			assets:         u(50),
			totalShares:    u(100),
			totalPooled:    u(100),
			expectedShares: u(50),
		},
		{
			name:           "After yield doubled the pool",
			assets:         u(100),
			totalShares:    u(150),
			totalPooled:    u(300),
			expectedShares: u(50),
		},
		{
			name:           "Floors in favour of the pool",
			assets:         u(10),
			totalShares:    u(3),
			totalPooled:    u(7),
			expectedShares: u(4), // 30 / 7 = 4.28
		},
		{
			name:           "Dust deposit mints nothing",
			assets:         u(1),
			totalShares:    u(1),
			totalPooled:    u(1_000_001),
			expectedShares: u(0),
		},
		{
			name:           "Wide intermediate does not wrap",
			assets:         pow2(200),
			totalShares:    pow2(100),
			totalPooled:    pow2(120),
			expectedShares: pow2(180),
		},
		{
			name:        "Overflowing quotient",
			assets:      maxUint,
			totalShares: u(2),
			totalPooled: u(1),
			expectedErr: ErrOverflow,
		},
		{
			name:        "Shares outstanding against empty pool",
			assets:      u(10),
			totalShares: u(5),
			totalPooled: u(0),
			expectedErr: ErrInvalidState,
		},
		{
			name:        "Nil amount",
			assets:      nil,
			totalShares: u(5),
			totalPooled: u(5),
			expectedErr: ErrNilAmount,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			shares, err := SharesForDeposit(tc.assets, tc.totalShares, tc.totalPooled)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Nil(t, shares)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedShares.Dec(), shares.Dec())
		})
	}
}

func TestSharesForDeposit_DoesNotAliasInput(t *testing.T) {
	assets := u(50)
	shares, err := SharesForDeposit(assets, u(0), u(0))
	require.NoError(t, err)

	shares.AddUint64(shares, 1)
	assert.Equal(t, uint64(50), assets.Uint64())
}

func TestAssetsForWithdraw(t *testing.T) {
	testCases := []struct {
		name           string
		shares         *uint256.Int
		totalShares    *uint256.Int
		totalPooled    *uint256.Int
		expectedAssets *uint256.Int
		expectedErr    error
	}{
		{
			name:           "Identity rate",
			shares:         u(50),
			totalShares:    u(100),
			totalPooled:    u(100),
			expectedAssets: u(50),
		},
		{
			name:           "Yield is shared pro rata",
			shares:         u(50),
			totalShares:    u(150),
			totalPooled:    u(300),
			expectedAssets: u(100),
		},
		{
			name:           "Floors in favour of the pool",
			shares:         u(1),
			totalShares:    u(3),
			totalPooled:    u(7),
			expectedAssets: u(2),
		},
		{
			name:           "Full redemption takes everything",
			shares:         u(3),
			totalShares:    u(3),
			totalPooled:    u(7),
			expectedAssets: u(7),
		},
		{
			name:           "Wide intermediate does not wrap",
			shares:         pow2(250),
			totalShares:    pow2(251),
			totalPooled:    pow2(200),
			expectedAssets: pow2(199),
		},
		{
			name:        "Empty pool",
			shares:      u(1),
			totalShares: u(0),
			totalPooled: u(10),
			expectedErr: ErrEmptyPool,
		},
		{
			name:        "More shares than exist",
			shares:      u(11),
			totalShares: u(10),
			totalPooled: u(10),
			expectedErr: ErrExceedsSupply,
		},
		{
			name:        "Shares outstanding against empty pool",
			shares:      u(1),
			totalShares: u(10),
			totalPooled: u(0),
			expectedErr: ErrInvalidState,
		},
		{
			name:        "Nil total",
			shares:      u(1),
			totalShares: nil,
			totalPooled: u(0),
			expectedErr: ErrNilAmount,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assets, err := AssetsForWithdraw(tc.shares, tc.totalShares, tc.totalPooled)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedAssets.Dec(), assets.Dec())
		})
	}
}

func TestExchangeRate(t *testing.T) {
	t.Run("Bootstrap rate is one", func(t *testing.T) {
		rate, err := ExchangeRate(u(0), u(0))
		require.NoError(t, err)
		assert.Equal(t, WAD.Dec(), rate.Dec())

		// the returned value must be a copy
		rate.AddUint64(rate, 1)
		assert.Equal(t, "1000000000000000000", WAD.Dec())
	})

	t.Run("Doubled pool", func(t *testing.T) {
		rate, err := ExchangeRate(u(150), u(300))
		require.NoError(t, err)
		assert.Equal(t, "2000000000000000000", rate.Dec())
	})

	t.Run("Fractional rate floors", func(t *testing.T) {
		rate, err := ExchangeRate(u(3), u(7))
		require.NoError(t, err)
		assert.Equal(t, "2333333333333333333", rate.Dec())
	})
}

func TestRedeemableValue(t *testing.T) {
	v, err := RedeemableValue(u(0), u(10))
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	v, err = RedeemableValue(u(3), u(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.Uint64())
}

// TestRoundTripNeverProfits deposits and immediately redeems random amounts against random pools
// and checks that the depositor never walks away with more than they put in, and that the
// remaining holders are never left with less than they had.
func TestRoundTripNeverProfits(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 5_000; i++ {
		totalShares := u(rng.Uint64N(1_000_000) + 1)
		totalPooled := u(rng.Uint64N(10_000_000) + 1)
		assets := u(rng.Uint64N(1_000_000) + 1)

		before, err := AssetsForWithdraw(totalShares, totalShares, totalPooled)
		require.NoError(t, err)

		shares, err := SharesForDeposit(assets, totalShares, totalPooled)
		require.NoError(t, err)

		newShares := new(uint256.Int).Add(totalShares, shares)
		newPooled := new(uint256.Int).Add(totalPooled, assets)

		out, err := AssetsForWithdraw(shares, newShares, newPooled)
		require.NoError(t, err)
		require.False(t, out.Gt(assets), "round trip extracted value: in=%s out=%s", assets.Dec(), out.Dec())

		// Existing holders' claim after the depositor leaves again.
		remainingPooled := new(uint256.Int).Sub(newPooled, out)
		after, err := AssetsForWithdraw(totalShares, totalShares, remainingPooled)
		require.NoError(t, err)
		require.False(t, after.Lt(before), "existing holders diluted: before=%s after=%s", before.Dec(), after.Dec())
	}
}
