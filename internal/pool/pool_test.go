package pool

import (
	"testing"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/types"
)

func fp(whole int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(whole, 18)
}

var (
	noFeeRatio = sdkmath.ZeroInt()
	halfRatio  = sdkmath.NewInt(500_000_000_000_000_000)
	onePercent = sdkmath.NewInt(10_000_000_000_000_000)
)

func newWeightedPool(t *testing.T, swapFee sdkmath.Int) *Pool {
	t.Helper()
	p, err := New(1, []types.Asset{"tokenA", "tokenB"}, types.VariantWeighted, Params{
		Weights:  []sdkmath.Int{fixedpoint.One.QuoRaw(2), fixedpoint.One.QuoRaw(2)},
		SwapFee:  swapFee,
		Operator: "operator",
	})
	require.NoError(t, err)
	return p
}

func newStablePool(t *testing.T) *Pool {
	t.Helper()
	p, err := New(2, []types.Asset{"usdx", "usdy", "usdz"}, types.VariantStable, Params{
		Amp:      100,
		SwapFee:  sdkmath.ZeroInt(),
		Operator: "operator",
	})
	require.NoError(t, err)
	return p
}

func seedWeighted(t *testing.T, p *Pool, a, b int64) sdkmath.Int {
	t.Helper()
	shares, err := p.Join([]types.AssetAmount{
		{Asset: "tokenA", Amount: fp(a)},
		{Asset: "tokenB", Amount: fp(b)},
	}, sdkmath.ZeroInt())
	require.NoError(t, err)
	return shares
}

func TestNewPoolValidation(t *testing.T) {
	require := require.New(t)

	_, err := New(1, []types.Asset{"one"}, types.VariantWeighted, Params{
		Weights:  []sdkmath.Int{fixedpoint.One},
		SwapFee:  sdkmath.ZeroInt(),
		Operator: "op",
	})
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))

	_, err = New(1, []types.Asset{"a", "a"}, types.VariantWeighted, Params{
		Weights:  []sdkmath.Int{fixedpoint.One.QuoRaw(2), fixedpoint.One.QuoRaw(2)},
		SwapFee:  sdkmath.ZeroInt(),
		Operator: "op",
	})
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))

	// Fee above 10% rejected.
	_, err = New(1, []types.Asset{"a", "b"}, types.VariantWeighted, Params{
		Weights:  []sdkmath.Int{fixedpoint.One.QuoRaw(2), fixedpoint.One.QuoRaw(2)},
		SwapFee:  sdkmath.NewInt(200_000_000_000_000_000),
		Operator: "op",
	})
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))

	_, err = New(1, []types.Asset{"a", "b"}, "exotic", Params{
		SwapFee:  sdkmath.ZeroInt(),
		Operator: "op",
	})
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

func TestInitialJoinMintsInvariant(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())

	shares := seedWeighted(t, p, 100, 100)
	require.True(shares.IsPositive())

	inv, err := p.Invariant()
	require.NoError(err)
	require.Equal(inv, p.TotalShares)
	require.Equal(shares, p.TotalShares)
}

func TestProportionalJoinDoublesShares(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())

	first := seedWeighted(t, p, 100, 100)
	second := seedWeighted(t, p, 100, 100)

	// Doubling every balance should roughly double the supply.
	require.True(first.Sub(second).Abs().LT(sdkmath.NewInt(1_000_000_000)),
		"second join minted %s vs first %s", second, first)
}

func TestJoinSlippageGuard(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	seedWeighted(t, p, 100, 100)

	_, err := p.Join([]types.AssetAmount{
		{Asset: "tokenA", Amount: fp(1)},
		{Asset: "tokenB", Amount: fp(1)},
	}, fp(1000))
	require.True(errorsmod.IsOf(err, types.ErrSlippageExceeded))
}

func TestJoinUnknownAsset(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	seedWeighted(t, p, 100, 100)

	_, err := p.Join([]types.AssetAmount{{Asset: "mystery", Amount: fp(1)}}, sdkmath.ZeroInt())
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

func TestSwapGivenInNoFee(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	seedWeighted(t, p, 100, 100)

	out, protocolFee, err := p.SwapGivenIn("tokenA", "tokenB", fp(10), halfRatio)
	require.NoError(err)
	require.True(protocolFee.IsZero())

	expected, ok := sdkmath.NewIntFromString("9090909090909090909")
	require.True(ok)
	require.True(out.LTE(expected))
	require.True(expected.Sub(out).LT(sdkmath.NewInt(1_000_000_000)))

	// Balances moved.
	require.Equal(fp(110), p.Balances[0])
	require.Equal(fp(100).Sub(out), p.Balances[1])
}

func TestSwapGivenInWithFee(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, onePercent)
	seedWeighted(t, p, 100, 100)

	out, protocolFee, err := p.SwapGivenIn("tokenA", "tokenB", fp(10), halfRatio)
	require.NoError(err)

	// Fee is 0.1 of tokenA; the protocol takes half of it.
	expectedFee := sdkmath.NewInt(50_000_000_000_000_000)
	require.Equal(expectedFee, protocolFee)

	// Net input 9.9: out = 100 * 9.9/109.9 = 9.0081....
	expected, ok := sdkmath.NewIntFromString("9008189262966333030")
	require.True(ok)
	require.True(expected.Sub(out).Abs().LT(sdkmath.NewInt(1_000_000_000)),
		"out %s not near %s", out, expected)

	// The LP half of the fee stays in the pool balance.
	require.Equal(fp(110).Sub(protocolFee), p.Balances[0])
}

func TestSwapGivenOut(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	seedWeighted(t, p, 100, 100)

	in, protocolFee, err := p.SwapGivenOut("tokenA", "tokenB", fp(10), halfRatio)
	require.NoError(err)
	require.True(protocolFee.IsZero())

	expected, ok := sdkmath.NewIntFromString("11111111111111111111")
	require.True(ok)
	require.True(in.GTE(expected))
	require.True(in.Sub(expected).LT(sdkmath.NewInt(1_000_000_000)))
	require.Equal(fp(90), p.Balances[1])
}

func TestSwapUnknownAsset(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	seedWeighted(t, p, 100, 100)

	_, _, err := p.SwapGivenIn("tokenA", "mystery", fp(1), noFeeRatio)
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

func TestExitProportional(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	shares := seedWeighted(t, p, 100, 100)

	half := shares.QuoRaw(2)
	amountsOut, err := p.Exit(half, nil)
	require.NoError(err)
	require.Len(amountsOut, 2)
	for _, aa := range amountsOut {
		require.True(fp(50).Sub(aa.Amount).Abs().LT(sdkmath.NewInt(1_000_000)),
			"%s out %s not near 50", aa.Asset, aa.Amount)
	}
	require.Equal(shares.Sub(half), p.TotalShares)
}

func TestExitSlippageGuard(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	shares := seedWeighted(t, p, 100, 100)

	_, err := p.Exit(shares.QuoRaw(2), []types.AssetAmount{{Asset: "tokenA", Amount: fp(60)}})
	require.True(errorsmod.IsOf(err, types.ErrSlippageExceeded))
}

func TestExitMoreThanSupply(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	shares := seedWeighted(t, p, 100, 100)

	_, err := p.Exit(shares.AddRaw(1), nil)
	require.True(errorsmod.IsOf(err, types.ErrInsufficientBalance))
}

func TestFullExitDrainsPool(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	shares := seedWeighted(t, p, 100, 100)

	amountsOut, err := p.Exit(shares, nil)
	require.NoError(err)
	require.True(p.TotalShares.IsZero())
	for i, aa := range amountsOut {
		require.Equal(p.Balances[i], fp(100).Sub(aa.Amount))
	}
}

func TestExitSingleAssetStableOnly(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	shares := seedWeighted(t, p, 100, 100)

	_, err := p.ExitSingleAsset(shares.QuoRaw(10), "tokenA", sdkmath.ZeroInt())
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

func TestExitSingleAssetStable(t *testing.T) {
	require := require.New(t)
	p := newStablePool(t)

	shares, err := p.Join([]types.AssetAmount{
		{Asset: "usdx", Amount: fp(1000)},
		{Asset: "usdy", Amount: fp(1000)},
		{Asset: "usdz", Amount: fp(1000)},
	}, sdkmath.ZeroInt())
	require.NoError(err)

	// Burning 1% of shares against one asset pays out close to 1% of the
	// pool's value, since the curve is flat near parity.
	tenth := shares.QuoRaw(100)
	out, err := p.ExitSingleAsset(tenth, "usdx", sdkmath.ZeroInt())
	require.NoError(err)
	require.True(out.GT(fp(29)), "out %s too small", out)
	require.True(out.LT(fp(30).AddRaw(1)), "out %s exceeds proportional value", out)
}

func TestCloneIsolation(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, sdkmath.ZeroInt())
	seedWeighted(t, p, 100, 100)

	cp := p.Clone()
	_, _, err := cp.SwapGivenIn("tokenA", "tokenB", fp(10), noFeeRatio)
	require.NoError(err)

	require.Equal(fp(100), p.Balances[0])
	require.Equal(fp(110), cp.Balances[0])
	require.Equal(p.TotalShares, cp.TotalShares)
}

func TestSummaryShape(t *testing.T) {
	require := require.New(t)
	p := newWeightedPool(t, onePercent)
	seedWeighted(t, p, 100, 200)

	s := p.Summary()
	require.Equal(types.PoolID(1), s.ID)
	require.Equal(types.VariantWeighted, s.Variant)
	require.Equal([]types.Asset{"tokenA", "tokenB"}, s.Assets)
	require.Equal(fp(100), s.Balances[0].Amount)
	require.Equal(fp(200), s.Balances[1].Amount)
	require.Equal(p.TotalShares, s.TotalShares)
	require.Equal(onePercent, s.SwapFee)
	require.Equal(types.Account("operator"), s.Operator)
}
