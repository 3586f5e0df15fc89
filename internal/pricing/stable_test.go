package pricing

import (
	"testing"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/crestline-fi/vaultcore/internal/types"
)

func stableA100(t *testing.T) *StableEngine {
	t.Helper()
	e, err := NewStableEngine(100)
	require.NoError(t, err)
	return e
}

func TestStableEngineValidation(t *testing.T) {
	require := require.New(t)

	_, err := NewStableEngine(0)
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
	_, err = NewStableEngine(MaxAmp + 1)
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))

	e, err := NewStableEngine(100)
	require.NoError(err)
	require.Equal(uint64(100), e.Amp())
}

func TestStableInvariantBalanced(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	// Perfectly balanced pool: D equals the sum of balances.
	balances := []sdkmath.Int{fp(1000), fp(1000), fp(1000)}
	d, err := e.CalcInvariant(balances)
	require.NoError(err)
	require.True(fp(3000).Sub(d).Abs().LTE(sdkmath.NewInt(100)),
		"D %s not within a few wei of 3000", d)
}

func TestStableInvariantSkewed(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	// Unbalanced pool: D sits between the constant-sum value (the cap)
	// and the constant-product floor.
	balances := []sdkmath.Int{fp(100), fp(1000)}
	d, err := e.CalcInvariant(balances)
	require.NoError(err)
	require.True(d.LT(fp(1100)), "D %s must be below the balance sum", d)
	require.True(d.GT(fp(632)), "D %s must be above 2*sqrt(100*1000)", d)
}

func TestStableInvariantZeroBalance(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	_, err := e.CalcInvariant([]sdkmath.Int{fp(1000), sdkmath.ZeroInt()})
	require.True(errorsmod.IsOf(err, types.ErrDivisionByZero))
}

func TestStableOutGivenIn(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	// Near parity with A=100 slippage is tiny: 10 in yields just under
	// 10 out.
	balances := []sdkmath.Int{fp(1000), fp(1000)}
	out, err := e.CalcOutGivenIn(balances, 0, 1, fp(10))
	require.NoError(err)
	require.True(out.LT(fp(10)), "out %s must be below in", out)
	require.True(out.GT(fp(9)), "out %s too small for a flat curve", out)
}

func TestStableInGivenOut(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	balances := []sdkmath.Int{fp(1000), fp(1000)}
	in, err := e.CalcInGivenOut(balances, 0, 1, fp(10))
	require.NoError(err)
	require.True(in.GT(fp(10)), "in %s must exceed out", in)
	require.True(in.LT(fp(11)), "in %s too large for a flat curve", in)
}

func TestStableSwapRoundTrip(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	// in-for-out then out-for-in must not create value.
	balances := []sdkmath.Int{fp(500), fp(800), fp(700)}
	out, err := e.CalcOutGivenIn(balances, 0, 2, fp(50))
	require.NoError(err)
	in, err := e.CalcInGivenOut(balances, 0, 2, out)
	require.NoError(err)
	require.True(in.LTE(fp(50).AddRaw(10)), "inverse input %s exceeds original 50", in)
	require.True(in.GT(fp(49)), "inverse input %s lost too much", in)
}

func TestStableSwapPreservesInvariant(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	balances := []sdkmath.Int{fp(1000), fp(1000)}
	pre, err := e.CalcInvariant(balances)
	require.NoError(err)

	out, err := e.CalcOutGivenIn(balances, 0, 1, fp(100))
	require.NoError(err)

	post, err := e.CalcInvariant([]sdkmath.Int{
		balances[0].Add(fp(100)),
		balances[1].Sub(out),
	})
	require.NoError(err)
	require.True(post.GTE(pre.SubRaw(10)), "invariant fell from %s to %s", pre, post)
}

func TestStableDrainRejected(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	balances := []sdkmath.Int{fp(1000), fp(10)}
	_, err := e.CalcInGivenOut(balances, 0, 1, fp(10))
	require.True(errorsmod.IsOf(err, types.ErrInsufficientLiquidity))
}

func TestStableBalanceGivenInvariant(t *testing.T) {
	require := require.New(t)
	e := stableA100(t)

	// Solving for an untouched balance at the current invariant returns
	// roughly that balance.
	balances := []sdkmath.Int{fp(1000), fp(1000)}
	d, err := e.CalcInvariant(balances)
	require.NoError(err)
	y, err := e.CalcBalanceGivenInvariant(balances, d, 1)
	require.NoError(err)
	require.True(fp(1000).Sub(y).Abs().LTE(sdkmath.NewInt(1_000_000)),
		"solved balance %s not near 1000", y)
}
