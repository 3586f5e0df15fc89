package fixedpoint

import (
	"testing"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/crestline-fi/vaultcore/internal/types"
)

func fp(whole int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(whole, DecimalPlaces)
}

func TestMulRoundingDirections(t *testing.T) {
	require := require.New(t)

	// 1/3 * 1 truncates down, rounds up, and the two straddle the true value.
	third := One.QuoRaw(3)
	down, err := MulDown(third, third)
	require.NoError(err)
	up, err := MulUp(third, third)
	require.NoError(err)
	require.True(down.LT(up))
	require.Equal(sdkmath.NewInt(1), up.Sub(down))

	// Exact products agree in both directions.
	down, err = MulDown(fp(6), fp(7))
	require.NoError(err)
	up, err = MulUp(fp(6), fp(7))
	require.NoError(err)
	require.Equal(fp(42), down)
	require.Equal(fp(42), up)
}

func TestDivRoundingDirections(t *testing.T) {
	require := require.New(t)

	down, err := DivDown(fp(10), fp(3))
	require.NoError(err)
	up, err := DivUp(fp(10), fp(3))
	require.NoError(err)
	require.True(down.LT(up))
	require.Equal(sdkmath.NewInt(1), up.Sub(down))

	down, err = DivDown(fp(10), fp(2))
	require.NoError(err)
	up, err = DivUp(fp(10), fp(2))
	require.NoError(err)
	require.Equal(fp(5), down)
	require.Equal(fp(5), up)
}

func TestDivByZero(t *testing.T) {
	require := require.New(t)

	_, err := DivDown(One, sdkmath.ZeroInt())
	require.True(errorsmod.IsOf(err, types.ErrDivisionByZero))
	_, err = DivUp(One, sdkmath.ZeroInt())
	require.True(errorsmod.IsOf(err, types.ErrDivisionByZero))
}

func TestSubUnderflow(t *testing.T) {
	require := require.New(t)

	diff, err := Sub(fp(5), fp(3))
	require.NoError(err)
	require.Equal(fp(2), diff)

	_, err = Sub(fp(3), fp(5))
	require.True(errorsmod.IsOf(err, types.ErrArithmeticUnderflow))
}

func TestOverflowDetected(t *testing.T) {
	require := require.New(t)

	huge := sdkmath.NewIntWithDecimal(1, 70)
	_, err := MulDown(huge, huge)
	require.True(errorsmod.IsOf(err, types.ErrArithmeticOverflow))

	_, err = Add(huge.MulRaw(10000), huge.MulRaw(10000))
	require.True(errorsmod.IsOf(err, types.ErrArithmeticOverflow))
}

func TestComplement(t *testing.T) {
	require := require.New(t)

	require.Equal(One, Complement(sdkmath.ZeroInt()))
	require.True(Complement(One).IsZero())
	require.True(Complement(fp(2)).IsZero())

	fee := sdkmath.NewInt(1_000_000_000_000_000) // 0.1%
	require.Equal(One.Sub(fee), Complement(fee))
}

func TestPowWholeExponent(t *testing.T) {
	require := require.New(t)

	// 2^3 = 8, computed by repeated squaring; the directional margins
	// straddle the exact value.
	down, err := PowDown(fp(2), fp(3))
	require.NoError(err)
	up, err := PowUp(fp(2), fp(3))
	require.NoError(err)
	require.True(down.LTE(fp(8)))
	require.True(up.GTE(fp(8)))
	requireWithin(t, fp(8), down, sdkmath.NewInt(1_000_000))
	requireWithin(t, fp(8), up, sdkmath.NewInt(1_000_000))
}

func TestPowFractionalExponent(t *testing.T) {
	require := require.New(t)

	// 1.21^0.5 = 1.1.
	base := sdkmath.NewInt(1_210_000_000_000_000_000)
	exp := sdkmath.NewInt(500_000_000_000_000_000)
	expected := sdkmath.NewInt(1_100_000_000_000_000_000)

	down, err := PowDown(base, exp)
	require.NoError(err)
	up, err := PowUp(base, exp)
	require.NoError(err)
	require.True(down.LTE(up))
	requireWithin(t, expected, down, sdkmath.NewInt(1_000_000_000))
	requireWithin(t, expected, up, sdkmath.NewInt(1_000_000_000))
}

func TestPowLargeBaseFractionalExponent(t *testing.T) {
	require := require.New(t)

	// 100^0.5 = 10, via range reduction of the base.
	half := One.QuoRaw(2)
	down, err := PowDown(fp(100), half)
	require.NoError(err)
	requireWithin(t, fp(10), down, sdkmath.NewInt(1_000_000_000))

	// 0.01^0.5 = 0.1, via the reciprocal path.
	hundredth := One.QuoRaw(100)
	down, err = PowDown(hundredth, half)
	require.NoError(err)
	requireWithin(t, One.QuoRaw(10), down, sdkmath.NewInt(1_000_000_000))
}

func TestPowDomainErrors(t *testing.T) {
	require := require.New(t)

	_, err := PowDown(fp(2), maxPowExponent.AddRaw(1))
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))

	_, err = PowDown(sdkmath.NewInt(-1), One)
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

func TestPowEdgeCases(t *testing.T) {
	require := require.New(t)

	raw, err := pow(fp(7), sdkmath.ZeroInt())
	require.NoError(err)
	require.Equal(One, raw)

	raw, err = pow(sdkmath.ZeroInt(), fp(3))
	require.NoError(err)
	require.True(raw.IsZero())
}

// requireWithin asserts got is within tolerance of want.
func requireWithin(t *testing.T, want, got, tolerance sdkmath.Int) {
	t.Helper()
	diff := want.Sub(got).Abs()
	require.Truef(t, diff.LTE(tolerance), "want %s, got %s (diff %s > %s)", want, got, diff, tolerance)
}
