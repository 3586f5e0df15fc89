package oraclelog

import (
	"math/big"
	"testing"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/types"
)

func TestEncodeRejectsNonPositive(t *testing.T) {
	require := require.New(t)

	_, err := Encode(sdkmath.ZeroInt())
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))

	_, err = Encode(sdkmath.NewInt(-5))
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

func TestOneEncodesToZeroSlot(t *testing.T) {
	require := require.New(t)

	slot, err := Encode(fixedpoint.One)
	require.NoError(err)
	require.Equal(LowResLog(0), slot)

	decoded, err := Decode(0)
	require.NoError(err)
	require.Equal(fixedpoint.One, decoded)
}

func TestRoundTripMediumAndLargeValues(t *testing.T) {
	require := require.New(t)

	cases := []sdkmath.Int{
		fixedpoint.One.MulRaw(2),
		fixedpoint.One.MulRaw(1000),
		sdkmath.NewIntWithDecimal(1, 24),
		sdkmath.NewIntWithDecimal(7, 30),
		sdkmath.NewIntWithDecimal(1, 35),
		sdkmath.NewInt(1_500_000_000_000_000_000),
	}

	// Within the quantized-log regime the reconstruction error is bounded
	// by the half step: 0.005% relative.
	for _, value := range cases {
		slot, err := Encode(value)
		require.NoError(err)
		decoded, err := Decode(slot)
		require.NoError(err)
		requireRelativeError(t, value, decoded, big.NewRat(1, 10_000))
	}
}

func TestRoundTripSmallValues(t *testing.T) {
	require := require.New(t)

	// Below 1.0 the codec works through reciprocals and slots go negative.
	cases := []sdkmath.Int{
		fixedpoint.One.QuoRaw(2),
		fixedpoint.One.QuoRaw(1000),
		sdkmath.NewInt(1_000_000_000), // 1e-9
	}
	for _, value := range cases {
		slot, err := Encode(value)
		require.NoError(err)
		require.Less(int32(slot), int32(0))
		decoded, err := Decode(slot)
		require.NoError(err)
		requireRelativeError(t, value, decoded, big.NewRat(1, 10_000))
	}
}

func TestRoundTripWeiScaleValues(t *testing.T) {
	require := require.New(t)

	// At a handful of wei the 1-wei quantization of the fixed-point grid
	// dominates: the guarantee degrades to 10% relative.
	for _, raw := range []int64{1, 2, 10, 100} {
		value := sdkmath.NewInt(raw)
		slot, err := Encode(value)
		require.NoError(err)
		decoded, err := Decode(slot)
		require.NoError(err)
		requireRelativeError(t, value, decoded, big.NewRat(1, 10))
	}
}

func TestEncodeMonotonic(t *testing.T) {
	require := require.New(t)

	values := []sdkmath.Int{
		sdkmath.NewInt(1000),
		fixedpoint.One.QuoRaw(3),
		fixedpoint.One,
		fixedpoint.One.MulRaw(3),
		sdkmath.NewIntWithDecimal(1, 27),
	}
	var prev LowResLog
	for i, value := range values {
		slot, err := Encode(value)
		require.NoError(err)
		if i > 0 {
			require.Greater(int32(slot), int32(prev))
		}
		prev = slot
	}
}

func TestDecodeRejectsOutOfRangeSlots(t *testing.T) {
	require := require.New(t)

	_, err := Decode(MaxSlot + 1)
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
	_, err = Decode(MinSlot - 1)
	require.True(errorsmod.IsOf(err, types.ErrInvalidInput))
}

// requireRelativeError asserts |got - want| / want <= bound.
func requireRelativeError(t *testing.T, want, got sdkmath.Int, bound *big.Rat) {
	t.Helper()
	diff := new(big.Int).Sub(want.BigInt(), got.BigInt())
	diff.Abs(diff)
	rel := new(big.Rat).SetFrac(diff, want.BigInt())
	require.Truef(t, rel.Cmp(bound) <= 0,
		"want %s, got %s: relative error %s above %s", want, got, rel.FloatString(8), bound.FloatString(8))
}
