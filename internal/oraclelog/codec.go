/*

Lossy log-domain codec for oracle accumulator values. A positive fixed-point
magnitude is stored as its integer-quantized logarithm in base 1.0001 (one
"slot" per 0.01% step), so a 256-bit value compresses into an int32 with a
bounded relative reconstruction error: the 0.005% half-step dominates for
medium and large magnitudes, while for tiny raw values the 1-wei floor of
the fixed-point grid dominates instead (up to ~10% at magnitudes around
ten wei).

*/

package oraclelog

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/types"
)

// LowResLog is the compact encoded form: the value's log base 1.0001,
// rounded to the nearest integer step.
type LowResLog int32

const (
	// MaxSlot bounds the encodable range to roughly [1 wei, 3e36 wei].
	MaxSlot = 425000
	MinSlot = -MaxSlot

	// ladderSize covers every bit of MaxSlot: 2^19 > 425000.
	ladderSize = 19
)

// step is 1.0001 at canonical scale.
var step = sdkmath.NewInt(1000100000000000000)

// halfStep is sqrt(1.0001) at canonical scale, the round-to-nearest
// threshold inside one quantization step.
var halfStep = sdkmath.NewInt(1000049998750062496)

// ladder[k] holds 1.0001^(2^k), built once by repeated squaring.
var ladder [ladderSize]sdkmath.Int

func init() {
	ladder[0] = step
	for k := 1; k < ladderSize; k++ {
		sq := new(big.Int).Mul(ladder[k-1].BigInt(), ladder[k-1].BigInt())
		sq.Quo(sq, fixedpoint.One.BigInt())
		ladder[k] = sdkmath.NewIntFromBigInt(sq)
	}
}

// Encode quantizes a positive fixed-point value into its low-resolution
// log slot. Fails with InvalidInput for non-positive values or values
// outside the encodable range.
func Encode(value sdkmath.Int) (LowResLog, error) {
	if value.IsNil() || !value.IsPositive() {
		return 0, errorsmod.Wrapf(types.ErrInvalidInput, "log encoding requires a positive value, got %s", value)
	}

	if value.GTE(fixedpoint.One) {
		slot, err := encodeAboveOne(value)
		return LowResLog(slot), err
	}

	// Values below 1.0 encode through their reciprocal.
	inv, err := fixedpoint.DivDown(fixedpoint.One, value)
	if err != nil {
		return 0, err
	}
	slot, err := encodeAboveOne(inv)
	if err != nil {
		return 0, err
	}
	return LowResLog(-slot), nil
}

func encodeAboveOne(value sdkmath.Int) (int32, error) {
	var slot int32
	rest := value
	var err error
	for k := ladderSize - 1; k >= 0; k-- {
		if rest.GTE(ladder[k]) {
			rest, err = fixedpoint.DivDown(rest, ladder[k])
			if err != nil {
				return 0, err
			}
			slot += 1 << k
		}
	}
	// rest is now in [1, 1.0001); round to the nearest step.
	if rest.GTE(halfStep) {
		slot++
	}
	if slot > MaxSlot {
		return 0, errorsmod.Wrapf(types.ErrInvalidInput, "value %s outside encodable range", value)
	}
	return slot, nil
}

// Decode reconstructs the approximate fixed-point value of a slot via
// binary exponentiation of the dequantized log.
func Decode(slot LowResLog) (sdkmath.Int, error) {
	if slot > MaxSlot || slot < MinSlot {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "slot %d outside [%d, %d]", slot, MinSlot, MaxSlot)
	}

	n := int32(slot)
	neg := n < 0
	if neg {
		n = -n
	}

	value := fixedpoint.One
	var err error
	for k := 0; k < ladderSize; k++ {
		if n&(1<<k) != 0 {
			value, err = fixedpoint.MulDown(value, ladder[k])
			if err != nil {
				return sdkmath.Int{}, err
			}
		}
	}

	if neg {
		return reciprocalNearest(value), nil
	}
	return value, nil
}

// reciprocalNearest computes 1/value rounded to the nearest wei. Floor
// division here would systematically lose a wei, which at the bottom of
// the range is the whole value.
func reciprocalNearest(value sdkmath.Int) sdkmath.Int {
	one := fixedpoint.One.BigInt()
	num := new(big.Int).Mul(one, one)
	v := value.BigInt()
	num.Add(num, new(big.Int).Rsh(v, 1))
	return sdkmath.NewIntFromBigInt(num.Quo(num, v))
}
