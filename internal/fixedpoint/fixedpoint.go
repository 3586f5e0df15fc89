/*

Fixed-point arithmetic at the protocol's canonical 1e18 scale, with the
rounding direction of every multiply/divide chosen by the caller. Rounding
down is used for amounts owed by the protocol and rounding up for amounts
owed to it, so accumulated dust always lands on the pool side.

Values are sdkmath.Int. The representable range is [0, 2^255); operations
that would leave it fail with ErrArithmeticOverflow instead of panicking.

*/

package fixedpoint

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// DecimalPlaces is the canonical scale of every protocol amount.
const DecimalPlaces = 18

// maxBits bounds results so they stay inside sdkmath.Int's 256-bit range
// with headroom for the sign.
const maxBits = 255

var (
	// One is 1.0 at canonical scale.
	One = sdkmath.NewIntWithDecimal(1, DecimalPlaces)

	// Two is 2.0 at canonical scale.
	Two = One.MulRaw(2)

	oneBig = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPlaces), nil)
)

func checked(result *big.Int) (sdkmath.Int, error) {
	if result.BitLen() > maxBits {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrArithmeticOverflow, "result needs %d bits", result.BitLen())
	}
	return sdkmath.NewIntFromBigInt(result), nil
}

// Add returns a + b, failing with ArithmeticOverflow beyond the
// representable range.
func Add(a, b sdkmath.Int) (sdkmath.Int, error) {
	sum := new(big.Int).Add(a.BigInt(), b.BigInt())
	return checked(sum)
}

// Sub returns a - b, failing with ArithmeticUnderflow if b exceeds a.
func Sub(a, b sdkmath.Int) (sdkmath.Int, error) {
	if b.GT(a) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrArithmeticUnderflow, "%s - %s", a, b)
	}
	return a.Sub(b), nil
}

// MulDown returns a * b scaled back down, truncating.
func MulDown(a, b sdkmath.Int) (sdkmath.Int, error) {
	product := new(big.Int).Mul(a.BigInt(), b.BigInt())
	return checked(product.Quo(product, oneBig))
}

// MulUp returns a * b scaled back down, rounding away from zero.
func MulUp(a, b sdkmath.Int) (sdkmath.Int, error) {
	product := new(big.Int).Mul(a.BigInt(), b.BigInt())
	if product.Sign() == 0 {
		return sdkmath.ZeroInt(), nil
	}
	// ((p - 1) / ONE) + 1 rounds any nonzero remainder up.
	product.Sub(product, big.NewInt(1))
	product.Quo(product, oneBig)
	product.Add(product, big.NewInt(1))
	return checked(product)
}

// DivDown returns a / b at scale, truncating. Fails with DivisionByZero
// when b is zero.
func DivDown(a, b sdkmath.Int) (sdkmath.Int, error) {
	if b.IsZero() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrDivisionByZero, "%s / 0", a)
	}
	scaled := new(big.Int).Mul(a.BigInt(), oneBig)
	return checked(scaled.Quo(scaled, b.BigInt()))
}

// DivUp returns a / b at scale, rounding away from zero.
func DivUp(a, b sdkmath.Int) (sdkmath.Int, error) {
	if b.IsZero() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrDivisionByZero, "%s / 0", a)
	}
	if a.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	scaled := new(big.Int).Mul(a.BigInt(), oneBig)
	scaled.Sub(scaled, big.NewInt(1))
	scaled.Quo(scaled, b.BigInt())
	scaled.Add(scaled, big.NewInt(1))
	return checked(scaled)
}

// Complement returns 1 - x, floored at zero.
func Complement(x sdkmath.Int) sdkmath.Int {
	if x.GTE(One) {
		return sdkmath.ZeroInt()
	}
	return One.Sub(x)
}

// Min returns the smaller of a and b.
func Min(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
