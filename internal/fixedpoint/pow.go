package fixedpoint

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/types"
)

var (
	// maxPowRelativeError is the error budget of the pow approximation,
	// 5e-14 relative. PowDown/PowUp shift the raw result by this margin so
	// the true value is always on the protocol-favorable side.
	maxPowRelativeError = sdkmath.NewInt(50000)

	// powSeriesPrecision stops the fractional-exponent series once terms
	// drop below 1e-14. With the base normalized into [1, sqrt2) the terms
	// shrink by better than 0.42x each, so this is a few dozen rounds.
	powSeriesPrecision = sdkmath.NewInt(10000)

	// maxPowExponent bounds the exponent to a range where intermediate
	// results stay representable for any base of interest.
	maxPowExponent = One.MulRaw(128)

	// sqrtTwo is sqrt(2) at canonical scale, the range-reduction modulus
	// for fractional exponents of arbitrary bases.
	sqrtTwo = sdkmath.NewInt(1_414_213_562_373_095_049)
)

// maxPowSeriesTerms caps the Maclaurin expansion; the normalized domain
// converges far sooner, so hitting the cap signals degenerate input.
const maxPowSeriesTerms = 1000

// PowDown returns base^exp rounded down by the approximation's full error
// margin. base and exp are non-negative fixed-point values.
func PowDown(base, exp sdkmath.Int) (sdkmath.Int, error) {
	raw, err := pow(base, exp)
	if err != nil {
		return sdkmath.Int{}, err
	}
	margin, err := MulUp(raw, maxPowRelativeError)
	if err != nil {
		return sdkmath.Int{}, err
	}
	margin = margin.AddRaw(1)
	if raw.LTE(margin) {
		return sdkmath.ZeroInt(), nil
	}
	return raw.Sub(margin), nil
}

// PowUp returns base^exp rounded up by the approximation's full error
// margin.
func PowUp(base, exp sdkmath.Int) (sdkmath.Int, error) {
	raw, err := pow(base, exp)
	if err != nil {
		return sdkmath.Int{}, err
	}
	margin, err := MulUp(raw, maxPowRelativeError)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return Add(raw, margin.AddRaw(1))
}

// pow splits the exponent into whole and fractional parts: the whole part
// is computed by binary exponentiation, the fractional part by a Maclaurin
// expansion after range-reducing the base into [1, sqrt2).
func pow(base, exp sdkmath.Int) (sdkmath.Int, error) {
	if base.IsNegative() || exp.IsNegative() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "pow requires non-negative operands, got base=%s exp=%s", base, exp)
	}
	if exp.GT(maxPowExponent) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "pow exponent %s above maximum %s", exp, maxPowExponent)
	}
	if exp.IsZero() {
		return One, nil
	}
	if base.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	whole := exp.Quo(One)
	frac := exp.Mod(One)

	result, err := intPow(base, whole.Uint64())
	if err != nil {
		return sdkmath.Int{}, err
	}
	if frac.IsZero() {
		return result, nil
	}

	fracPow, err := fracPowAnyBase(base, frac)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return MulDown(result, fracPow)
}

// intPow computes base^n by repeated squaring.
func intPow(base sdkmath.Int, n uint64) (sdkmath.Int, error) {
	result := One
	sq := base
	var err error
	for n > 0 {
		if n&1 == 1 {
			result, err = MulDown(result, sq)
			if err != nil {
				return sdkmath.Int{}, err
			}
		}
		n >>= 1
		if n > 0 {
			sq, err = MulDown(sq, sq)
			if err != nil {
				return sdkmath.Int{}, err
			}
		}
	}
	return result, nil
}

// fracPowAnyBase computes base^exp for 0 < exp < 1 and any positive base.
// Bases below one go through their reciprocal; bases at or above sqrt2 are
// factored as m * sqrt2^k with m in [1, sqrt2), so the series only ever
// sees a base close to one:
//
//	base^exp = m^exp * sqrt2^(k*exp)
func fracPowAnyBase(base, exp sdkmath.Int) (sdkmath.Int, error) {
	if base.LT(One) {
		inv, err := DivUp(One, base)
		if err != nil {
			return sdkmath.Int{}, err
		}
		powInv, err := fracPowAnyBase(inv, exp)
		if err != nil {
			return sdkmath.Int{}, err
		}
		return DivDown(One, powInv)
	}

	var k int64
	m := base
	var err error
	for m.GTE(sqrtTwo) {
		m, err = DivDown(m, sqrtTwo)
		if err != nil {
			return sdkmath.Int{}, err
		}
		k++
	}

	result, err := powApprox(m, exp)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if k == 0 {
		return result, nil
	}

	// sqrt2^(k*exp), with the product split into whole and fractional
	// exponent parts again.
	kExp := exp.MulRaw(k)
	scale, err := intPow(sqrtTwo, kExp.Quo(One).Uint64())
	if err != nil {
		return sdkmath.Int{}, err
	}
	kFrac := kExp.Mod(One)
	if !kFrac.IsZero() {
		fracScale, err := powApprox(sqrtTwo, kFrac)
		if err != nil {
			return sdkmath.Int{}, err
		}
		scale, err = MulDown(scale, fracScale)
		if err != nil {
			return sdkmath.Int{}, err
		}
	}
	return MulDown(result, scale)
}

// powApprox computes base^exp for 0 < exp < 1 and base in [1, sqrt2] via
// the Maclaurin series of (1+x)^a with x = base - 1:
//
//	sum_{k=0}^inf binom(a, k) x^k
//
// Successive terms shrink geometrically over this domain, so the
// truncation error is bounded by the first dropped term.
func powApprox(base, exp sdkmath.Int) (sdkmath.Int, error) {
	if exp.IsZero() {
		return One, nil
	}

	a := exp
	x, xneg := absDifference(base, One)
	term := One
	sum := One
	negative := false

	for i := int64(1); term.GTE(powSeriesPrecision); i++ {
		if i > maxPowSeriesTerms {
			return sdkmath.Int{}, errorsmod.Wrapf(types.ErrConvergenceFailure, "pow series did not settle for base=%s exp=%s", base, exp)
		}

		bigK := One.MulRaw(i)
		c, cneg := absDifference(a, bigK.Sub(One))

		cx, err := MulDown(c, x)
		if err != nil {
			return sdkmath.Int{}, err
		}
		term, err = MulDown(term, cx)
		if err != nil {
			return sdkmath.Int{}, err
		}
		term, err = DivDown(term, bigK)
		if err != nil {
			return sdkmath.Int{}, err
		}
		if term.IsZero() {
			break
		}

		if xneg {
			negative = !negative
		}
		if cneg {
			negative = !negative
		}
		if negative {
			sum = sum.Sub(term)
		} else {
			sum = sum.Add(term)
		}
	}

	if sum.IsNegative() {
		return sdkmath.ZeroInt(), nil
	}
	return sum, nil
}

// absDifference returns |a - b| and whether a - b is negative.
func absDifference(a, b sdkmath.Int) (sdkmath.Int, bool) {
	if a.GTE(b) {
		return a.Sub(b), false
	}
	return b.Sub(a), true
}
