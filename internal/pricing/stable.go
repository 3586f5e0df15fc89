package pricing

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// AmpPrecision scales the amplification parameter so small adjustments stay
// representable in integer math.
const AmpPrecision = 1000

const (
	// MinAmp and MaxAmp bound the raw (unscaled) amplification parameter.
	MinAmp = 1
	MaxAmp = 5000

	// solverBudget caps both Newton loops. Well-formed pools converge in a
	// handful of rounds; exhausting the budget signals malformed input.
	solverBudget = 255
)

// StableEngine prices pools whose assets trade near parity, flattening the
// curve around balance with the amplification parameter A.
type StableEngine struct {
	// amp is A pre-multiplied by AmpPrecision.
	amp *big.Int
}

// NewStableEngine validates the raw amplification parameter.
func NewStableEngine(amp uint64) (*StableEngine, error) {
	if amp < MinAmp || amp > MaxAmp {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "amplification %d outside [%d, %d]", amp, MinAmp, MaxAmp)
	}
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(amp), big.NewInt(AmpPrecision))
	return &StableEngine{amp: scaled}, nil
}

func (e *StableEngine) Variant() types.Variant { return types.VariantStable }

// Amp returns the raw amplification parameter.
func (e *StableEngine) Amp() uint64 {
	return new(big.Int).Div(e.amp, big.NewInt(AmpPrecision)).Uint64()
}

// CalcInvariant solves the StableSwap invariant D by Newton iteration:
//
//	A n^n sum(x_i) + D = A D n^n + D^(n+1) / (n^n prod(x_i))
//
// Zero balances are rejected (the invariant is undefined there); failure to
// settle within the budget reports ConvergenceFailure rather than looping.
func (e *StableEngine) CalcInvariant(balances []sdkmath.Int) (sdkmath.Int, error) {
	xs, err := stableBalances(balances)
	if err != nil {
		return sdkmath.Int{}, err
	}

	n := int64(len(xs))
	sum := new(big.Int)
	for _, x := range xs {
		sum.Add(sum, x)
	}

	d := new(big.Int).Set(sum)
	prev := new(big.Int)
	ann := new(big.Int).Mul(e.amp, big.NewInt(n))
	ampPrec := big.NewInt(AmpPrecision)

	for i := 0; i < solverBudget; i++ {
		// dP = D^(n+1) / (n^n prod(x_i)), folded one balance at a time.
		dP := new(big.Int).Set(d)
		for _, x := range xs {
			den := new(big.Int).Mul(x, big.NewInt(n))
			dP.Mul(dP, d)
			dP.Div(dP, den)
		}
		prev.Set(d)

		// D = (Ann*S/prec + dP*n) * D / ((Ann-prec)*D/prec + (n+1)*dP)
		num := new(big.Int).Mul(ann, sum)
		num.Div(num, ampPrec)
		num.Add(num, new(big.Int).Mul(dP, big.NewInt(n)))
		num.Mul(num, d)

		den := new(big.Int).Sub(ann, ampPrec)
		den.Mul(den, d)
		den.Div(den, ampPrec)
		den.Add(den, new(big.Int).Mul(dP, big.NewInt(n+1)))

		d.Div(num, den)

		if converged(d, prev) {
			return sdkmath.NewIntFromBigInt(d), nil
		}
	}
	return sdkmath.Int{}, errorsmod.Wrapf(types.ErrConvergenceFailure, "invariant solver exhausted %d iterations", solverBudget)
}

// CalcBalanceGivenInvariant solves for the balance at index that brings the
// pool back onto invariant d, given every other balance. Used for swaps and
// single-asset exits.
func (e *StableEngine) CalcBalanceGivenInvariant(balances []sdkmath.Int, d sdkmath.Int, index int) (sdkmath.Int, error) {
	if index < 0 || index >= len(balances) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "balance index %d out of range", index)
	}
	xs, err := stableBalances(balances)
	if err != nil {
		return sdkmath.Int{}, err
	}

	n := int64(len(xs))
	dBig := d.BigInt()
	ann := new(big.Int).Mul(e.amp, big.NewInt(n))
	ampPrec := big.NewInt(AmpPrecision)

	// c = D^(n+1) prec / (Ann n^n prod_{j != index}(x_j))
	// b = S + D prec / Ann, with S over every balance except index.
	c := new(big.Int).Set(dBig)
	s := new(big.Int)
	for j, x := range xs {
		if j == index {
			continue
		}
		den := new(big.Int).Mul(x, big.NewInt(n))
		c.Mul(c, dBig)
		c.Div(c, den)
		s.Add(s, x)
	}
	c.Mul(c, dBig)
	c.Mul(c, ampPrec)
	c.Div(c, new(big.Int).Mul(ann, big.NewInt(n)))

	b := new(big.Int).Mul(dBig, ampPrec)
	b.Div(b, ann)
	b.Add(b, s)
	b.Sub(b, dBig)

	y := new(big.Int).Set(dBig)
	prev := new(big.Int)
	for i := 0; i < solverBudget; i++ {
		prev.Set(y)
		// y = (y^2 + c) / (2y + b)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Lsh(y, 1)
		den.Add(den, b)
		if den.Sign() <= 0 {
			return sdkmath.Int{}, errorsmod.Wrap(types.ErrConvergenceFailure, "balance solver left positive domain")
		}
		y.Div(num, den)

		if converged(y, prev) {
			return sdkmath.NewIntFromBigInt(y), nil
		}
	}
	return sdkmath.Int{}, errorsmod.Wrapf(types.ErrConvergenceFailure, "balance solver exhausted %d iterations", solverBudget)
}

// CalcOutGivenIn holds the invariant fixed while moving amountIn into the
// pool and solving for the new output-side balance.
func (e *StableEngine) CalcOutGivenIn(balances []sdkmath.Int, in, out int, amountIn sdkmath.Int) (sdkmath.Int, error) {
	if err := validateIndexes(len(balances), in, out); err != nil {
		return sdkmath.Int{}, err
	}
	if err := validateAmount(amountIn); err != nil {
		return sdkmath.Int{}, err
	}

	d, err := e.CalcInvariant(balances)
	if err != nil {
		return sdkmath.Int{}, err
	}

	shifted := make([]sdkmath.Int, len(balances))
	copy(shifted, balances)
	shifted[in] = shifted[in].Add(amountIn)

	newOut, err := e.CalcBalanceGivenInvariant(shifted, d, out)
	if err != nil {
		return sdkmath.Int{}, err
	}
	// The extra wei absorbs solver slack in the pool's favor.
	amountOut := balances[out].Sub(newOut).SubRaw(1)
	if amountOut.IsNegative() {
		return sdkmath.ZeroInt(), nil
	}
	if amountOut.GTE(balances[out]) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "computed output %s drains balance %s", amountOut, balances[out])
	}
	return amountOut, nil
}

// CalcInGivenOut solves for the input-side balance that keeps the invariant
// after amountOut leaves the pool.
func (e *StableEngine) CalcInGivenOut(balances []sdkmath.Int, in, out int, amountOut sdkmath.Int) (sdkmath.Int, error) {
	if err := validateIndexes(len(balances), in, out); err != nil {
		return sdkmath.Int{}, err
	}
	if err := validateAmount(amountOut); err != nil {
		return sdkmath.Int{}, err
	}
	if amountOut.GTE(balances[out]) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "requested %s, balance %s", amountOut, balances[out])
	}

	d, err := e.CalcInvariant(balances)
	if err != nil {
		return sdkmath.Int{}, err
	}

	shifted := make([]sdkmath.Int, len(balances))
	copy(shifted, balances)
	shifted[out] = shifted[out].Sub(amountOut)

	newIn, err := e.CalcBalanceGivenInvariant(shifted, d, in)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return newIn.Sub(balances[in]).AddRaw(1), nil
}

func stableBalances(balances []sdkmath.Int) ([]*big.Int, error) {
	if len(balances) < 2 {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "stable pool needs at least 2 assets, got %d", len(balances))
	}
	xs := make([]*big.Int, len(balances))
	for i, b := range balances {
		if b.IsNil() || !b.IsPositive() {
			return nil, errorsmod.Wrapf(types.ErrDivisionByZero, "stable invariant undefined for balance %d = %s", i, b)
		}
		xs[i] = b.BigInt()
	}
	return xs, nil
}

func converged(cur, prev *big.Int) bool {
	diff := new(big.Int).Sub(cur, prev)
	return diff.CmpAbs(big.NewInt(1)) <= 0
}
