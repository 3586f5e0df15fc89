package pricing

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/types"
)

var (
	// maxInRatio and maxOutRatio keep single swaps inside the region where
	// the pow approximation meets its error bound: at most 30% of the
	// relevant balance may enter or leave in one swap.
	maxInRatio  = sdkmath.NewInt(300000000000000000)
	maxOutRatio = sdkmath.NewInt(300000000000000000)

	// minWeight is 1%; thinner weights push the pow exponent outside its
	// safe numeric range.
	minWeight = sdkmath.NewInt(10000000000000000)

	// maxWeightRatio caps the weight-ratio exponent at the pow domain
	// bound. Beyond it the swap cannot be priced inside the approximation's
	// error budget, so the pool refuses to quote.
	maxWeightRatio = fixedpoint.One.MulRaw(128)
)

// WeightedEngine prices pools with the invariant prod(B_i^w_i), w_i
// normalized to sum to one.
type WeightedEngine struct {
	weights []sdkmath.Int
}

// NewWeightedEngine validates and fixes the normalized weights of a pool.
func NewWeightedEngine(weights []sdkmath.Int) (*WeightedEngine, error) {
	if len(weights) < 2 {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "weighted pool needs at least 2 assets, got %d", len(weights))
	}
	sum := sdkmath.ZeroInt()
	for i, w := range weights {
		if w.IsNil() || w.LT(minWeight) {
			return nil, errorsmod.Wrapf(types.ErrInvalidInput, "weight %d below minimum %s", i, minWeight)
		}
		sum = sum.Add(w)
	}
	if !sum.Equal(fixedpoint.One) {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "weights must sum to one, got %s", sum)
	}
	out := make([]sdkmath.Int, len(weights))
	copy(out, weights)
	return &WeightedEngine{weights: out}, nil
}

func (e *WeightedEngine) Variant() types.Variant { return types.VariantWeighted }

// Weights returns a copy of the normalized weights.
func (e *WeightedEngine) Weights() []sdkmath.Int {
	out := make([]sdkmath.Int, len(e.weights))
	copy(out, e.weights)
	return out
}

// CalcInvariant computes prod(B_i^w_i), rounding down so a recomputed
// invariant never overstates pool value.
func (e *WeightedEngine) CalcInvariant(balances []sdkmath.Int) (sdkmath.Int, error) {
	if len(balances) != len(e.weights) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "got %d balances for %d weights", len(balances), len(e.weights))
	}
	invariant := fixedpoint.One
	for i, b := range balances {
		term, err := fixedpoint.PowDown(b, e.weights[i])
		if err != nil {
			return sdkmath.Int{}, err
		}
		invariant, err = fixedpoint.MulDown(invariant, term)
		if err != nil {
			return sdkmath.Int{}, err
		}
	}
	return invariant, nil
}

// CalcOutGivenIn solves the invariant for the output balance:
//
//	amountOut = balanceOut * (1 - (balanceIn / (balanceIn + amountIn))^(wIn/wOut))
//
// Every rounding step biases the output downward.
func (e *WeightedEngine) CalcOutGivenIn(balances []sdkmath.Int, in, out int, amountIn sdkmath.Int) (sdkmath.Int, error) {
	if err := validateIndexes(len(balances), in, out); err != nil {
		return sdkmath.Int{}, err
	}
	if err := validateAmount(amountIn); err != nil {
		return sdkmath.Int{}, err
	}
	balanceIn, balanceOut := balances[in], balances[out]

	maxIn, err := fixedpoint.MulDown(balanceIn, maxInRatio)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amountIn.GT(maxIn) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "amount in %s above maximum %s", amountIn, maxIn)
	}

	denominator, err := fixedpoint.Add(balanceIn, amountIn)
	if err != nil {
		return sdkmath.Int{}, err
	}
	base, err := fixedpoint.DivUp(balanceIn, denominator)
	if err != nil {
		return sdkmath.Int{}, err
	}
	exponent, err := fixedpoint.DivDown(e.weights[in], e.weights[out])
	if err != nil {
		return sdkmath.Int{}, err
	}
	if exponent.GT(maxWeightRatio) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "weight ratio %s outside safe pricing range", exponent)
	}
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fixedpoint.MulDown(balanceOut, fixedpoint.Complement(power))
}

// CalcInGivenOut is the inverse:
//
//	amountIn = balanceIn * ((balanceOut / (balanceOut - amountOut))^(wOut/wIn) - 1)
//
// rounded so the required input is never understated.
func (e *WeightedEngine) CalcInGivenOut(balances []sdkmath.Int, in, out int, amountOut sdkmath.Int) (sdkmath.Int, error) {
	if err := validateIndexes(len(balances), in, out); err != nil {
		return sdkmath.Int{}, err
	}
	if err := validateAmount(amountOut); err != nil {
		return sdkmath.Int{}, err
	}
	balanceIn, balanceOut := balances[in], balances[out]

	maxOut, err := fixedpoint.MulDown(balanceOut, maxOutRatio)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amountOut.GT(maxOut) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "amount out %s above maximum %s", amountOut, maxOut)
	}

	remaining, err := fixedpoint.Sub(balanceOut, amountOut)
	if err != nil {
		return sdkmath.Int{}, err
	}
	base, err := fixedpoint.DivUp(balanceOut, remaining)
	if err != nil {
		return sdkmath.Int{}, err
	}
	exponent, err := fixedpoint.DivUp(e.weights[out], e.weights[in])
	if err != nil {
		return sdkmath.Int{}, err
	}
	if exponent.GT(maxWeightRatio) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "weight ratio %s outside safe pricing range", exponent)
	}
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return sdkmath.Int{}, err
	}
	ratio, err := fixedpoint.Sub(power, fixedpoint.One)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fixedpoint.MulUp(balanceIn, ratio)
}
