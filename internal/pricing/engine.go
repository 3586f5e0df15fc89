/*

Pricing engines compute exchange rates and invariants from balances handed
to them; they never touch pool or vault state. The two variants (weighted
constant-product and stable) implement one interface so pool accounting has
a single dispatch point.

*/

package pricing

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// Engine is the uniform pricing surface a pool delegates to. Balances are
// fixed-point amounts ordered as the pool's assets; in and out are asset
// indexes. Implementations are pure: same inputs, same outputs.
type Engine interface {
	Variant() types.Variant

	// CalcInvariant returns the quantity the variant guarantees to
	// preserve or grow across operations, net of fees.
	CalcInvariant(balances []sdkmath.Int) (sdkmath.Int, error)

	// CalcOutGivenIn prices an exact-input swap, holding the invariant
	// constant pre-fee. Rounding always favors the pool.
	CalcOutGivenIn(balances []sdkmath.Int, in, out int, amountIn sdkmath.Int) (sdkmath.Int, error)

	// CalcInGivenOut is the algebraic inverse of CalcOutGivenIn.
	CalcInGivenOut(balances []sdkmath.Int, in, out int, amountOut sdkmath.Int) (sdkmath.Int, error)
}

func validateIndexes(n, in, out int) error {
	if in == out {
		return errorsmod.Wrap(types.ErrInvalidInput, "swap requires distinct assets")
	}
	if in < 0 || in >= n || out < 0 || out >= n {
		return errorsmod.Wrapf(types.ErrInvalidInput, "asset index out of range (n=%d in=%d out=%d)", n, in, out)
	}
	return nil
}

func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(types.ErrInvalidInput, "amount must be non-negative, got %s", amount)
	}
	return nil
}
