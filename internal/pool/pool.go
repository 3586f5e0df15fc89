/*

Per-pool bookkeeping: balances, share supply, fee application and the
invariant backstop. Pools never talk to the outside world; the vault hands
a pool (or a scratch copy of one) each operation and owns the commit.

The backstop after every mutation is the correctness net under the pricing
engines: swaps must not shrink the absolute invariant, and joins/exits must
not shrink the invariant per share, beyond a rounding tolerance.

*/

package pool

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/pricing"
	"github.com/crestline-fi/vaultcore/internal/types"
)

var (
	// maxSwapFee is 10%.
	maxSwapFee = sdkmath.NewInt(100000000000000000)

	// invariantTolerance (1e-12 relative) absorbs the pow approximation
	// margins when an invariant is recomputed for the backstop.
	invariantTolerance = sdkmath.NewInt(1000000)
)

// Params carries the variant-specific configuration of a new pool.
type Params struct {
	// Weights: weighted pools only, normalized, parallel to the assets.
	Weights []sdkmath.Int `json:"weights,omitempty"`
	// Amp: stable pools only, raw amplification parameter.
	Amp uint64 `json:"amp,omitempty"`

	SwapFee  sdkmath.Int   `json:"swap_fee"`
	Operator types.Account `json:"operator"`
}

// Pool is the mutable state of one registered pool.
type Pool struct {
	ID       types.PoolID
	Variant  types.Variant
	Assets   []types.Asset
	Engine   pricing.Engine
	Balances []sdkmath.Int
	// TotalShares is the pool-share supply; per-account holdings live in
	// the vault's share ledger.
	TotalShares sdkmath.Int
	SwapFee     sdkmath.Int
	Operator    types.Account
}

// New validates configuration and constructs an empty pool.
func New(id types.PoolID, assets []types.Asset, variant types.Variant, params Params) (*Pool, error) {
	if len(assets) < 2 {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "pool needs at least 2 assets, got %d", len(assets))
	}
	seen := make(map[types.Asset]bool, len(assets))
	for _, a := range assets {
		if a == "" {
			return nil, errorsmod.Wrap(types.ErrInvalidInput, "empty asset identifier")
		}
		if seen[a] {
			return nil, errorsmod.Wrapf(types.ErrInvalidInput, "duplicate asset %s", a)
		}
		seen[a] = true
	}
	if params.SwapFee.IsNil() || params.SwapFee.IsNegative() || params.SwapFee.GT(maxSwapFee) {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "swap fee %s outside [0, %s]", params.SwapFee, maxSwapFee)
	}
	if params.Operator == "" {
		return nil, errorsmod.Wrap(types.ErrInvalidInput, "pool operator required")
	}

	var engine pricing.Engine
	switch variant {
	case types.VariantWeighted:
		if len(params.Weights) != len(assets) {
			return nil, errorsmod.Wrapf(types.ErrInvalidInput, "got %d weights for %d assets", len(params.Weights), len(assets))
		}
		we, err := pricing.NewWeightedEngine(params.Weights)
		if err != nil {
			return nil, err
		}
		engine = we
	case types.VariantStable:
		se, err := pricing.NewStableEngine(params.Amp)
		if err != nil {
			return nil, err
		}
		engine = se
	default:
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "unknown pricing variant %q", variant)
	}

	balances := make([]sdkmath.Int, len(assets))
	for i := range balances {
		balances[i] = sdkmath.ZeroInt()
	}
	orderedAssets := make([]types.Asset, len(assets))
	copy(orderedAssets, assets)

	return &Pool{
		ID:          id,
		Variant:     variant,
		Assets:      orderedAssets,
		Engine:      engine,
		Balances:    balances,
		TotalShares: sdkmath.ZeroInt(),
		SwapFee:     params.SwapFee,
		Operator:    params.Operator,
	}, nil
}

// Clone deep-copies the mutable state for the vault's scratch ledger. The
// engine is immutable and shared.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.Assets = make([]types.Asset, len(p.Assets))
	copy(cp.Assets, p.Assets)
	cp.Balances = make([]sdkmath.Int, len(p.Balances))
	copy(cp.Balances, p.Balances)
	return &cp
}

// Summary projects the pool into its read-only query form.
func (p *Pool) Summary() types.PoolSummary {
	balances := make([]types.AssetAmount, len(p.Assets))
	for i, a := range p.Assets {
		balances[i] = types.AssetAmount{Asset: a, Amount: p.Balances[i]}
	}
	return types.PoolSummary{
		ID:          p.ID,
		Variant:     p.Variant,
		Assets:      append([]types.Asset(nil), p.Assets...),
		Balances:    balances,
		TotalShares: p.TotalShares,
		SwapFee:     p.SwapFee,
		Operator:    p.Operator,
	}
}

// IndexOf resolves an asset to its position in the pool's ordered set.
func (p *Pool) IndexOf(asset types.Asset) (int, error) {
	for i, a := range p.Assets {
		if a == asset {
			return i, nil
		}
	}
	return 0, errorsmod.Wrapf(types.ErrInvalidInput, "asset %s not in pool %d", asset, p.ID)
}

// Invariant recomputes the pool's pricing invariant from current balances.
func (p *Pool) Invariant() (sdkmath.Int, error) {
	return p.Engine.CalcInvariant(p.Balances)
}

// SwapGivenIn executes an exact-input swap. The swap fee is taken from the
// input, rounded up in the pool's favor; the protocol's cut of the fee
// (protocolFeeRatio of it) leaves the pool and is returned to the caller
// for accrual, the rest stays with the liquidity providers.
func (p *Pool) SwapGivenIn(assetIn, assetOut types.Asset, amountIn, protocolFeeRatio sdkmath.Int) (amountOut, protocolFee sdkmath.Int, err error) {
	in, err := p.IndexOf(assetIn)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	out, err := p.IndexOf(assetOut)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "swap amount must be positive, got %s", amountIn)
	}

	feeAmount, err := fixedpoint.MulUp(amountIn, p.SwapFee)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	netIn := amountIn.Sub(feeAmount)

	preInv, err := p.Invariant()
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	amountOut, err = p.Engine.CalcOutGivenIn(p.Balances, in, out, netIn)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	protocolFee, err = fixedpoint.MulDown(feeAmount, protocolFeeRatio)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	p.Balances[in] = p.Balances[in].Add(amountIn).Sub(protocolFee)
	p.Balances[out] = p.Balances[out].Sub(amountOut)

	if err := p.checkInvariantGrew(preInv); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return amountOut, protocolFee, nil
}

// SwapGivenOut executes an exact-output swap: the engine prices the
// pre-fee input, then the fee is grossed up on top of it.
func (p *Pool) SwapGivenOut(assetIn, assetOut types.Asset, amountOut, protocolFeeRatio sdkmath.Int) (amountIn, protocolFee sdkmath.Int, err error) {
	in, err := p.IndexOf(assetIn)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	out, err := p.IndexOf(assetOut)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if amountOut.IsNil() || !amountOut.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "swap amount must be positive, got %s", amountOut)
	}

	preInv, err := p.Invariant()
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	baseIn, err := p.Engine.CalcInGivenOut(p.Balances, in, out, amountOut)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amountIn, err = fixedpoint.DivUp(baseIn, fixedpoint.Complement(p.SwapFee))
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	feeAmount := amountIn.Sub(baseIn)

	protocolFee, err = fixedpoint.MulDown(feeAmount, protocolFeeRatio)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	p.Balances[in] = p.Balances[in].Add(amountIn).Sub(protocolFee)
	p.Balances[out] = p.Balances[out].Sub(amountOut)

	if err := p.checkInvariantGrew(preInv); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return amountIn, protocolFee, nil
}

// Join deposits amountsIn and mints shares in proportion to invariant
// growth, rounded down. The first join of an empty pool must cover every
// asset and mints the invariant itself as the initial supply.
func (p *Pool) Join(amountsIn []types.AssetAmount, minSharesOut sdkmath.Int) (sdkmath.Int, error) {
	if len(amountsIn) == 0 {
		return sdkmath.Int{}, errorsmod.Wrap(types.ErrInvalidInput, "join requires at least one amount")
	}
	for _, aa := range amountsIn {
		if aa.Amount.IsNil() || !aa.Amount.IsPositive() {
			return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "join amount for %s must be positive, got %s", aa.Asset, aa.Amount)
		}
		if _, err := p.IndexOf(aa.Asset); err != nil {
			return sdkmath.Int{}, err
		}
	}

	initial := p.TotalShares.IsZero()
	var preInv sdkmath.Int
	var err error
	if !initial {
		preInv, err = p.Invariant()
		if err != nil {
			return sdkmath.Int{}, err
		}
	}
	preShares := p.TotalShares

	for _, aa := range amountsIn {
		i, _ := p.IndexOf(aa.Asset)
		p.Balances[i] = p.Balances[i].Add(aa.Amount)
	}

	postInv, err := p.Invariant()
	if err != nil {
		return sdkmath.Int{}, err
	}

	var sharesOut sdkmath.Int
	if initial {
		sharesOut = postInv
	} else {
		ratio, err := fixedpoint.DivDown(postInv, preInv)
		if err != nil {
			return sdkmath.Int{}, err
		}
		growth, err := fixedpoint.Sub(ratio, fixedpoint.One)
		if err != nil {
			return sdkmath.Int{}, errorsmod.Wrap(types.ErrInvariantViolation, "join shrank the invariant")
		}
		sharesOut, err = fixedpoint.MulDown(preShares, growth)
		if err != nil {
			return sdkmath.Int{}, err
		}
	}
	if !sharesOut.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrap(types.ErrInvalidInput, "join too small to mint shares")
	}
	if !minSharesOut.IsNil() && sharesOut.LT(minSharesOut) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrSlippageExceeded, "shares out %s below minimum %s", sharesOut, minSharesOut)
	}

	p.TotalShares = p.TotalShares.Add(sharesOut)

	if !initial {
		if err := p.checkShareValueGrew(preInv, preShares, postInv); err != nil {
			return sdkmath.Int{}, err
		}
	}
	return sharesOut, nil
}

// Exit burns sharesIn and pays out the proportional slice of every
// balance, rounded down.
func (p *Pool) Exit(sharesIn sdkmath.Int, minAmountsOut []types.AssetAmount) ([]types.AssetAmount, error) {
	if sharesIn.IsNil() || !sharesIn.IsPositive() {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "shares in must be positive, got %s", sharesIn)
	}
	if sharesIn.GT(p.TotalShares) {
		return nil, errorsmod.Wrapf(types.ErrInsufficientBalance, "shares in %s exceeds supply %s", sharesIn, p.TotalShares)
	}

	preInv, err := p.Invariant()
	if err != nil {
		return nil, err
	}
	preShares := p.TotalShares

	ratio, err := fixedpoint.DivDown(sharesIn, p.TotalShares)
	if err != nil {
		return nil, err
	}

	amountsOut := make([]types.AssetAmount, len(p.Assets))
	for i, a := range p.Assets {
		amt, err := fixedpoint.MulDown(p.Balances[i], ratio)
		if err != nil {
			return nil, err
		}
		amountsOut[i] = types.AssetAmount{Asset: a, Amount: amt}
		p.Balances[i] = p.Balances[i].Sub(amt)
	}
	p.TotalShares = p.TotalShares.Sub(sharesIn)

	for _, min := range minAmountsOut {
		i, err := p.IndexOf(min.Asset)
		if err != nil {
			return nil, err
		}
		if amountsOut[i].Amount.LT(min.Amount) {
			return nil, errorsmod.Wrapf(types.ErrSlippageExceeded, "amount out %s %s below minimum %s", amountsOut[i].Amount, min.Asset, min.Amount)
		}
	}

	// Full exit leaves nothing to backstop.
	if p.TotalShares.IsZero() {
		return amountsOut, nil
	}

	postInv, err := p.Invariant()
	if err != nil {
		return nil, err
	}
	if err := p.checkShareValueGrew(preInv, preShares, postInv); err != nil {
		return nil, err
	}
	return amountsOut, nil
}

// ExitSingleAsset burns shares against a single asset, solving the stable
// invariant for the reduced target. Weighted pools exit proportionally
// only.
func (p *Pool) ExitSingleAsset(sharesIn sdkmath.Int, assetOut types.Asset, minAmountOut sdkmath.Int) (sdkmath.Int, error) {
	se, ok := p.Engine.(*pricing.StableEngine)
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrap(types.ErrInvalidInput, "single-asset exit is only supported for stable pools")
	}
	if sharesIn.IsNil() || !sharesIn.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidInput, "shares in must be positive, got %s", sharesIn)
	}
	if sharesIn.GTE(p.TotalShares) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientBalance, "single-asset exit cannot drain supply %s", p.TotalShares)
	}
	out, err := p.IndexOf(assetOut)
	if err != nil {
		return sdkmath.Int{}, err
	}

	preInv, err := p.Invariant()
	if err != nil {
		return sdkmath.Int{}, err
	}
	preShares := p.TotalShares

	ratio, err := fixedpoint.DivDown(sharesIn, p.TotalShares)
	if err != nil {
		return sdkmath.Int{}, err
	}
	removed, err := fixedpoint.MulDown(preInv, ratio)
	if err != nil {
		return sdkmath.Int{}, err
	}
	targetInv := preInv.Sub(removed)

	newBalance, err := se.CalcBalanceGivenInvariant(p.Balances, targetInv, out)
	if err != nil {
		return sdkmath.Int{}, err
	}
	amountOut := p.Balances[out].Sub(newBalance).SubRaw(1)
	if !amountOut.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrap(types.ErrInvalidInput, "exit too small to pay out")
	}
	if amountOut.GTE(p.Balances[out]) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "exit would drain %s balance %s", assetOut, p.Balances[out])
	}
	if !minAmountOut.IsNil() && amountOut.LT(minAmountOut) {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrSlippageExceeded, "amount out %s below minimum %s", amountOut, minAmountOut)
	}

	p.Balances[out] = p.Balances[out].Sub(amountOut)
	p.TotalShares = p.TotalShares.Sub(sharesIn)

	postInv, err := p.Invariant()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := p.checkShareValueGrew(preInv, preShares, postInv); err != nil {
		return sdkmath.Int{}, err
	}
	return amountOut, nil
}

// checkInvariantGrew fails with InvariantViolation when a swap shrank the
// absolute invariant beyond the rounding tolerance.
func (p *Pool) checkInvariantGrew(preInv sdkmath.Int) error {
	postInv, err := p.Invariant()
	if err != nil {
		return err
	}
	slack, err := fixedpoint.MulUp(preInv, invariantTolerance)
	if err != nil {
		return err
	}
	if postInv.Add(slack).LT(preInv) {
		return errorsmod.Wrapf(types.ErrInvariantViolation, "invariant fell from %s to %s", preInv, postInv)
	}
	return nil
}

// checkShareValueGrew fails with InvariantViolation when a join or exit
// shrank invariant-per-share beyond the rounding tolerance: it compares
// postInv * preShares against preInv * postShares.
func (p *Pool) checkShareValueGrew(preInv, preShares, postInv sdkmath.Int) error {
	lhs, err := fixedpoint.MulDown(postInv, preShares)
	if err != nil {
		return err
	}
	rhs, err := fixedpoint.MulDown(preInv, p.TotalShares)
	if err != nil {
		return err
	}
	slack, err := fixedpoint.MulUp(rhs, invariantTolerance)
	if err != nil {
		return err
	}
	if lhs.Add(slack).LT(rhs) {
		return errorsmod.Wrapf(types.ErrInvariantViolation, "share value fell (%s/%s -> %s/%s)", preInv, preShares, postInv, p.TotalShares)
	}
	return nil
}
