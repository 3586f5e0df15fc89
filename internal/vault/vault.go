/*

The vault is the single ledger and settlement engine. It owns every pool's
balances, every account's internal balances and pool shares, and the
accrued protocol fees; pools only do math. All mutations flow through the
batch executor or the flash-loan entrypoint, both of which hold the
execution guard for their full duration, so at most one top-level call is
in flight at a time and any reentrant call fails fast.

*/

package vault

import (
	"context"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/logger"
	"github.com/crestline-fi/vaultcore/internal/pool"
	"github.com/crestline-fi/vaultcore/internal/types"
)

var vaultLogger = logger.GetForComponent("vault")

// Config carries the vault-wide economic and authority parameters.
type Config struct {
	// ProtocolFeeRatio is the protocol's cut of every swap fee, 18-decimal.
	ProtocolFeeRatio sdkmath.Int
	// FlashLoanFee is the fee rate charged on flash loan principal,
	// 18-decimal.
	FlashLoanFee sdkmath.Int
	// PoolAuthority is the only account allowed to register pools.
	PoolAuthority types.Account
	// FeeCollector is the only account allowed to withdraw protocol fees.
	FeeCollector types.Account
}

// BatchRecorder journals batch receipts. The vault never fails a batch on
// a journaling error.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, receipt types.BatchReceipt) error
}

// Vault is the protocol core.
type Vault struct {
	mu        sync.Mutex
	executing bool

	pools      map[types.PoolID]*pool.Pool
	nextPoolID types.PoolID

	// internal is per-account internal balances; internalTotals is the
	// running per-asset sum over all accounts, kept for the solvency check.
	internal       map[types.Account]map[types.Asset]sdkmath.Int
	internalTotals map[types.Asset]sdkmath.Int

	// shares holds pool-share balances per account. Shares never leave
	// the vault's ledger.
	shares map[types.PoolID]map[types.Account]sdkmath.Int

	// delegates[owner][relayer] permits relayer to submit batches that
	// settle against owner's balances.
	delegates map[types.Account]map[types.Account]bool

	protocolFees map[types.Asset]sdkmath.Int

	cfg      Config
	backend  TokenBackend
	recorder BatchRecorder
	metrics  *Metrics
}

// New constructs a vault over the given token backend. recorder and
// metrics may be nil.
func New(cfg Config, backend TokenBackend, recorder BatchRecorder, metrics *Metrics) (*Vault, error) {
	if backend == nil {
		return nil, errorsmod.Wrap(types.ErrInvalidInput, "token backend required")
	}
	if cfg.ProtocolFeeRatio.IsNil() || cfg.ProtocolFeeRatio.IsNegative() || cfg.ProtocolFeeRatio.GT(oneRatio) {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "protocol fee ratio %s outside [0, 1]", cfg.ProtocolFeeRatio)
	}
	if cfg.FlashLoanFee.IsNil() || cfg.FlashLoanFee.IsNegative() || cfg.FlashLoanFee.GT(oneRatio) {
		return nil, errorsmod.Wrapf(types.ErrInvalidInput, "flash loan fee %s outside [0, 1]", cfg.FlashLoanFee)
	}
	return &Vault{
		pools:          make(map[types.PoolID]*pool.Pool),
		nextPoolID:     1,
		internal:       make(map[types.Account]map[types.Asset]sdkmath.Int),
		internalTotals: make(map[types.Asset]sdkmath.Int),
		shares:         make(map[types.PoolID]map[types.Account]sdkmath.Int),
		delegates:      make(map[types.Account]map[types.Account]bool),
		protocolFees:   make(map[types.Asset]sdkmath.Int),
		cfg:            cfg,
		backend:        backend,
		recorder:       recorder,
		metrics:        metrics,
	}, nil
}

// oneRatio is 100% at 18 decimals, the upper bound for fee parameters.
var oneRatio = sdkmath.NewInt(1_000_000_000_000_000_000)

// acquire takes the execution guard. It fails instead of blocking when a
// call is already in flight, which is how a reentrant call surfaces: the
// guard stays held across external transfers and flash callbacks, so any
// call made from inside them lands here.
func (v *Vault) acquire() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.executing {
		return errorsmod.Wrap(types.ErrReentrancy, "vault call already in flight")
	}
	v.executing = true
	return nil
}

func (v *Vault) release() {
	v.mu.Lock()
	v.executing = false
	v.mu.Unlock()
}

// RegisterPool creates a pool under the configured authority and returns
// its assigned ID.
func (v *Vault) RegisterPool(caller types.Account, assets []types.Asset, variant types.Variant, params pool.Params) (types.PoolID, error) {
	if err := v.acquire(); err != nil {
		return 0, err
	}
	defer v.release()

	if caller != v.cfg.PoolAuthority {
		return 0, errorsmod.Wrapf(types.ErrUnauthorized, "%s is not the pool authority", caller)
	}

	id := v.nextPoolID
	p, err := pool.New(id, assets, variant, params)
	if err != nil {
		return 0, err
	}
	v.nextPoolID++
	v.pools[id] = p
	v.shares[id] = make(map[types.Account]sdkmath.Int)

	vaultLogger.Info().
		Uint64("poolId", uint64(id)).
		Str("variant", string(variant)).
		Int("assets", len(assets)).
		Str("operator", string(params.Operator)).
		Msg("Registered pool")
	return id, nil
}

// SetSwapFee updates a pool's swap fee. Only the pool operator or one of
// its delegates may call it.
func (v *Vault) SetSwapFee(caller types.Account, id types.PoolID, fee sdkmath.Int) error {
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	p, ok := v.pools[id]
	if !ok {
		return errorsmod.Wrapf(types.ErrPoolNotFound, "pool %d", id)
	}
	if caller != p.Operator && !v.delegates[p.Operator][caller] {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s may not manage pool %d", caller, id)
	}
	// Revalidate through the constructor so fee bounds live in one place.
	if _, err := pool.New(id, p.Assets, p.Variant, pool.Params{
		Weights:  weightsOf(p),
		Amp:      ampOf(p),
		SwapFee:  fee,
		Operator: p.Operator,
	}); err != nil {
		return err
	}
	p.SwapFee = fee
	vaultLogger.Info().Uint64("poolId", uint64(id)).Str("fee", fee.String()).Msg("Updated swap fee")
	return nil
}

// SetDelegate grants or revokes a relayer's right to act for owner: to
// submit batches settling against owner's balances and to manage pools
// owner operates.
func (v *Vault) SetDelegate(owner, relayer types.Account, allowed bool) error {
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	if owner == "" || relayer == "" || owner == relayer {
		return errorsmod.Wrap(types.ErrInvalidInput, "delegation needs two distinct accounts")
	}
	if allowed {
		if v.delegates[owner] == nil {
			v.delegates[owner] = make(map[types.Account]bool)
		}
		v.delegates[owner][relayer] = true
	} else {
		delete(v.delegates[owner], relayer)
	}
	vaultLogger.Info().
		Str("owner", string(owner)).
		Str("relayer", string(relayer)).
		Bool("allowed", allowed).
		Msg("Updated delegation")
	return nil
}

// GetPool returns a pool's summary.
func (v *Vault) GetPool(id types.PoolID) (types.PoolSummary, error) {
	if err := v.acquire(); err != nil {
		return types.PoolSummary{}, err
	}
	defer v.release()

	p, ok := v.pools[id]
	if !ok {
		return types.PoolSummary{}, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %d", id)
	}
	return p.Summary(), nil
}

// ListPools returns every pool's summary ordered by ID.
func (v *Vault) ListPools() ([]types.PoolSummary, error) {
	if err := v.acquire(); err != nil {
		return nil, err
	}
	defer v.release()

	out := make([]types.PoolSummary, 0, len(v.pools))
	for _, p := range v.pools {
		out = append(out, p.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InternalBalance returns an account's internal balances sorted by asset.
func (v *Vault) InternalBalance(account types.Account) ([]types.AssetAmount, error) {
	if err := v.acquire(); err != nil {
		return nil, err
	}
	defer v.release()

	out := make([]types.AssetAmount, 0, len(v.internal[account]))
	for asset, amt := range v.internal[account] {
		if amt.IsPositive() {
			out = append(out, types.AssetAmount{Asset: asset, Amount: amt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// ShareBalance returns an account's share holding in a pool.
func (v *Vault) ShareBalance(id types.PoolID, account types.Account) (sdkmath.Int, error) {
	if err := v.acquire(); err != nil {
		return sdkmath.Int{}, err
	}
	defer v.release()

	if _, ok := v.pools[id]; !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %d", id)
	}
	bal, ok := v.shares[id][account]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return bal, nil
}

// ProtocolFees returns the accrued, uncollected protocol fees by asset.
func (v *Vault) ProtocolFees() ([]types.AssetAmount, error) {
	if err := v.acquire(); err != nil {
		return nil, err
	}
	defer v.release()

	out := make([]types.AssetAmount, 0, len(v.protocolFees))
	for asset, amt := range v.protocolFees {
		if amt.IsPositive() {
			out = append(out, types.AssetAmount{Asset: asset, Amount: amt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// PreviewSwap prices a swap against current balances without mutating
// anything.
func (v *Vault) PreviewSwap(id types.PoolID, assetIn, assetOut types.Asset, amount sdkmath.Int, givenOut bool) (sdkmath.Int, error) {
	if err := v.acquire(); err != nil {
		return sdkmath.Int{}, err
	}
	defer v.release()

	p, ok := v.pools[id]
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %d", id)
	}
	probe := p.Clone()
	if givenOut {
		amountIn, _, err := probe.SwapGivenOut(assetIn, assetOut, amount, v.cfg.ProtocolFeeRatio)
		return amountIn, err
	}
	amountOut, _, err := probe.SwapGivenIn(assetIn, assetOut, amount, v.cfg.ProtocolFeeRatio)
	return amountOut, err
}

// CollectProtocolFees pays accrued fees for the given assets out to the
// configured collector. Assets with nothing accrued are skipped.
func (v *Vault) CollectProtocolFees(ctx context.Context, caller types.Account, assets []types.Asset) ([]types.AssetAmount, error) {
	if err := v.acquire(); err != nil {
		return nil, err
	}
	defer v.release()

	if caller != v.cfg.FeeCollector {
		return nil, errorsmod.Wrapf(types.ErrUnauthorized, "%s is not the fee collector", caller)
	}

	var paid []types.AssetAmount
	for _, asset := range assets {
		amt, ok := v.protocolFees[asset]
		if !ok || !amt.IsPositive() {
			continue
		}
		if err := v.backend.TransferOut(ctx, caller, asset, amt); err != nil {
			vaultLogger.Error().Err(err).Str("asset", string(asset)).Msg("Protocol fee payout failed")
			return paid, err
		}
		v.protocolFees[asset] = sdkmath.ZeroInt()
		paid = append(paid, types.AssetAmount{Asset: asset, Amount: amt})
		vaultLogger.Info().Str("asset", string(asset)).Str("amount", amt.String()).Msg("Collected protocol fees")
	}
	return paid, nil
}

// internalOf reads an account's internal balance of asset, zero when
// absent. Callers hold the execution guard.
func (v *Vault) internalOf(account types.Account, asset types.Asset) sdkmath.Int {
	bal, ok := v.internal[account][asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// setInternal writes an account's internal balance and keeps the per-asset
// total current. Callers hold the execution guard.
func (v *Vault) setInternal(account types.Account, asset types.Asset, amount sdkmath.Int) {
	prev := v.internalOf(account, asset)
	if v.internal[account] == nil {
		v.internal[account] = make(map[types.Asset]sdkmath.Int)
	}
	v.internal[account][asset] = amount
	total, ok := v.internalTotals[asset]
	if !ok {
		total = sdkmath.ZeroInt()
	}
	v.internalTotals[asset] = total.Sub(prev).Add(amount)
}

// creditShares adjusts an account's pool-share holding by delta, which may
// be negative. Callers hold the execution guard and have validated the
// resulting balance.
func (v *Vault) creditShares(id types.PoolID, account types.Account, delta sdkmath.Int) {
	if v.shares[id] == nil {
		v.shares[id] = make(map[types.Account]sdkmath.Int)
	}
	cur, ok := v.shares[id][account]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	v.shares[id][account] = cur.Add(delta)
}

func weightsOf(p *pool.Pool) []sdkmath.Int {
	// Engine accessors keep pool reconstruction honest without the vault
	// caching variant parameters separately.
	type weighted interface{ Weights() []sdkmath.Int }
	if we, ok := p.Engine.(weighted); ok {
		return we.Weights()
	}
	return nil
}

func ampOf(p *pool.Pool) uint64 {
	type stable interface{ Amp() uint64 }
	if se, ok := p.Engine.(stable); ok {
		return se.Amp()
	}
	return 0
}
