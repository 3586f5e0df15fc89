/*

Batch execution. Every operation in a batch runs against a scratch copy of
the state it touches; nothing is committed until all operations succeed,
the per-asset legs are netted, inbound transfers clear and the solvency
check passes. A failure anywhere discards the scratch, so a batch is
all-or-nothing.

*/

package vault

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/pool"
	"github.com/crestline-fi/vaultcore/internal/types"
)

// ExecuteBatch runs ops in order for onBehalfOf and settles the net result
// atomically. sender must be onBehalfOf itself or a relayer onBehalfOf has
// delegated to. A zero deadline means no deadline.
func (v *Vault) ExecuteBatch(ctx context.Context, sender, onBehalfOf types.Account, ops []types.Operation, funds types.Funds, deadline time.Time) ([]types.OpResult, error) {
	if onBehalfOf == "" {
		onBehalfOf = sender
	}
	start := time.Now()
	results, err := v.executeBatch(ctx, sender, onBehalfOf, ops, funds, deadline)

	v.journalBatch(ctx, types.BatchReceipt{
		Caller:    onBehalfOf,
		OpCount:   len(ops),
		Committed: err == nil,
		Error:     errString(err),
		Duration:  time.Since(start),
		Timestamp: start.UTC(),
	})
	if v.metrics != nil {
		v.metrics.ObserveBatch(ops, err, time.Since(start))
	}
	return results, err
}

func (v *Vault) executeBatch(ctx context.Context, sender, onBehalfOf types.Account, ops []types.Operation, funds types.Funds, deadline time.Time) ([]types.OpResult, error) {
	if err := v.acquire(); err != nil {
		return nil, err
	}
	defer v.release()

	if sender == "" {
		return nil, errorsmod.Wrap(types.ErrInvalidInput, "sender required")
	}
	if sender != onBehalfOf && !v.delegates[onBehalfOf][sender] {
		return nil, errorsmod.Wrapf(types.ErrUnauthorized, "%s is not a delegate of %s", sender, onBehalfOf)
	}
	if len(ops) == 0 {
		return nil, errorsmod.Wrap(types.ErrInvalidInput, "empty batch")
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return nil, errorsmod.Wrapf(types.ErrExpired, "deadline %s has passed", deadline.UTC().Format(time.RFC3339))
	}

	sc := newScratch(v, onBehalfOf)
	results := make([]types.OpResult, 0, len(ops))
	for i, op := range ops {
		res, err := sc.apply(op)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "operation %d (%s)", i, op.Kind)
		}
		results = append(results, res)
	}

	if err := v.settle(ctx, sc, funds); err != nil {
		return nil, err
	}
	return results, nil
}

func (v *Vault) journalBatch(ctx context.Context, receipt types.BatchReceipt) {
	if v.recorder == nil {
		return
	}
	if err := v.recorder.RecordBatch(ctx, receipt); err != nil {
		vaultLogger.Error().Err(err).Msg("Failed to journal batch receipt")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// scratch is the uncommitted working state of one batch: lazily cloned
// pools, balance deltas keyed by asset, and share deltas for the acting
// account. owedIn accumulates what the account must pay the vault, owedOut
// what the vault must pay the account; settlement nets the two and routes
// the result per the batch's Funds flags. extIn and extOut are legs that
// bypass that routing: internal-balance deposits and withdrawals are
// external transfers by definition.
type scratch struct {
	v       *Vault
	account types.Account

	pools          map[types.PoolID]*pool.Pool
	shareDeltas    map[types.PoolID]sdkmath.Int
	feeDeltas      map[types.Asset]sdkmath.Int
	internalDeltas map[types.Asset]sdkmath.Int
	owedIn         map[types.Asset]sdkmath.Int
	owedOut        map[types.Asset]sdkmath.Int
	extIn          map[types.Asset]sdkmath.Int
	extOut         map[types.Asset]sdkmath.Int
	touchedAsset   map[types.Asset]bool
}

func newScratch(v *Vault, account types.Account) *scratch {
	return &scratch{
		v:              v,
		account:        account,
		pools:          make(map[types.PoolID]*pool.Pool),
		shareDeltas:    make(map[types.PoolID]sdkmath.Int),
		feeDeltas:      make(map[types.Asset]sdkmath.Int),
		internalDeltas: make(map[types.Asset]sdkmath.Int),
		owedIn:         make(map[types.Asset]sdkmath.Int),
		owedOut:        make(map[types.Asset]sdkmath.Int),
		extIn:          make(map[types.Asset]sdkmath.Int),
		extOut:         make(map[types.Asset]sdkmath.Int),
		touchedAsset:   make(map[types.Asset]bool),
	}
}

// effectiveInternal is the account's internal balance of asset as seen by
// later operations in the same batch.
func (sc *scratch) effectiveInternal(asset types.Asset) sdkmath.Int {
	bal := sc.v.internalOf(sc.account, asset)
	if delta, ok := sc.internalDeltas[asset]; ok {
		bal = bal.Add(delta)
	}
	return bal
}

func (sc *scratch) creditInternal(asset types.Asset, amount sdkmath.Int) {
	addTo(sc.internalDeltas, asset, amount)
	sc.touchedAsset[asset] = true
}

func (sc *scratch) debitInternal(asset types.Asset, amount sdkmath.Int) error {
	if sc.effectiveInternal(asset).LT(amount) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "internal balance %s %s below %s", sc.effectiveInternal(asset), asset, amount)
	}
	addTo(sc.internalDeltas, asset, amount.Neg())
	sc.touchedAsset[asset] = true
	return nil
}

// poolFor returns the scratch clone of a pool, cloning on first touch.
func (sc *scratch) poolFor(id types.PoolID) (*pool.Pool, error) {
	if p, ok := sc.pools[id]; ok {
		return p, nil
	}
	p, ok := sc.v.pools[id]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %d", id)
	}
	cp := p.Clone()
	sc.pools[id] = cp
	return cp, nil
}

// shareBalance is the account's effective share holding in this batch:
// committed balance plus the scratch delta.
func (sc *scratch) shareBalance(id types.PoolID) sdkmath.Int {
	bal, ok := sc.v.shares[id][sc.account]
	if !ok {
		bal = sdkmath.ZeroInt()
	}
	if delta, ok := sc.shareDeltas[id]; ok {
		bal = bal.Add(delta)
	}
	return bal
}

func addTo(m map[types.Asset]sdkmath.Int, asset types.Asset, amount sdkmath.Int) {
	cur, ok := m[asset]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	m[asset] = cur.Add(amount)
}

func (sc *scratch) payIn(asset types.Asset, amount sdkmath.Int) {
	addTo(sc.owedIn, asset, amount)
	sc.touchedAsset[asset] = true
}

func (sc *scratch) payOut(asset types.Asset, amount sdkmath.Int) {
	addTo(sc.owedOut, asset, amount)
	sc.touchedAsset[asset] = true
}

func (sc *scratch) bumpShares(id types.PoolID, delta sdkmath.Int) {
	cur, ok := sc.shareDeltas[id]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	sc.shareDeltas[id] = cur.Add(delta)
}

func (sc *scratch) apply(op types.Operation) (types.OpResult, error) {
	switch op.Kind {
	case types.OpSwap:
		return sc.applySwap(op)
	case types.OpJoin:
		return sc.applyJoin(op)
	case types.OpExit:
		return sc.applyExit(op)
	case types.OpExitSingle:
		return sc.applyExitSingle(op)
	case types.OpDepositInternal:
		return sc.applyDepositInternal(op)
	case types.OpWithdrawInternal:
		return sc.applyWithdrawInternal(op)
	default:
		return types.OpResult{}, errorsmod.Wrapf(types.ErrInvalidInput, "unknown operation kind %q", op.Kind)
	}
}

func (sc *scratch) applySwap(op types.Operation) (types.OpResult, error) {
	p, err := sc.poolFor(op.PoolID)
	if err != nil {
		return types.OpResult{}, err
	}

	if op.GivenOut {
		amountIn, protocolFee, err := p.SwapGivenOut(op.AssetIn, op.AssetOut, op.Amount, sc.v.cfg.ProtocolFeeRatio)
		if err != nil {
			return types.OpResult{}, err
		}
		if !op.Limit.IsNil() && !op.Limit.IsZero() && amountIn.GT(op.Limit) {
			return types.OpResult{}, errorsmod.Wrapf(types.ErrSlippageExceeded, "amount in %s above limit %s", amountIn, op.Limit)
		}
		sc.payIn(op.AssetIn, amountIn)
		sc.payOut(op.AssetOut, op.Amount)
		addTo(sc.feeDeltas, op.AssetIn, protocolFee)
		return types.OpResult{Kind: op.Kind, Amount: amountIn}, nil
	}

	amountOut, protocolFee, err := p.SwapGivenIn(op.AssetIn, op.AssetOut, op.Amount, sc.v.cfg.ProtocolFeeRatio)
	if err != nil {
		return types.OpResult{}, err
	}
	if !op.Limit.IsNil() && amountOut.LT(op.Limit) {
		return types.OpResult{}, errorsmod.Wrapf(types.ErrSlippageExceeded, "amount out %s below limit %s", amountOut, op.Limit)
	}
	sc.payIn(op.AssetIn, op.Amount)
	sc.payOut(op.AssetOut, amountOut)
	addTo(sc.feeDeltas, op.AssetIn, protocolFee)
	return types.OpResult{Kind: op.Kind, Amount: amountOut}, nil
}

func (sc *scratch) applyJoin(op types.Operation) (types.OpResult, error) {
	p, err := sc.poolFor(op.PoolID)
	if err != nil {
		return types.OpResult{}, err
	}
	sharesOut, err := p.Join(op.AmountsIn, op.MinSharesOut)
	if err != nil {
		return types.OpResult{}, err
	}
	for _, aa := range op.AmountsIn {
		sc.payIn(aa.Asset, aa.Amount)
	}
	sc.bumpShares(op.PoolID, sharesOut)
	return types.OpResult{Kind: op.Kind, Amount: sharesOut, Amounts: op.AmountsIn}, nil
}

func (sc *scratch) applyExit(op types.Operation) (types.OpResult, error) {
	p, err := sc.poolFor(op.PoolID)
	if err != nil {
		return types.OpResult{}, err
	}
	if op.SharesIn.IsNil() || sc.shareBalance(op.PoolID).LT(op.SharesIn) {
		return types.OpResult{}, errorsmod.Wrapf(types.ErrInsufficientBalance, "account holds %s shares of pool %d", sc.shareBalance(op.PoolID), op.PoolID)
	}
	amountsOut, err := p.Exit(op.SharesIn, op.MinAmountsOut)
	if err != nil {
		return types.OpResult{}, err
	}
	for _, aa := range amountsOut {
		if aa.Amount.IsPositive() {
			sc.payOut(aa.Asset, aa.Amount)
		}
	}
	sc.bumpShares(op.PoolID, op.SharesIn.Neg())
	return types.OpResult{Kind: op.Kind, Amount: op.SharesIn, Amounts: amountsOut}, nil
}

func (sc *scratch) applyExitSingle(op types.Operation) (types.OpResult, error) {
	p, err := sc.poolFor(op.PoolID)
	if err != nil {
		return types.OpResult{}, err
	}
	if op.SharesIn.IsNil() || sc.shareBalance(op.PoolID).LT(op.SharesIn) {
		return types.OpResult{}, errorsmod.Wrapf(types.ErrInsufficientBalance, "account holds %s shares of pool %d", sc.shareBalance(op.PoolID), op.PoolID)
	}
	amountOut, err := p.ExitSingleAsset(op.SharesIn, op.AssetOut, op.Limit)
	if err != nil {
		return types.OpResult{}, err
	}
	sc.payOut(op.AssetOut, amountOut)
	sc.bumpShares(op.PoolID, op.SharesIn.Neg())
	return types.OpResult{
		Kind:    op.Kind,
		Amount:  amountOut,
		Amounts: []types.AssetAmount{{Asset: op.AssetOut, Amount: amountOut}},
	}, nil
}

func (sc *scratch) applyDepositInternal(op types.Operation) (types.OpResult, error) {
	if op.Amount.IsNil() || !op.Amount.IsPositive() {
		return types.OpResult{}, errorsmod.Wrapf(types.ErrInvalidInput, "deposit amount must be positive, got %s", op.Amount)
	}
	if op.Asset == "" {
		return types.OpResult{}, errorsmod.Wrap(types.ErrInvalidInput, "deposit asset required")
	}
	addTo(sc.extIn, op.Asset, op.Amount)
	sc.creditInternal(op.Asset, op.Amount)
	return types.OpResult{Kind: op.Kind, Amount: op.Amount}, nil
}

func (sc *scratch) applyWithdrawInternal(op types.Operation) (types.OpResult, error) {
	if op.Amount.IsNil() || !op.Amount.IsPositive() {
		return types.OpResult{}, errorsmod.Wrapf(types.ErrInvalidInput, "withdrawal amount must be positive, got %s", op.Amount)
	}
	if op.Asset == "" {
		return types.OpResult{}, errorsmod.Wrap(types.ErrInvalidInput, "withdrawal asset required")
	}
	if err := sc.debitInternal(op.Asset, op.Amount); err != nil {
		return types.OpResult{}, err
	}
	addTo(sc.extOut, op.Asset, op.Amount)
	return types.OpResult{Kind: op.Kind, Amount: op.Amount}, nil
}
