/*

Settlement of a completed scratch. Ordering matters:

  1. Net the routable legs per asset and route them through internal
     balances or the external queues per the Funds flags.
  2. Pull every inbound external transfer; a failure refunds what was
     already pulled and aborts.
  3. Solvency check every touched asset against real custody, counting
     the outbound queue as still owed.
  4. Commit the scratch to the vault's ledgers.
  5. Pay the outbound queue. A failed payout after commit credits the
     account internally instead, so custody never goes short.

*/

package vault

import (
	"context"
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/types"
)

func (v *Vault) settle(ctx context.Context, sc *scratch, funds types.Funds) error {
	if err := sc.route(funds); err != nil {
		return err
	}

	pulled, err := v.pullInbound(ctx, sc)
	if err != nil {
		v.refundInbound(ctx, sc, pulled)
		return err
	}

	if err := v.checkSolvency(ctx, sc); err != nil {
		v.refundInbound(ctx, sc, len(sc.extIn))
		return err
	}

	v.commit(sc)
	v.payOutbound(ctx, sc)
	return nil
}

// route nets owedIn against owedOut per asset and turns the remainder
// into internal-balance movement or external queue entries.
func (sc *scratch) route(funds types.Funds) error {
	for _, asset := range sortedAssets(sc.owedIn, sc.owedOut) {
		in, ok := sc.owedIn[asset]
		if !ok {
			in = sdkmath.ZeroInt()
		}
		out, ok := sc.owedOut[asset]
		if !ok {
			out = sdkmath.ZeroInt()
		}
		net := in.Sub(out)
		switch {
		case net.IsPositive():
			if funds.FromInternal {
				if err := sc.debitInternal(asset, net); err != nil {
					return err
				}
			} else {
				addTo(sc.extIn, asset, net)
			}
		case net.IsNegative():
			if funds.ToInternal {
				sc.creditInternal(asset, net.Neg())
			} else {
				addTo(sc.extOut, asset, net.Neg())
			}
		}
	}
	return nil
}

// pullInbound transfers every inbound leg into custody, returning how
// many assets were pulled before a failure.
func (v *Vault) pullInbound(ctx context.Context, sc *scratch) (int, error) {
	assets := sortedAssets(sc.extIn)
	for i, asset := range assets {
		amt := sc.extIn[asset]
		if !amt.IsPositive() {
			continue
		}
		if err := v.backend.TransferIn(ctx, sc.account, asset, amt); err != nil {
			return i, errorsmod.Wrapf(err, "pulling %s %s", amt, asset)
		}
	}
	return len(assets), nil
}

// refundInbound undoes the first pulled inbound transfers after an abort.
// A refund failure strands the tokens in custody, which only ever errs in
// the vault's favor; it is logged and not propagated.
func (v *Vault) refundInbound(ctx context.Context, sc *scratch, pulled int) {
	assets := sortedAssets(sc.extIn)
	if pulled > len(assets) {
		pulled = len(assets)
	}
	for _, asset := range assets[:pulled] {
		amt := sc.extIn[asset]
		if !amt.IsPositive() {
			continue
		}
		if err := v.backend.TransferOut(ctx, sc.account, asset, amt); err != nil {
			vaultLogger.Error().Err(err).
				Str("account", string(sc.account)).
				Str("asset", string(asset)).
				Str("amount", amt.String()).
				Msg("Refund of aborted batch failed, tokens stranded in custody")
		}
	}
}

// checkSolvency verifies, for every asset the batch touched, that real
// custody covers every claim on it in the would-be committed state: all
// pool balances, all internal balances, accrued protocol fees and the
// not-yet-paid outbound queue.
func (v *Vault) checkSolvency(ctx context.Context, sc *scratch) error {
	for _, asset := range sortedTouched(sc.touchedAsset) {
		custody, err := v.backend.CustodyBalance(ctx, asset)
		if err != nil {
			return errorsmod.Wrapf(err, "reading custody of %s", asset)
		}

		required := sdkmath.ZeroInt()
		for id, p := range v.pools {
			eff := p
			if cp, ok := sc.pools[id]; ok {
				eff = cp
			}
			if i, err := eff.IndexOf(asset); err == nil {
				required = required.Add(eff.Balances[i])
			}
		}
		if total, ok := v.internalTotals[asset]; ok {
			required = required.Add(total)
		}
		if delta, ok := sc.internalDeltas[asset]; ok {
			required = required.Add(delta)
		}
		if fees, ok := v.protocolFees[asset]; ok {
			required = required.Add(fees)
		}
		if feeDelta, ok := sc.feeDeltas[asset]; ok {
			required = required.Add(feeDelta)
		}
		if owed, ok := sc.extOut[asset]; ok {
			required = required.Add(owed)
		}

		if custody.LT(required) {
			return errorsmod.Wrapf(types.ErrSettlementMismatch, "custody of %s holds %s, ledger requires %s", asset, custody, required)
		}
	}
	return nil
}

// commit folds the scratch into the vault's ledgers. Callers hold the
// execution guard and have already validated everything; commit cannot
// fail.
func (v *Vault) commit(sc *scratch) {
	for id, cp := range sc.pools {
		v.pools[id] = cp
	}
	for id, delta := range sc.shareDeltas {
		if !delta.IsZero() {
			v.creditShares(id, sc.account, delta)
		}
	}
	for asset, delta := range sc.internalDeltas {
		if !delta.IsZero() {
			v.setInternal(sc.account, asset, v.internalOf(sc.account, asset).Add(delta))
		}
	}
	for asset, delta := range sc.feeDeltas {
		if delta.IsPositive() {
			cur, ok := v.protocolFees[asset]
			if !ok {
				cur = sdkmath.ZeroInt()
			}
			v.protocolFees[asset] = cur.Add(delta)
		}
	}
}

// payOutbound pays the outbound queue after commit. The ledger already
// reflects the batch, so a failed payout converts into an internal credit
// rather than unwinding anything.
func (v *Vault) payOutbound(ctx context.Context, sc *scratch) {
	for _, asset := range sortedAssets(sc.extOut) {
		amt := sc.extOut[asset]
		if !amt.IsPositive() {
			continue
		}
		if err := v.backend.TransferOut(ctx, sc.account, asset, amt); err != nil {
			vaultLogger.Warn().Err(err).
				Str("account", string(sc.account)).
				Str("asset", string(asset)).
				Str("amount", amt.String()).
				Msg("Outbound transfer failed, crediting internal balance instead")
			v.setInternal(sc.account, asset, v.internalOf(sc.account, asset).Add(amt))
		}
	}
}

// sortedAssets merges the keys of the given maps into one sorted slice so
// settlement iterates deterministically.
func sortedAssets(maps ...map[types.Asset]sdkmath.Int) []types.Asset {
	seen := make(map[types.Asset]bool)
	var out []types.Asset
	for _, m := range maps {
		for asset := range m {
			if !seen[asset] {
				seen[asset] = true
				out = append(out, asset)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedTouched(set map[types.Asset]bool) []types.Asset {
	out := make([]types.Asset, 0, len(set))
	for asset := range set {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
