package vault

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/types"
)

// FlashBorrower receives flash-loaned tokens and must return principal
// plus fee to custody before Execute returns. The vault verifies custody
// afterwards; how the borrower repays is its own business.
type FlashBorrower interface {
	// Account is the external account the loan is paid to.
	Account() types.Account
	// Execute runs the borrower's logic while the loan is outstanding.
	Execute(ctx context.Context, loans []types.AssetAmount, fees []sdkmath.Int) error
}

// FlashLoan lends the requested amounts out of custody for the duration
// of the borrower callback. The execution guard stays held across the
// callback, so the borrower cannot reenter the vault; it must repay by
// transferring directly into custody.
func (v *Vault) FlashLoan(ctx context.Context, borrower FlashBorrower, loans []types.AssetAmount) error {
	start := time.Now()
	err := v.flashLoan(ctx, borrower, loans)
	if v.metrics != nil {
		v.metrics.ObserveFlashLoan(err, time.Since(start))
	}
	return err
}

func (v *Vault) flashLoan(ctx context.Context, borrower FlashBorrower, loans []types.AssetAmount) error {
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	if borrower == nil || borrower.Account() == "" {
		return errorsmod.Wrap(types.ErrInvalidInput, "borrower required")
	}
	if len(loans) == 0 {
		return errorsmod.Wrap(types.ErrInvalidInput, "empty loan list")
	}
	seen := make(map[types.Asset]bool, len(loans))
	for _, loan := range loans {
		if loan.Asset == "" || loan.Amount.IsNil() || !loan.Amount.IsPositive() {
			return errorsmod.Wrapf(types.ErrInvalidInput, "loan of %s %s", loan.Amount, loan.Asset)
		}
		if seen[loan.Asset] {
			return errorsmod.Wrapf(types.ErrInvalidInput, "duplicate loan asset %s", loan.Asset)
		}
		seen[loan.Asset] = true
	}

	// Record pre-loan custody and the owed fee per asset, then pay the
	// loans out.
	fees := make([]sdkmath.Int, len(loans))
	preCustody := make([]sdkmath.Int, len(loans))
	for i, loan := range loans {
		fee, err := fixedpoint.MulUp(loan.Amount, v.cfg.FlashLoanFee)
		if err != nil {
			return err
		}
		fees[i] = fee

		custody, err := v.backend.CustodyBalance(ctx, loan.Asset)
		if err != nil {
			return errorsmod.Wrapf(err, "reading custody of %s", loan.Asset)
		}
		if custody.LT(loan.Amount) {
			return errorsmod.Wrapf(types.ErrInsufficientLiquidity, "custody holds %s %s, loan wants %s", custody, loan.Asset, loan.Amount)
		}
		preCustody[i] = custody
	}
	for i, loan := range loans {
		if err := v.backend.TransferOut(ctx, borrower.Account(), loan.Asset, loan.Amount); err != nil {
			v.restoreCustody(ctx, borrower, loans, preCustody)
			return errorsmod.Wrapf(err, "paying out loan %d", i)
		}
	}

	if err := borrower.Execute(ctx, loans, fees); err != nil {
		// The borrower reported failure. Pull back whatever of the
		// principal is still missing so the abort leaves custody where it
		// started; no fee is charged on a failed loan.
		vaultLogger.Warn().Err(err).Str("borrower", string(borrower.Account())).Msg("Flash borrower callback failed")
		v.restoreCustody(ctx, borrower, loans, preCustody)
		return errorsmod.Wrap(types.ErrSettlementMismatch, err.Error())
	}

	// Verify every asset before accruing any fee, so a partial repayment
	// unwinds instead of half-settling.
	for i, loan := range loans {
		custody, err := v.backend.CustodyBalance(ctx, loan.Asset)
		if err != nil {
			return errorsmod.Wrapf(err, "reading custody of %s", loan.Asset)
		}
		owed := preCustody[i].Add(fees[i])
		if custody.LT(owed) {
			v.restoreCustody(ctx, borrower, loans, preCustody)
			return errorsmod.Wrapf(types.ErrSettlementMismatch, "flash loan of %s repaid short: custody %s, owed %s", loan.Asset, custody, owed)
		}
	}
	for i, loan := range loans {
		if fees[i].IsPositive() {
			cur, ok := v.protocolFees[loan.Asset]
			if !ok {
				cur = sdkmath.ZeroInt()
			}
			v.protocolFees[loan.Asset] = cur.Add(fees[i])
		}
	}

	vaultLogger.Info().
		Str("borrower", string(borrower.Account())).
		Int("assets", len(loans)).
		Msg("Flash loan settled")
	return nil
}

// restoreCustody pulls whatever of the lent principal is still missing
// back from the borrower after an aborted loan, so the abort leaves
// custody at its pre-loan level and later batches still clear the
// solvency check. A borrower that already spent the tokens makes the
// pull fail; that is logged and custody stays short.
func (v *Vault) restoreCustody(ctx context.Context, borrower FlashBorrower, loans []types.AssetAmount, preCustody []sdkmath.Int) {
	for i, loan := range loans {
		custody, err := v.backend.CustodyBalance(ctx, loan.Asset)
		if err != nil {
			vaultLogger.Error().Err(err).
				Str("asset", string(loan.Asset)).
				Msg("Failed to read custody while recovering flash loan")
			continue
		}
		if custody.GTE(preCustody[i]) {
			continue
		}
		shortfall := preCustody[i].Sub(custody)
		if err := v.backend.TransferIn(ctx, borrower.Account(), loan.Asset, shortfall); err != nil {
			vaultLogger.Error().Err(err).
				Str("borrower", string(borrower.Account())).
				Str("asset", string(loan.Asset)).
				Str("shortfall", shortfall.String()).
				Msg("Failed to recover flash loan principal, custody short")
		}
	}
}
