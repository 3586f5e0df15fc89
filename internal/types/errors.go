package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace scopes every registered protocol error.
const Codespace = "vaultcore"

// Protocol error taxonomy. Every failure that aborts a batch resolves to
// exactly one of these codes; callers switch on them (errors.Is) to decide
// whether a corrected resubmission makes sense. Wrapping carries the
// offending values (required vs. available) where applicable.
var (
	ErrArithmeticOverflow    = errorsmod.Register(Codespace, 2, "arithmetic overflow")
	ErrArithmeticUnderflow   = errorsmod.Register(Codespace, 3, "arithmetic underflow")
	ErrDivisionByZero        = errorsmod.Register(Codespace, 4, "division by zero")
	ErrConvergenceFailure    = errorsmod.Register(Codespace, 5, "iterative solver did not converge")
	ErrInvariantViolation    = errorsmod.Register(Codespace, 6, "pool invariant decreased")
	ErrInsufficientLiquidity = errorsmod.Register(Codespace, 7, "insufficient liquidity")
	ErrUnauthorized          = errorsmod.Register(Codespace, 8, "caller lacks required capability")
	ErrSlippageExceeded      = errorsmod.Register(Codespace, 9, "slippage limit exceeded")
	ErrExpired               = errorsmod.Register(Codespace, 10, "deadline expired")
	ErrSettlementMismatch    = errorsmod.Register(Codespace, 11, "callback settlement mismatch")
	ErrInsufficientBalance   = errorsmod.Register(Codespace, 12, "insufficient balance")
	ErrPoolNotFound          = errorsmod.Register(Codespace, 13, "pool not found")
	ErrReentrancy            = errorsmod.Register(Codespace, 14, "vault is already executing")
	ErrInvalidInput          = errorsmod.Register(Codespace, 15, "invalid input")
)
