/*

Batch operation types. A batch is an ephemeral, caller-scoped ordered list
of operations settled atomically by the vault; these structs are the wire
shape of its entries and results.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// OpKind discriminates the fields of Operation that are meaningful.
type OpKind string

const (
	OpSwap             OpKind = "swap"
	OpJoin             OpKind = "join"
	OpExit             OpKind = "exit"
	OpExitSingle       OpKind = "exit_single"
	OpDepositInternal  OpKind = "deposit_internal"
	OpWithdrawInternal OpKind = "withdraw_internal"
)

// Operation is one entry of a batch. It is a tagged union in the manner of
// a SubAction: Kind selects which fields apply.
type Operation struct {
	Kind OpKind `json:"kind"`

	// Swap / Join / Exit target pool.
	PoolID PoolID `json:"pool_id,omitempty"`

	// Swap fields. GivenOut means Amount is the requested output and the
	// computed quantity is the input. Limit is the slippage guard: minimum
	// out for given-in swaps, maximum in for given-out swaps.
	AssetIn  Asset       `json:"asset_in,omitempty"`
	AssetOut Asset       `json:"asset_out,omitempty"`
	Amount   sdkmath.Int `json:"amount,omitempty"`
	GivenOut bool        `json:"given_out,omitempty"`
	Limit    sdkmath.Int `json:"limit,omitempty"`

	// Join fields.
	AmountsIn    []AssetAmount `json:"amounts_in,omitempty"`
	MinSharesOut sdkmath.Int   `json:"min_shares_out,omitempty"`

	// Exit fields. For OpExitSingle, AssetOut and Limit (minimum out)
	// apply as well.
	SharesIn      sdkmath.Int   `json:"shares_in,omitempty"`
	MinAmountsOut []AssetAmount `json:"min_amounts_out,omitempty"`

	// Internal-balance fields.
	Asset Asset `json:"asset,omitempty"`
}

// Funds states where a batch caller's settlement legs come from and go to.
// When FromInternal is set, amounts the caller owes are debited from their
// internal balance instead of pulled through the token backend; ToInternal
// credits amounts owed to the caller internally instead of transferring out.
type Funds struct {
	FromInternal bool `json:"from_internal"`
	ToInternal   bool `json:"to_internal"`
}

// OpResult reports what a single operation produced. Amount carries the
// computed quantity (swap output or input, shares minted or burned);
// Amounts carries per-asset figures where one number is not enough.
type OpResult struct {
	Kind    OpKind        `json:"kind"`
	Amount  sdkmath.Int   `json:"amount"`
	Amounts []AssetAmount `json:"amounts,omitempty"`
}

// BatchReceipt is the audit record of one top-level call, journaled after
// the call completes regardless of outcome.
type BatchReceipt struct {
	Caller    Account       `json:"caller"`
	OpCount   int           `json:"op_count"`
	Committed bool          `json:"committed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
