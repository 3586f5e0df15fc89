/*

Core identifiers and value types shared by every package: assets, accounts,
pools and the fixed-point amounts that move between them. All amounts are
sdkmath.Int at the protocol's canonical 1e18 scale.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Asset is a fungible token identifier, e.g. "uusdc". Immutable once a pool
// references it.
type Asset string

// Account is a caller identity. Authentication happens in the host
// environment; the ledger only compares identities.
type Account string

// PoolID identifies a registered pool. IDs are assigned by the vault and
// never reused.
type PoolID uint64

// Variant selects the pricing engine a pool runs on.
type Variant string

const (
	VariantWeighted Variant = "weighted"
	VariantStable   Variant = "stable"
)

// AssetAmount pairs an asset with a canonical-scale amount.
type AssetAmount struct {
	Asset  Asset       `json:"asset"`
	Amount sdkmath.Int `json:"amount"`
}

// PoolSummary is the read-only projection of a pool served over the query
// interface and journaled to the state store.
type PoolSummary struct {
	ID          PoolID        `json:"id"`
	Variant     Variant       `json:"variant"`
	Assets      []Asset       `json:"assets"`
	Balances    []AssetAmount `json:"balances"`
	TotalShares sdkmath.Int   `json:"total_shares"`
	SwapFee     sdkmath.Int   `json:"swap_fee"`
	Operator    Account       `json:"operator"`
}
