package vault

import (
	"context"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// TokenBackend is the custody boundary: it moves real tokens between
// external accounts and the vault's custody. Everything above it is pure
// ledger arithmetic.
type TokenBackend interface {
	// TransferIn pulls amount of asset from the external account into
	// custody.
	TransferIn(ctx context.Context, from types.Account, asset types.Asset, amount sdkmath.Int) error
	// TransferOut pays amount of asset from custody to the external
	// account.
	TransferOut(ctx context.Context, to types.Account, asset types.Asset, amount sdkmath.Int) error
	// CustodyBalance reports how much of asset the vault actually holds.
	CustodyBalance(ctx context.Context, asset types.Asset) (sdkmath.Int, error)
}

// MemoryBackend is an in-process TokenBackend over plain balance maps.
// It backs tests and local runs; a production deployment substitutes a
// backend that settles against real custody.
type MemoryBackend struct {
	mu       sync.Mutex
	accounts map[types.Account]map[types.Asset]sdkmath.Int
	custody  map[types.Asset]sdkmath.Int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		accounts: make(map[types.Account]map[types.Asset]sdkmath.Int),
		custody:  make(map[types.Asset]sdkmath.Int),
	}
}

// Mint credits an external account out of thin air.
func (b *MemoryBackend) Mint(account types.Account, asset types.Asset, amount sdkmath.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(account, asset, amount)
}

// AccountBalance reports an external account's holding of asset.
func (b *MemoryBackend) AccountBalance(account types.Account, asset types.Asset) sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.accounts[account][asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

func (b *MemoryBackend) TransferIn(_ context.Context, from types.Account, asset types.Asset, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return errorsmod.Wrapf(types.ErrInvalidInput, "transfer amount must be positive, got %s", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.accounts[from][asset]
	if !ok || bal.LT(amount) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "%s has %s %s, needs %s", from, bal, asset, amount)
	}
	b.accounts[from][asset] = bal.Sub(amount)
	b.custody[asset] = b.custodyOf(asset).Add(amount)
	return nil
}

func (b *MemoryBackend) TransferOut(_ context.Context, to types.Account, asset types.Asset, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return errorsmod.Wrapf(types.ErrInvalidInput, "transfer amount must be positive, got %s", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	held := b.custodyOf(asset)
	if held.LT(amount) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "custody holds %s %s, needs %s", held, asset, amount)
	}
	b.custody[asset] = held.Sub(amount)
	b.credit(to, asset, amount)
	return nil
}

func (b *MemoryBackend) CustodyBalance(_ context.Context, asset types.Asset) (sdkmath.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.custodyOf(asset), nil
}

func (b *MemoryBackend) custodyOf(asset types.Asset) sdkmath.Int {
	if bal, ok := b.custody[asset]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

func (b *MemoryBackend) credit(account types.Account, asset types.Asset, amount sdkmath.Int) {
	if b.accounts[account] == nil {
		b.accounts[account] = make(map[types.Asset]sdkmath.Int)
	}
	cur, ok := b.accounts[account][asset]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	b.accounts[account][asset] = cur.Add(amount)
}
