// Package ledger implements the Account Ledger of spec.md §4.B: per-trader
// balances split into free, locked-for-orders, and locked-as-margin
// buckets, plus the nonce counter used for replay protection.
//
// Grounded on the teacher's pkg/app/core/account/{account.go,manager.go}:
// the map-of-accounts-behind-an-RWMutex shape and the fine-grained
// per-account locking story are kept; the teacher's single
// USDCBalance/LockedCollateral pair is split into the spec's three
// buckets, and positions move out of Account entirely (they become
// internal/pair.Pair — a shared bilateral relation, not a per-account
// field) per spec.md §3's "Ownership of a Pair is shared between two
// traders".
package ledger

import (
	"fmt"

	"github.com/memeperp/engine/internal/types"
)

// Account is a trader's balance record. All monetary fields are fixed-point
// Micros (spec.md §3). Invariant: Free >= 0, LockedOrders >= 0,
// LockedMargin >= 0 and their sum equals total custody.
type Account struct {
	Address types.Address

	Free         types.Micros
	LockedOrders types.Micros
	LockedMargin types.Micros

	Nonce types.Nonce

	// UnrealizedPnLCache is refreshed by internal/risk every tick and read
	// back by internal/query without recomputing across every open pair.
	UnrealizedPnLCache types.Micros

	RealizedPnL     types.Micros
	TotalFeesPaid   types.Micros
	TotalFeesEarned types.Micros
	TotalVolume     types.Micros
	TradeCount      int64
}

// NewAccount returns a zero-balance account for addr.
func NewAccount(addr types.Address) *Account {
	return &Account{Address: addr}
}

// TotalCustody returns the sum of all three balance buckets.
func (a *Account) TotalCustody() types.Micros {
	return a.Free + a.LockedOrders + a.LockedMargin
}

// Equity returns Free + LockedMargin + cached unrealized PnL, the basis
// for margin-ratio computation in internal/risk.
func (a *Account) Equity() types.Micros {
	return a.Free + a.LockedMargin + a.UnrealizedPnLCache
}

// Validate checks the account invariants of spec.md §3.
func (a *Account) Validate() error {
	if a.Free < 0 {
		return fmt.Errorf("negative free balance: %d", a.Free)
	}
	if a.LockedOrders < 0 {
		return fmt.Errorf("negative locked_orders: %d", a.LockedOrders)
	}
	if a.LockedMargin < 0 {
		return fmt.Errorf("negative locked_margin: %d", a.LockedMargin)
	}
	return nil
}
