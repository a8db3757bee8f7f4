package ledger

import (
	"fmt"
	"sync"

	"github.com/memeperp/engine/internal/errs"
	"github.com/memeperp/engine/internal/types"
)

// entry pairs an Account with its own lock, so concurrent operations on
// different traders never contend (spec.md §5: "a fine-grained lock per
// account is required").
type entry struct {
	mu  sync.Mutex
	acc *Account
}

// Store is the persistence port the Manager writes through on every
// mutating operation. internal/ledger's Pebble-backed implementation lives
// in store.go, grounded on the teacher's account/store.go.
type Store interface {
	SaveAccount(acc *Account) error
	LoadAccount(addr types.Address) (*Account, error)
}

// Manager is the Account Ledger of spec.md §4.B. The top-level RWMutex
// only ever guards the accounts map itself (insert-if-absent); all balance
// mutation happens under the per-account entry lock, held briefly, matching
// §5's "grabs the account lock, reserves funds, and releases before
// enqueuing to the per-market worker."
type Manager struct {
	mu       sync.RWMutex
	accounts map[types.Address]*entry
	store    Store
}

// NewManager builds a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		accounts: make(map[types.Address]*entry),
		store:    store,
	}
}

func (m *Manager) entryFor(addr types.Address) *entry {
	m.mu.RLock()
	e, ok := m.accounts[addr]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.accounts[addr]; ok {
		return e
	}

	acc, err := m.store.LoadAccount(addr)
	if err != nil || acc == nil {
		acc = NewAccount(addr)
	}
	e = &entry{acc: acc}
	m.accounts[addr] = e
	return e
}

// GetAccount returns a snapshot copy of the account, creating it with a
// zero balance if it doesn't exist yet.
func (m *Manager) GetAccount(addr types.Address) Account {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.acc
}

// Deposit credits amount to Free (the bridge-inbound path; outside spec
// scope but required to exercise the ledger end to end).
func (m *Manager) Deposit(addr types.Address, amount types.Micros) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.Free += amount
	return m.store.SaveAccount(e.acc)
}

// Withdraw debits amount from Free.
func (m *Manager) Withdraw(addr types.Address, amount types.Micros) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw amount must be positive: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc.Free < amount {
		return errs.ErrInsufficientFunds
	}
	e.acc.Free -= amount
	return m.store.SaveAccount(e.acc)
}

// ReserveForOrder moves amount from Free to LockedOrders (spec.md §4.B).
// Fails with ErrInsufficientFunds if Free < amount.
func (m *Manager) ReserveForOrder(addr types.Address, amount types.Micros) error {
	if amount < 0 {
		return fmt.Errorf("reserve amount cannot be negative: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc.Free < amount {
		return errs.ErrInsufficientFunds
	}
	e.acc.Free -= amount
	e.acc.LockedOrders += amount
	return m.store.SaveAccount(e.acc)
}

// CommitMargin moves orderLock from LockedOrders into LockedMargin; any
// remainder of orderLock beyond margin is released back to Free (spec.md
// §4.B: "the remaining order-lock is released to free").
func (m *Manager) CommitMargin(addr types.Address, orderLock, margin types.Micros) error {
	if orderLock < 0 || margin < 0 {
		return fmt.Errorf("commit amounts cannot be negative")
	}
	if margin > orderLock {
		return fmt.Errorf("margin (%d) cannot exceed order lock (%d)", margin, orderLock)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc.LockedOrders < orderLock {
		return fmt.Errorf("locked_orders underflow: have %d, releasing %d", e.acc.LockedOrders, orderLock)
	}
	e.acc.LockedOrders -= orderLock
	e.acc.LockedMargin += margin
	e.acc.Free += orderLock - margin
	return m.store.SaveAccount(e.acc)
}

// ReleaseOrder moves amount from LockedOrders back to Free (cancel/expire
// path, spec.md §4.B).
func (m *Manager) ReleaseOrder(addr types.Address, amount types.Micros) error {
	if amount < 0 {
		return fmt.Errorf("release amount cannot be negative: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc.LockedOrders < amount {
		return fmt.Errorf("locked_orders underflow: have %d, releasing %d", e.acc.LockedOrders, amount)
	}
	e.acc.LockedOrders -= amount
	e.acc.Free += amount
	return m.store.SaveAccount(e.acc)
}

// ReleaseMargin moves amount from LockedMargin back to Free (pair-close
// path, spec.md §4.F: "Release the proportional margin back to free").
func (m *Manager) ReleaseMargin(addr types.Address, amount types.Micros) error {
	if amount < 0 {
		return fmt.Errorf("release amount cannot be negative: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc.LockedMargin < amount {
		return fmt.Errorf("locked_margin underflow: have %d, releasing %d", e.acc.LockedMargin, amount)
	}
	e.acc.LockedMargin -= amount
	e.acc.Free += amount
	return m.store.SaveAccount(e.acc)
}

// SettlePnL adjusts Free by the signed delta (spec.md §4.B). Free may not
// go negative here: a shortfall is the caller's (internal/liquidation's)
// responsibility to cover from the insurance fund before calling this with
// a delta that would underflow.
func (m *Manager) SettlePnL(addr types.Address, delta types.Micros) error {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if delta < 0 && e.acc.Free < -delta {
		return errs.ErrInsufficientFunds
	}
	e.acc.Free += delta
	e.acc.RealizedPnL += delta
	return m.store.SaveAccount(e.acc)
}

// DebitCollateralForLiquidation force-debits amount from an
// under-margined trader's LockedMargin without the Free-floor check
// SettlePnL applies, since internal/liquidation is explicitly allowed to
// drive equity to (and briefly below) zero before crediting the residual
// back. Returns the actual amount debited, which may be less than
// requested if LockedMargin is insufficient (a bankruptcy).
func (m *Manager) DebitCollateralForLiquidation(addr types.Address, amount types.Micros) (debited types.Micros, err error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount cannot be negative: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount > e.acc.LockedMargin {
		debited = e.acc.LockedMargin
		e.acc.LockedMargin = 0
	} else {
		debited = amount
		e.acc.LockedMargin -= amount
	}
	return debited, m.store.SaveAccount(e.acc)
}

// CreditFree adds amount directly to Free, used to return residual
// collateral after a liquidation closes out a position (spec.md §4.H step
// 5).
func (m *Manager) CreditFree(addr types.Address, amount types.Micros) error {
	if amount < 0 {
		return fmt.Errorf("credit amount cannot be negative: %d", amount)
	}
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.Free += amount
	return m.store.SaveAccount(e.acc)
}

// RecordFee updates fee/volume statistics without moving balance buckets
// (fee amounts are already reflected via SettlePnL/CommitMargin deltas at
// the call site).
func (m *Manager) RecordFee(addr types.Address, fee types.Micros, isMaker bool, notional types.Micros) error {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	if isMaker && fee < 0 {
		e.acc.TotalFeesEarned += -fee
	} else {
		e.acc.TotalFeesPaid += fee
	}
	e.acc.TotalVolume += notional
	e.acc.TradeCount++
	return m.store.SaveAccount(e.acc)
}

// NextNonce returns the account's current nonce and atomically increments
// it (spec.md §4.B: "next_nonce(trader) returns current and atomically
// increments").
func (m *Manager) NextNonce(addr types.Address) types.Nonce {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.acc.Nonce
	e.acc.Nonce++
	_ = m.store.SaveAccount(e.acc)
	return n
}

// CurrentNonce returns the account's nonce without incrementing it, used by
// internal/auth to validate an order's declared nonce (spec.md §4.C step
// 3: "Verify nonce == account.nonce").
func (m *Manager) CurrentNonce(addr types.Address) types.Nonce {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Nonce
}

// AdvanceNonce increments the account's nonce unconditionally, called by
// internal/auth only after verifying the order's nonce matched (spec.md
// §4.C step 3: "On success, increment nonce").
func (m *Manager) AdvanceNonce(addr types.Address) {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.Nonce++
	_ = m.store.SaveAccount(e.acc)
}

// SetUnrealizedPnLCache refreshes the account's cached unrealized PnL
// figure, written once per risk-loop tick by internal/risk and read back by
// internal/query.
func (m *Manager) SetUnrealizedPnLCache(addr types.Address, upnl types.Micros) {
	e := m.entryFor(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.UnrealizedPnLCache = upnl
}

// ListAddresses returns every address currently cached in the manager.
func (m *Manager) ListAddresses() []types.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Address, 0, len(m.accounts))
	for addr := range m.accounts {
		out = append(out, addr)
	}
	return out
}

// Count returns the number of accounts currently cached.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}
