package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var trader1 = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemStore())
}

func TestReserveCommitRelease(t *testing.T) {
	m := newTestManager(t)
	if err := m.Deposit(trader1, 1000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := m.ReserveForOrder(trader1, 400); err != nil {
		t.Fatalf("ReserveForOrder: %v", err)
	}
	acc := m.GetAccount(trader1)
	if acc.Free != 600 || acc.LockedOrders != 400 {
		t.Fatalf("unexpected buckets after reserve: %+v", acc)
	}

	if err := m.CommitMargin(trader1, 400, 300); err != nil {
		t.Fatalf("CommitMargin: %v", err)
	}
	acc = m.GetAccount(trader1)
	if acc.LockedOrders != 0 || acc.LockedMargin != 300 || acc.Free != 700 {
		t.Fatalf("unexpected buckets after commit: %+v", acc)
	}

	if err := m.ReleaseMargin(trader1, 300); err != nil {
		t.Fatalf("ReleaseMargin: %v", err)
	}
	acc = m.GetAccount(trader1)
	if acc.Free != 1000 || acc.LockedMargin != 0 {
		t.Fatalf("unexpected buckets after release: %+v", acc)
	}
}

func TestReserveInsufficientFunds(t *testing.T) {
	m := newTestManager(t)
	_ = m.Deposit(trader1, 100)
	if err := m.ReserveForOrder(trader1, 200); err == nil {
		t.Fatal("expected insufficient funds error")
	}
	acc := m.GetAccount(trader1)
	if acc.Free != 100 || acc.LockedOrders != 0 {
		t.Fatalf("failed reservation must not mutate buckets: %+v", acc)
	}
}

func TestNextNonceMonotone(t *testing.T) {
	m := newTestManager(t)
	n0 := m.NextNonce(trader1)
	n1 := m.NextNonce(trader1)
	if n1 != n0+1 {
		t.Fatalf("expected monotone nonce, got %d then %d", n0, n1)
	}
}

func TestSettlePnLNegativeBeyondFreeFails(t *testing.T) {
	m := newTestManager(t)
	_ = m.Deposit(trader1, 100)
	if err := m.SettlePnL(trader1, -200); err == nil {
		t.Fatal("expected insufficient funds on over-negative settle")
	}
	if err := m.SettlePnL(trader1, -50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acc := m.GetAccount(trader1)
	if acc.Free != 50 {
		t.Fatalf("expected free=50, got %d", acc.Free)
	}
}

func TestDebitCollateralForLiquidationCapsAtLockedMargin(t *testing.T) {
	m := newTestManager(t)
	_ = m.Deposit(trader1, 1000)
	_ = m.ReserveForOrder(trader1, 500)
	_ = m.CommitMargin(trader1, 500, 200)

	debited, err := m.DebitCollateralForLiquidation(trader1, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debited != 200 {
		t.Fatalf("expected debit capped at locked margin 200, got %d", debited)
	}
	acc := m.GetAccount(trader1)
	if acc.LockedMargin != 0 {
		t.Fatalf("expected locked margin drained to 0, got %d", acc.LockedMargin)
	}
}
