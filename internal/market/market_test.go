package market

import (
	"testing"
	"time"

	"github.com/memeperp/engine/internal/types"
)

func newTestMarket(t *testing.T) *Market {
	t.Helper()
	m, err := New("BTC-USD", "BTC", "USD", DefaultPerp(1, 100, 50))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewMarketRejectsInconsistentLeverage(t *testing.T) {
	p := DefaultPerp(1, 100, 50)
	p.InitialMarginBps = 9000 // wildly inconsistent with 50x
	if _, err := New("X-USD", "X", "USD", p); err == nil {
		t.Fatal("expected validation error for inconsistent leverage/margin")
	}
}

func TestValidateOrderSizeBounds(t *testing.T) {
	m := newTestMarket(t)
	if err := m.ValidateOrderSize(0); err == nil {
		t.Fatal("expected error below minimum")
	}
	if err := m.ValidateOrderSize(m.MaxOrderSize + 1); err == nil {
		t.Fatal("expected error above maximum")
	}
	if err := m.ValidateOrderSize(m.MinOrderSize); err != nil {
		t.Fatalf("unexpected error at minimum: %v", err)
	}
}

func TestRecentTradesRingIsBoundedAndNewestFirst(t *testing.T) {
	m := newTestMarket(t)
	m.tradesCap = 3
	base := time.Now()
	for i := 0; i < 5; i++ {
		m.RecordTrade(types.Ticks(100+i), 10, types.SideLong, base.Add(time.Duration(i)*time.Second))
	}
	trades := m.RecentTrades(0)
	if len(trades) != 3 {
		t.Fatalf("expected ring bounded to 3, got %d", len(trades))
	}
	if trades[0].Price != 104 {
		t.Fatalf("expected newest trade first, got price %d", trades[0].Price)
	}
	if m.LastTradePrice() != 104 {
		t.Fatalf("expected last trade price 104, got %d", m.LastTradePrice())
	}
}

func TestInsuranceFundCreditAndDrain(t *testing.T) {
	m := newTestMarket(t)
	m.SeedInsuranceFund(1000)
	if got := m.CreditInsuranceFund(-1500); got != -500 {
		t.Fatalf("expected fund to go negative to -500, got %d", got)
	}
}

func TestRegistryRegisterAndListActive(t *testing.T) {
	r := NewRegistry()
	m := newTestMarket(t)
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(m); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	m.SetStatus(types.MarketHalted)
	if len(r.ListActive()) != 0 {
		t.Fatal("halted market must not appear in ListActive")
	}
}

func TestHaltAndResumeRoundTrip(t *testing.T) {
	m := newTestMarket(t)
	if err := m.Halt("oracle_stale"); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if m.IsActive() {
		t.Fatal("expected market inactive after Halt")
	}
	if got := m.HaltReason(); got != "oracle_stale" {
		t.Fatalf("expected halt reason oracle_stale, got %q", got)
	}
	if err := m.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !m.IsActive() {
		t.Fatal("expected market active after Resume")
	}
	if got := m.HaltReason(); got != "" {
		t.Fatalf("expected halt reason cleared after Resume, got %q", got)
	}
}

func TestSetStatusRejectsTransitionOutOfSettled(t *testing.T) {
	m := newTestMarket(t)
	if err := m.SetStatus(types.MarketSettled); err != nil {
		t.Fatalf("SetStatus(Settled): %v", err)
	}
	if err := m.SetStatus(types.MarketActive); err == nil {
		t.Fatal("expected Settled to be a terminal state")
	}
	if err := m.Resume(); err == nil {
		t.Fatal("expected Resume to reject a Settled market")
	}
}

func TestRegistryUpdateStatus(t *testing.T) {
	r := NewRegistry()
	m := newTestMarket(t)
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.UpdateStatus(m.Symbol, types.MarketHalted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if m.IsActive() {
		t.Fatal("expected market halted via registry UpdateStatus")
	}
	if err := r.UpdateStatus("NOPE-USD", types.MarketActive); err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}
