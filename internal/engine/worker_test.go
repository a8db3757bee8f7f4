package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/broadcast"
	"github.com/memeperp/engine/internal/journal"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/oracle"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time                         { return f.t }
func (f fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type fixedOracle struct{ price types.Ticks }

func (f fixedOracle) SpotPrice(market string) (types.Ticks, error) { return f.price, nil }

func setupWorker(t *testing.T) (*Worker, *ledger.Manager, *pair.Ledger, *pair.Pair) {
	t.Helper()
	mkt, err := market.New("BTC-USD", "BTC", "USD", market.DefaultPerp(1, 100, 50))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	mkt.SetMarkPrice(100)

	accounts := ledger.NewManager(ledger.NewMemStore())
	long := common.HexToAddress("0x1")
	short := common.HexToAddress("0x2")
	protocol := common.HexToAddress("0x3")
	_ = accounts.Deposit(long, 1_000_000)
	_ = accounts.Deposit(short, 1_000_000)
	_ = accounts.ReserveForOrder(long, 200)
	_ = accounts.ReserveForOrder(short, 200)

	pairs := pair.NewLedger(accounts, pair.NewMemStore())
	p, err := pairs.OpenFromFill(pair.OpenRequest{
		Market:         mkt.Symbol,
		LongTrader:     long,
		ShortTrader:    short,
		Size:           10,
		Price:          100,
		LeverageLong:   5,
		LeverageShort:  5,
		LongOrderLock:  200,
		LongMargin:     200,
		ShortOrderLock: 200,
		ShortMargin:    200,
		Protocol:       protocol,
		At:             time.Unix(1_700_000_000, 0),
	})
	if err != nil {
		t.Fatalf("OpenFromFill: %v", err)
	}

	clk := fixedClock{t: time.Unix(1_700_000_100, 0)}
	trk := oracle.NewTracker(fixedOracle{price: 100}, clk, time.Minute)
	hub := broadcast.New(zap.NewNop())

	w := NewWorker(WorkerDeps{
		Market:    mkt,
		Accounts:  accounts,
		Pairs:     pairs,
		Oracle:    trk,
		Clock:     clk,
		Hub:       hub,
		Journal:   journal.NewNopWriter(),
		Logger:    zap.NewNop(),
		Protocol:  protocol,
		ADLFeeBps: func(string) int64 { return 10 },
	})
	return w, accounts, pairs, p
}

func TestWorkerClosePartial(t *testing.T) {
	w, _, pairs, p := setupWorker(t)
	go w.Run()
	defer w.Stop()

	res, err := w.Close(p.ID, 4)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.ClosedSize != 4 {
		t.Fatalf("expected closed size 4, got %d", res.ClosedSize)
	}
	if res.Remaining != 6 {
		t.Fatalf("expected remaining 6, got %d", res.Remaining)
	}

	stored, ok := pairs.Get(p.ID)
	if !ok || stored.Status != types.PairOpen || stored.Size != 6 {
		t.Fatalf("expected pair to remain open with size 6, got %+v", stored)
	}
}

func TestWorkerCloseFullWithZeroQty(t *testing.T) {
	w, _, pairs, p := setupWorker(t)
	go w.Run()
	defer w.Stop()

	res, err := w.Close(p.ID, 0)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Remaining != 0 {
		t.Fatalf("expected pair fully closed, remaining=%d", res.Remaining)
	}

	stored, ok := pairs.Get(p.ID)
	if !ok || stored.Status != types.PairClosed {
		t.Fatalf("expected pair to be marked closed, got %+v", stored)
	}
}

func TestWorkerCloseUnknownPairFails(t *testing.T) {
	w, _, _, _ := setupWorker(t)
	go w.Run()
	defer w.Stop()

	if _, err := w.Close("does-not-exist", 0); err == nil {
		t.Fatal("expected error closing an unknown pair")
	}
}

func TestWorkerCancelUnknownOrderFails(t *testing.T) {
	w, _, _, _ := setupWorker(t)
	go w.Run()
	defer w.Stop()

	if err := w.Cancel("no-such-order", common.HexToAddress("0x1")); err == nil {
		t.Fatal("expected error cancelling an unknown order")
	}
}

// toggleOracle fails SpotPrice until flipped, so a test can drive a
// Tracker from stale to fresh without waiting on a real clock.
type toggleOracle struct{ fail bool }

func (o *toggleOracle) SpotPrice(market string) (types.Ticks, error) {
	if o.fail {
		return 0, fmt.Errorf("oracle unavailable")
	}
	return 100, nil
}

func TestRunTickHaltsOnStalenessAndResumesOnRecovery(t *testing.T) {
	mkt, err := market.New("BTC-USD", "BTC", "USD", market.DefaultPerp(1, 100, 50))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	mkt.SetMarkPrice(100)

	accounts := ledger.NewManager(ledger.NewMemStore())
	pairs := pair.NewLedger(accounts, pair.NewMemStore())
	clk := fixedClock{t: time.Unix(1_700_000_100, 0)}
	src := &toggleOracle{fail: true}
	trk := oracle.NewTracker(src, clk, time.Minute)
	hub := broadcast.New(zap.NewNop())

	w := NewWorker(WorkerDeps{
		Market:    mkt,
		Accounts:  accounts,
		Pairs:     pairs,
		Oracle:    trk,
		Clock:     clk,
		Hub:       hub,
		Journal:   journal.NewNopWriter(),
		Logger:    zap.NewNop(),
		Protocol:  common.HexToAddress("0x3"),
		ADLFeeBps: func(string) int64 { return 10 },
	})

	w.runTick()
	if mkt.IsActive() {
		t.Fatal("expected market halted after oracle staleness")
	}
	if got := mkt.HaltReason(); got != haltReasonOracleStale {
		t.Fatalf("expected halt reason %q, got %q", haltReasonOracleStale, got)
	}

	src.fail = false
	w.runTick()
	if !mkt.IsActive() {
		t.Fatal("expected market resumed once the oracle recovered")
	}
	if got := mkt.HaltReason(); got != "" {
		t.Fatalf("expected halt reason cleared after resume, got %q", got)
	}
}

func TestRunTickStaysHaltedForNonOracleReason(t *testing.T) {
	w, _, _, _ := setupWorker(t)

	if err := w.mkt.Halt("uninsured_loss"); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	w.runTick()
	if w.mkt.IsActive() {
		t.Fatal("expected market to stay halted for a non-oracle reason")
	}
	if got := w.mkt.HaltReason(); got != "uninsured_loss" {
		t.Fatalf("expected halt reason to be preserved, got %q", got)
	}
}
