package query

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/engine/internal/book"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

func setupService(t *testing.T) (*Service, *market.Market, *pair.Pair) {
	t.Helper()
	mkt, err := market.New("BTC-USD", "BTC", "USD", market.DefaultPerp(1, 100, 50))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	mkt.SetMarkPrice(100)

	registry := market.NewRegistry()
	if err := registry.Register(mkt); err != nil {
		t.Fatalf("Register: %v", err)
	}

	accounts := ledger.NewManager(ledger.NewMemStore())
	long := common.HexToAddress("0x1")
	short := common.HexToAddress("0x2")
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
		Protocol:       common.HexToAddress("0x3"),
		At:             time.Unix(1_700_000_000, 0),
	})
	if err != nil {
		t.Fatalf("OpenFromFill: %v", err)
	}

	noBook := func(string) (*book.Book, bool) { return nil, false }
	svc := New(accounts, pairs, registry, noBook, nil)
	return svc, mkt, p
}

func TestGetRiskSnapshotReportsInsuranceFundAndPositions(t *testing.T) {
	svc, mkt, p := setupService(t)
	mkt.SeedInsuranceFund(5_000_000)
	mkt.SetMarkPrice(110)

	view, err := svc.GetRiskSnapshot(mkt.Symbol)
	if err != nil {
		t.Fatalf("GetRiskSnapshot: %v", err)
	}
	if view.Market != mkt.Symbol {
		t.Fatalf("unexpected market: %s", view.Market)
	}
	if !view.InsuranceFund.Equal(Micros(5_000_000)) {
		t.Fatalf("unexpected insurance fund: %s", view.InsuranceFund)
	}
	if len(view.Positions) != 1 || view.Positions[0].PairID != p.ID {
		t.Fatalf("expected one position for pair %s, got %+v", p.ID, view.Positions)
	}
}

func TestGetRiskSnapshotUnknownMarket(t *testing.T) {
	svc, _, _ := setupService(t)
	if _, err := svc.GetRiskSnapshot("NOPE-USD"); err == nil {
		t.Fatal("expected error for unknown market")
	}
}

func TestGetLiquidationMapSortedNearestFirst(t *testing.T) {
	svc, mkt, _ := setupService(t)
	mkt.SetMarkPrice(100)

	levels, err := svc.GetLiquidationMap(mkt.Symbol)
	if err != nil {
		t.Fatalf("GetLiquidationMap: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 liquidation levels (long+short), got %d", len(levels))
	}
	mark := Price(mkt.MarkPrice(), mkt.TickSize)
	for i := 1; i < len(levels); i++ {
		prevDist := mark.Sub(levels[i-1].LiqPrice).Abs()
		curDist := mark.Sub(levels[i].LiqPrice).Abs()
		if prevDist.GreaterThan(curDist) {
			t.Fatalf("expected nearest-to-mark ordering, got %v", levels)
		}
	}
}

func TestGetKlinesBucketsTradesByResolution(t *testing.T) {
	svc, mkt, _ := setupService(t)

	base := time.Unix(1_700_000_000, 0)
	mkt.RecordTrade(100, 1, types.SideLong, base)
	mkt.RecordTrade(105, 1, types.SideLong, base.Add(10*time.Second))
	mkt.RecordTrade(95, 1, types.SideShort, base.Add(70*time.Second))

	candles, err := svc.GetKlines(mkt.Symbol, time.Minute, 0)
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 one-minute candles, got %d: %+v", len(candles), candles)
	}
	first := candles[0]
	if !first.Open.Equal(Price(100, mkt.TickSize)) || !first.High.Equal(Price(105, mkt.TickSize)) {
		t.Fatalf("unexpected first candle: %+v", first)
	}
	if !first.Close.Equal(Price(105, mkt.TickSize)) {
		t.Fatalf("expected first candle close to be last trade in bucket: %+v", first)
	}
}

func TestGetKlinesUnknownMarket(t *testing.T) {
	svc, _, _ := setupService(t)
	if _, err := svc.GetKlines("NOPE-USD", time.Minute, 0); err == nil {
		t.Fatal("expected error for unknown market")
	}
}
