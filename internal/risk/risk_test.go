package risk

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

type fakeAccounts struct {
	cached map[types.Address]types.Micros
}

func (f *fakeAccounts) SetUnrealizedPnLCache(addr types.Address, upnl types.Micros) {
	if f.cached == nil {
		f.cached = make(map[types.Address]types.Micros)
	}
	f.cached[addr] = upnl
}

func setupMarketAndPair(t *testing.T) (*market.Market, *pair.Ledger, *pair.Pair) {
	t.Helper()
	mkt, err := market.New("BTC-USD", "BTC", "USD", market.DefaultPerp(1, 100, 50))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	mkt.SetMarkPrice(100)

	ledger := pair.NewLedger(noopAccountLedger{}, noopStore{})
	req := pair.OpenRequest{
		Market:        mkt.Symbol,
		LongTrader:    common.HexToAddress("0x1"),
		ShortTrader:   common.HexToAddress("0x2"),
		Size:          10,
		Price:         100,
		LeverageLong:  5,
		LeverageShort: 5,
		LongMargin:    200,
		ShortMargin:   200,
		Protocol:      common.HexToAddress("0x3"),
		At:            time.Unix(1_700_000_000, 0),
	}
	p, err := ledger.OpenFromFill(req)
	if err != nil {
		t.Fatalf("OpenFromFill: %v", err)
	}
	return mkt, ledger, p
}

type noopAccountLedger struct{}

func (noopAccountLedger) CommitMargin(addr types.Address, orderLock, margin types.Micros) error {
	return nil
}
func (noopAccountLedger) SettlePnL(addr types.Address, delta types.Micros) error { return nil }
func (noopAccountLedger) ReleaseMargin(addr types.Address, amount types.Micros) error {
	return nil
}

type noopStore struct{}

func (noopStore) SavePair(p *pair.Pair) error { return nil }

func TestSnapshotMatchesTickMathWithoutSideEffects(t *testing.T) {
	mkt, ledger, p := setupMarketAndPair(t)
	accounts := &fakeAccounts{}
	c := NewComputer(ledger, accounts)

	fundingBefore := mkt.FundingIndex()

	snap := c.Snapshot(mkt)
	if len(snap) != 1 {
		t.Fatalf("expected 1 position update, got %d", len(snap))
	}
	u := snap[0]
	if u.PairID != p.ID {
		t.Fatalf("unexpected pair id: %s", u.PairID)
	}
	if u.Mark != 100 {
		t.Fatalf("expected mark 100, got %d", u.Mark)
	}
	if u.LongUPnL != 0 || u.ShortUPnL != 0 {
		t.Fatalf("expected zero uPnL at entry price, got long=%d short=%d", u.LongUPnL, u.ShortUPnL)
	}

	if mkt.FundingIndex() != fundingBefore {
		t.Fatal("Snapshot must not advance funding")
	}
	if len(accounts.cached) != 0 {
		t.Fatal("Snapshot must not write the unrealized-PnL cache")
	}
}

func TestSnapshotReflectsMarkMovement(t *testing.T) {
	mkt, ledger, _ := setupMarketAndPair(t)
	mkt.SetMarkPrice(110)
	c := NewComputer(ledger, &fakeAccounts{})

	snap := c.Snapshot(mkt)
	if len(snap) != 1 {
		t.Fatalf("expected 1 position update, got %d", len(snap))
	}
	u := snap[0]
	if u.LongUPnL <= 0 {
		t.Fatalf("expected positive long uPnL after mark rose, got %d", u.LongUPnL)
	}
	if u.ShortUPnL != -u.LongUPnL {
		t.Fatalf("uPnL must be zero-sum: long=%d short=%d", u.LongUPnL, u.ShortUPnL)
	}
}

func TestSnapshotAndTickAgreeOnMarginRatio(t *testing.T) {
	mkt, ledger, _ := setupMarketAndPair(t)
	c := NewComputer(ledger, &fakeAccounts{})

	tickResult := c.Tick(mkt, 100, 100, 100, time.Unix(1_700_000_100, 0))
	snap := c.Snapshot(mkt)

	if len(tickResult.Positions) != 1 || len(snap) != 1 {
		t.Fatalf("expected single-pair results from both Tick and Snapshot")
	}
	if tickResult.Positions[0].LongMarginRatioBps != snap[0].LongMarginRatioBps {
		t.Fatalf("Tick and Snapshot disagree on margin ratio: %d vs %d",
			tickResult.Positions[0].LongMarginRatioBps, snap[0].LongMarginRatioBps)
	}
}
