package book

import (
	"testing"
	"time"

	"github.com/memeperp/engine/internal/types"
)

func mkOrder(id string, side types.Side, price types.Ticks, size types.Lots) *RestingOrder {
	return &RestingOrder{ID: id, Side: side, Price: price, Size: size, AdmitAt: time.Now()}
}

func TestInsertAndBestPrices(t *testing.T) {
	b := New()
	b.Insert(mkOrder("bid-1", types.SideLong, 100, 10))
	b.Insert(mkOrder("bid-2", types.SideLong, 105, 10))
	b.Insert(mkOrder("ask-1", types.SideShort, 110, 10))

	if bid, ok := b.BestBid(); !ok || bid != 105 {
		t.Fatalf("expected best bid 105, got %d ok=%v", bid, ok)
	}
	if ask, ok := b.BestAsk(); !ok || ask != 110 {
		t.Fatalf("expected best ask 110, got %d ok=%v", ask, ok)
	}
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	b := New()
	b.Insert(mkOrder("a", types.SideLong, 100, 5))
	b.Insert(mkOrder("b", types.SideLong, 100, 5))

	head, ok := b.PeekBest(types.SideLong)
	if !ok || head.ID != "a" {
		t.Fatalf("expected FIFO head 'a', got %+v", head)
	}
	b.Consume(head, 5)
	head, ok = b.PeekBest(types.SideLong)
	if !ok || head.ID != "b" {
		t.Fatalf("expected FIFO head 'b' after first fully filled, got %+v", head)
	}
}

func TestPartialConsumeLeavesResidual(t *testing.T) {
	b := New()
	b.Insert(mkOrder("a", types.SideShort, 100, 10))
	head, _ := b.PeekBest(types.SideShort)
	b.Consume(head, 4)
	if head.Remaining() != 6 {
		t.Fatalf("expected residual 6, got %d", head.Remaining())
	}
	// still resting since not fully filled
	still, ok := b.PeekBest(types.SideShort)
	if !ok || still.ID != "a" {
		t.Fatal("partially filled order must remain resting (spec.md §4.D invariant)")
	}
}

func TestRemoveClearsEmptyPriceLevel(t *testing.T) {
	b := New()
	b.Insert(mkOrder("a", types.SideLong, 100, 10))
	if _, ok := b.Remove("a"); !ok {
		t.Fatal("expected removal to succeed")
	}
	if _, ok := b.BestBid(); ok {
		t.Fatal("expected empty book after removing the only bid")
	}
	if _, ok := b.Remove("a"); ok {
		t.Fatal("removing an already-removed id must fail")
	}
}

func TestLevelsAggregateAndSort(t *testing.T) {
	b := New()
	b.Insert(mkOrder("a", types.SideLong, 100, 5))
	b.Insert(mkOrder("b", types.SideLong, 100, 7))
	b.Insert(mkOrder("c", types.SideLong, 105, 3))

	levels := b.BidLevels()
	if len(levels) != 2 || levels[0].Price != 105 || levels[1].Size != 12 {
		t.Fatalf("unexpected levels: %+v", levels)
	}
}

func TestMidPriceRequiresBothSides(t *testing.T) {
	b := New()
	if b.MidPrice() != 0 {
		t.Fatal("empty book should have mid price 0")
	}
	b.Insert(mkOrder("a", types.SideLong, 100, 5))
	if b.MidPrice() != 0 {
		t.Fatal("one-sided book should have mid price 0")
	}
	b.Insert(mkOrder("b", types.SideShort, 110, 5))
	if b.MidPrice() != 105 {
		t.Fatalf("expected mid price 105, got %d", b.MidPrice())
	}
}
