// Package book implements the per-market Order Book of spec.md §4.D: two
// price-ordered sides of resting limit orders, FIFO within a price level.
//
// Grounded on pkg/app/core/orderbook/{heap.go,orderbook.go}: heap-tracked
// best bid/ask, FIFO price-level queues, and an order-id index for O(1)
// cancel are carried over almost unchanged. Unlike the teacher's
// OrderBook.Place (which matches and inserts in one call), this Book only
// exposes the primitives spec.md §4.D names — best, walk, insert, remove —
// and leaves the matching algorithm itself (fee computation, self-trade
// handling, TIF residual handling) to internal/matching, which drives the
// book through PeekBest/Consume.
package book

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/memeperp/engine/internal/types"
)

// RestingOrder is a limit order resting in the book.
type RestingOrder struct {
	ID      string
	Trader  types.Address
	Side    types.Side
	Price   types.Ticks
	Size    types.Lots
	Filled  types.Lots
	AdmitAt time.Time // authenticator admit time; tie-break never uses client time (spec.md §4.E step 5)
}

// Remaining returns the unfilled quantity.
func (o *RestingOrder) Remaining() types.Lots { return o.Size - o.Filled }

// PriceLevel is an aggregated view of one price's total resting quantity.
type PriceLevel struct {
	Price types.Ticks
	Size  types.Lots
}

// Book is one market's two-sided resting-order book.
type Book struct {
	mu sync.RWMutex

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	bids map[types.Ticks][]*RestingOrder
	asks map[types.Ticks][]*RestingOrder

	// index maps an order id to (side, price) for O(1) cancel.
	index map[string]indexEntry

	lastPrice types.Ticks
}

type indexEntry struct {
	side  types.Side
	price types.Ticks
}

// New builds an empty Book.
func New() *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[types.Ticks][]*RestingOrder),
		asks:    make(map[types.Ticks][]*RestingOrder),
		index:   make(map[string]indexEntry),
	}
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (types.Ticks, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

func (b *Book) bestBidLocked() (types.Ticks, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (types.Ticks, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *Book) bestAskLocked() (types.Ticks, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// Insert adds a resting order to the appropriate side by o.Side. o.Filled
// must already reflect any prior partial fill from the matching walk.
func (b *Book) Insert(o *RestingOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Side == types.SideLong {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.index[o.ID] = indexEntry{side: o.Side, price: o.Price}
}

// Remove cancels a resting order by id. Returns the removed order and true
// on success, or (nil, false) if the id is not resting (already terminal).
func (b *Book) Remove(id string) (*RestingOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Book) removeLocked(id string) (*RestingOrder, bool) {
	e, ok := b.index[id]
	if !ok {
		return nil, false
	}
	side := b.bids
	priceHeap := heap.Interface(b.bidHeap)
	if e.side == types.SideShort {
		side = b.asks
		priceHeap = b.askHeap
	}

	arr := side[e.price]
	for i, o := range arr {
		if o.ID == id {
			arr = append(arr[:i], arr[i+1:]...)
			if len(arr) == 0 {
				delete(side, e.price)
				removePriceFromHeap(priceHeap, e.price)
			} else {
				side[e.price] = arr
			}
			delete(b.index, id)
			return o, true
		}
	}
	return nil, false
}

func removePriceFromHeap(h heap.Interface, price types.Ticks) {
	switch typed := h.(type) {
	case *MaxPriceHeap:
		for i, p := range *typed {
			if p == price {
				heap.Remove(typed, i)
				return
			}
		}
	case *MinPriceHeap:
		for i, p := range *typed {
			if p == price {
				heap.Remove(typed, i)
				return
			}
		}
	}
}

// PeekBest returns the head resting order of the best price level on the
// given resting side (types.SideLong for bids, types.SideShort for asks),
// without removing it. Matching core uses this to decide whether to match,
// skip (self-trade), or stop walking.
func (b *Book) PeekBest(side types.Side) (*RestingOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if side == types.SideLong {
		p, ok := b.bestBidLocked()
		if !ok {
			return nil, false
		}
		level := b.bids[p]
		if len(level) == 0 {
			return nil, false
		}
		return level[0], true
	}
	p, ok := b.bestAskLocked()
	if !ok {
		return nil, false
	}
	level := b.asks[p]
	if len(level) == 0 {
		return nil, false
	}
	return level[0], true
}

// Consume fills qty against maker, which the caller passes straight from
// PeekBest; it does not check that maker is still the head of its level.
// Removes the maker from the book once fully filled. Updates the book's last-trade price.
func (b *Book) Consume(maker *RestingOrder, qty types.Lots) {
	b.mu.Lock()
	defer b.mu.Unlock()

	maker.Filled += qty
	b.lastPrice = maker.Price

	if maker.Remaining() == 0 {
		b.removeLocked(maker.ID)
	}
}

// SkipMaker removes maker from the book entirely without recording a fill
// — the self-trade-prevention path of spec.md §4.E step 4, where the
// smaller side's order is cancelled outright rather than matched.
func (b *Book) SkipMaker(maker *RestingOrder) {
	b.Remove(maker.ID)
}

// BidLevels returns aggregated bid levels, best (highest price) first.
func (b *Book) BidLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return aggregateLevels(b.bids, true)
}

// AskLevels returns aggregated ask levels, best (lowest price) first.
func (b *Book) AskLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return aggregateLevels(b.asks, false)
}

func aggregateLevels(side map[types.Ticks][]*RestingOrder, descending bool) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for price, orders := range side {
		var total types.Lots
		for _, o := range orders {
			total += o.Remaining()
		}
		if total == 0 {
			continue
		}
		levels = append(levels, PriceLevel{Price: price, Size: total})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// MidPrice returns the average of best bid and best ask, or 0 if the book
// is empty or one-sided.
func (b *Book) MidPrice() types.Ticks {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, okB := b.bestBidLocked()
	ask, okA := b.bestAskLocked()
	if !okB || !okA {
		return 0
	}
	return (bid + ask) / 2
}

// LastTradePrice returns the price of the most recent consumed fill.
func (b *Book) LastTradePrice() types.Ticks {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// Liquidity sums the remaining resting quantity on side, excluding any
// order belonging to excludeTrader. Used by the Matching Core's FOK
// pre-walk simulation (spec.md §4.E step 2), which must not count
// liquidity that would be skipped as a self-trade rather than filled.
func (b *Book) Liquidity(side types.Side, excludeTrader types.Address) types.Lots {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.bids
	if side == types.SideShort {
		levels = b.asks
	}
	var total types.Lots
	for _, orders := range levels {
		for _, o := range orders {
			if o.Trader == excludeTrader {
				continue
			}
			total += o.Remaining()
		}
	}
	return total
}
