package book

import "github.com/memeperp/engine/internal/types"

// MaxPriceHeap tracks bid price levels with the highest price on top.
// Ported from pkg/app/core/orderbook/heap.go, retyped to types.Ticks.
type MaxPriceHeap []types.Ticks

func (h MaxPriceHeap) Len() int           { return len(h) }
func (h MaxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h MaxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MaxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(types.Ticks))
}

func (h *MaxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the top price without removing it, or 0 if empty.
func (h MaxPriceHeap) Peek() types.Ticks {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// MinPriceHeap tracks ask price levels with the lowest price on top.
type MinPriceHeap []types.Ticks

func (h MinPriceHeap) Len() int           { return len(h) }
func (h MinPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h MinPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MinPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(types.Ticks))
}

func (h *MinPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h MinPriceHeap) Peek() types.Ticks {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
