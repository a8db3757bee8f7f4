// Package oracle is the external spot-price port of spec.md §4.A. The
// concrete price feed (HTTP client, on-chain reader, whatever the
// deployment wires up) is outside the spec's scope; this package only
// defines the port and the staleness bookkeeping the engine needs around
// it.
package oracle

import (
	"sync"
	"time"

	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/types"
)

// Source is polled by the engine for a market's external spot price.
// Implementations are injected at construction time (spec.md §9's
// "dependency-injected ports"); the engine never imports a concrete feed.
type Source interface {
	SpotPrice(market string) (types.Ticks, error)
}

// Tracker wraps a Source with a last-good-value cache and a staleness
// bound. When polling fails, the last good value is retained up to
// StaleAfter; past that, Stale reports true and the caller (internal/engine's
// per-market worker) must halt admission for the market per spec.md §4.A.
type Tracker struct {
	mu         sync.Mutex
	src        Source
	clk        clock.Clock
	staleAfter time.Duration

	last       map[string]types.Ticks
	lastGoodAt map[string]time.Time
}

// NewTracker builds a Tracker. staleAfter is the configured staleness bound
// (spec.md §4.A gives 10s as an example).
func NewTracker(src Source, clk clock.Clock, staleAfter time.Duration) *Tracker {
	return &Tracker{
		src:        src,
		clk:        clk,
		staleAfter: staleAfter,
		last:       make(map[string]types.Ticks),
		lastGoodAt: make(map[string]time.Time),
	}
}

// Poll fetches the spot price for market. On success it updates the cache
// and returns the fresh value. On failure it returns the last good value,
// however old, and a nil error, since a transient fetch failure is not
// itself a caller-visible error — only Stale reports whether that value is
// past the staleness bound.
// When there has never been a good value, it returns an error.
func (t *Tracker) Poll(market string) (types.Ticks, error) {
	price, err := t.src.SpotPrice(market)
	now := t.clk.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil {
		t.last[market] = price
		t.lastGoodAt[market] = now
		return price, nil
	}

	last, ok := t.last[market]
	if !ok {
		return 0, err
	}
	return last, nil
}

// Stale reports whether market's last good price is older than the
// configured staleness bound, as of clk.Now(). A market with no recorded
// price is always stale.
func (t *Tracker) Stale(market string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.lastGoodAt[market]
	if !ok {
		return true
	}
	return t.clk.Now().Sub(at) > t.staleAfter
}

// LastGood returns the last known-good price and whether one exists.
func (t *Tracker) LastGood(market string) (types.Ticks, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.last[market]
	return p, ok
}
