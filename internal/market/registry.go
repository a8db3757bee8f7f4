package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/memeperp/engine/internal/types"
)

// Registry is a thread-safe directory of markets, keyed by symbol.
// Grounded on pkg/app/core/market/registry.go almost directly.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds m to the registry. Fails if the symbol already exists.
func (r *Registry) Register(m *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("market %s already registered", m.Symbol)
	}
	r.markets[m.Symbol] = m
	return nil
}

// Get returns the market for symbol, or false if unknown.
func (r *Registry) Get(symbol string) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	return m, ok
}

// List returns all registered markets, sorted by symbol.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ListActive returns registered markets with status Active, sorted by
// symbol.
func (r *Registry) ListActive() []*Market {
	all := r.List()
	out := make([]*Market, 0, len(all))
	for _, m := range all {
		if m.IsActive() {
			out = append(out, m)
		}
	}
	return out
}

// UpdateStatus transitions symbol's status, validating against Market's
// transition rules (teacher's MarketRegistry.UpdateMarketStatus). This is
// the admin-facing resume path for a market halted for a reason the risk
// loop cannot clear on its own (internal/engine's worker handles the
// oracle-staleness auto-resume directly via Market.Resume).
func (r *Registry) UpdateStatus(symbol string, status types.MarketStatus) error {
	r.mu.RLock()
	m, ok := r.markets[symbol]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("market %s not found", symbol)
	}
	return m.SetStatus(status)
}

// Exists reports whether symbol is registered.
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[symbol]
	return ok
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
