// Package pair also holds the Pair Ledger itself (spec.md §4.F): turning
// a fill into an open Pair, and closing (fully or partially) a Pair into
// realized PnL, funding settlement, and margin release.
package pair

import (
	"fmt"
	"sync"
	"time"

	"github.com/memeperp/engine/internal/types"
)

// AccountLedger is the subset of internal/ledger.Manager the Pair Ledger
// drives: margin commit at open, PnL/fee/funding settlement at close.
type AccountLedger interface {
	CommitMargin(addr types.Address, orderLock, margin types.Micros) error
	SettlePnL(addr types.Address, delta types.Micros) error
	ReleaseMargin(addr types.Address, amount types.Micros) error
}

// Store persists pair state for crash recovery.
type Store interface {
	SavePair(p *Pair) error
}

// OpenRequest is everything the Matching Core has already computed for one
// fill; OpenFromFill only applies the account-ledger side effects and
// records the Pair.
type OpenRequest struct {
	Market                      string
	LongTrader, ShortTrader     types.Address
	Size                        types.Lots
	Price                       types.Ticks
	LeverageLong, LeverageShort int64
	LongOrderLock, LongMargin   types.Micros
	ShortOrderLock, ShortMargin types.Micros
	LongFee, ShortFee           types.Micros // signed: positive debits the trader, negative is a maker rebate
	Protocol                    types.Address
	FundingIndexAtOpen          int64
	At                          time.Time
}

// CloseResult reports the settlement produced by closing all or part of a
// Pair (spec.md §4.F "close request").
type CloseResult struct {
	ClosedSize      types.Lots
	RealizedPnLLong types.Micros
	FundingPayment  types.Micros // positive: long paid short
	LongFee         types.Micros
	ShortFee        types.Micros
	LongDelta       types.Micros // net change applied to long's Free via SettlePnL
	ShortDelta      types.Micros
	Remaining       types.Lots // pair.Size after the close; 0 means fully closed
}

// Ledger is the Pair Ledger of spec.md §4.F.
type Ledger struct {
	mu       sync.RWMutex
	pairs    map[string]*Pair
	byTrader map[types.Address]map[string]struct{}
	byMarket map[string]map[string]struct{}
	accounts AccountLedger
	store    Store
}

// NewLedger builds an empty Ledger.
func NewLedger(accounts AccountLedger, store Store) *Ledger {
	return &Ledger{
		pairs:    make(map[string]*Pair),
		byTrader: make(map[types.Address]map[string]struct{}),
		byMarket: make(map[string]map[string]struct{}),
		accounts: accounts,
		store:    store,
	}
}

func (l *Ledger) index(p *Pair) {
	if l.byTrader[p.LongTrader] == nil {
		l.byTrader[p.LongTrader] = make(map[string]struct{})
	}
	if l.byTrader[p.ShortTrader] == nil {
		l.byTrader[p.ShortTrader] = make(map[string]struct{})
	}
	l.byTrader[p.LongTrader][p.ID] = struct{}{}
	l.byTrader[p.ShortTrader][p.ID] = struct{}{}

	if l.byMarket[p.Market] == nil {
		l.byMarket[p.Market] = make(map[string]struct{})
	}
	l.byMarket[p.Market][p.ID] = struct{}{}
}

// OpenFromFill creates a new Pair from one matched fill (spec.md §4.F
// default policy: "each fill creates a new pair"), committing each
// trader's pro-rata margin and settling the open fee.
func (l *Ledger) OpenFromFill(req OpenRequest) (*Pair, error) {
	if err := l.accounts.CommitMargin(req.LongTrader, req.LongOrderLock, req.LongMargin); err != nil {
		return nil, fmt.Errorf("commit long margin: %w", err)
	}
	if err := l.accounts.CommitMargin(req.ShortTrader, req.ShortOrderLock, req.ShortMargin); err != nil {
		return nil, fmt.Errorf("commit short margin: %w", err)
	}
	if req.LongFee != 0 {
		if err := l.accounts.SettlePnL(req.LongTrader, -req.LongFee); err != nil {
			return nil, fmt.Errorf("settle long fee: %w", err)
		}
	}
	if req.ShortFee != 0 {
		if err := l.accounts.SettlePnL(req.ShortTrader, -req.ShortFee); err != nil {
			return nil, fmt.Errorf("settle short fee: %w", err)
		}
	}
	if net := req.LongFee + req.ShortFee; net != 0 {
		_ = l.accounts.SettlePnL(req.Protocol, net)
	}

	p := NewPair(req.Market, req.LongTrader, req.ShortTrader, req.Size, req.Price,
		req.LeverageLong, req.LeverageShort, req.LongMargin, req.ShortMargin,
		req.FundingIndexAtOpen, req.At)

	l.mu.Lock()
	l.pairs[p.ID] = p
	l.index(p)
	l.mu.Unlock()

	_ = l.store.SavePair(p)
	return p, nil
}

// Get returns a pair by id.
func (l *Ledger) Get(id string) (*Pair, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pairs[id]
	return p, ok
}

// OpenForTrader returns every open pair the trader participates in, in no
// particular order, used by internal/query's positions projection.
func (l *Ledger) OpenForTrader(addr types.Address) []*Pair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byTrader[addr]
	out := make([]*Pair, 0, len(ids))
	for id := range ids {
		if p := l.pairs[id]; p != nil && p.Status == types.PairOpen {
			out = append(out, p)
		}
	}
	return out
}

// OpenForMarket returns every open pair in a market, used by internal/risk
// and internal/adl to iterate the book of positions.
func (l *Ledger) OpenForMarket(market string) []*Pair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byMarket[market]
	out := make([]*Pair, 0, len(ids))
	for id := range ids {
		if p := l.pairs[id]; p != nil && p.Status == types.PairOpen {
			out = append(out, p)
		}
	}
	return out
}

// Close settles q <= pair.Size of an open pair at mark, per spec.md §4.F:
// realized PnL, funding payment (long pays short when positive), and
// closing fees on both sides; the proportional margin is released back to
// Free. If q < pair.Size the pair shrinks in place; otherwise it is marked
// closed. closeFeeBps applies to both sides' notional.
func (l *Ledger) Close(id string, q types.Lots, mark types.Ticks, fundingIndexNow int64, closeFeeBps int64, at time.Time) (*CloseResult, error) {
	l.mu.Lock()
	p, ok := l.pairs[id]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("pair %s not found", id)
	}
	if p.Status != types.PairOpen {
		l.mu.Unlock()
		return nil, fmt.Errorf("pair %s is not open (status=%s)", id, p.Status)
	}
	if q <= 0 || q > p.Size {
		l.mu.Unlock()
		return nil, fmt.Errorf("invalid close size %d for pair of size %d", q, p.Size)
	}

	realizedLong := (mark - p.EntryPrice) * q
	funding := (fundingIndexNow - p.FundingIndexAtOpen) * q

	notional := mark * q
	longFee := (notional * closeFeeBps) / 10000
	shortFee := longFee

	marginLongShare := (p.CollateralLong * int64(q)) / int64(p.Size)
	marginShortShare := (p.CollateralShort * int64(q)) / int64(p.Size)

	longDelta := realizedLong - funding - longFee
	shortDelta := -realizedLong + funding - shortFee

	remaining := p.Size - q
	if remaining == 0 {
		p.Status = types.PairClosed
	} else {
		p.Size = remaining
		p.CollateralLong -= marginLongShare
		p.CollateralShort -= marginShortShare
	}
	longTrader, shortTrader := p.LongTrader, p.ShortTrader
	l.mu.Unlock()

	if err := l.accounts.ReleaseMargin(longTrader, marginLongShare); err != nil {
		return nil, fmt.Errorf("release long margin: %w", err)
	}
	if err := l.accounts.ReleaseMargin(shortTrader, marginShortShare); err != nil {
		return nil, fmt.Errorf("release short margin: %w", err)
	}
	if err := l.accounts.SettlePnL(longTrader, longDelta); err != nil {
		return nil, fmt.Errorf("settle long pnl: %w", err)
	}
	if err := l.accounts.SettlePnL(shortTrader, shortDelta); err != nil {
		return nil, fmt.Errorf("settle short pnl: %w", err)
	}

	_ = l.store.SavePair(p)

	return &CloseResult{
		ClosedSize:      q,
		RealizedPnLLong: realizedLong,
		FundingPayment:  funding,
		LongFee:         longFee,
		ShortFee:        shortFee,
		LongDelta:       longDelta,
		ShortDelta:      shortDelta,
		Remaining:       remaining,
	}, nil
}

// MarkStatus transitions a pair's status directly (used by
// internal/liquidation, which applies its own settlement math rather than
// Close's linear realized-PnL formula, and by internal/adl, which settles
// through Close and then records PairADLReduced here).
func (l *Ledger) MarkStatus(id string, status types.PairStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pairs[id]; ok {
		p.Status = status
		_ = l.store.SavePair(p)
	}
}

// ShrinkForLiquidationOrADL reduces an open pair's size and per-side
// collateral in place (used when internal/liquidation force-closes a pair,
// mirroring Close's shrink bookkeeping without Close's linear PnL formula,
// since liquidation closes at a possibly worse bankruptcy price on just one
// side). When q equals pair.Size, Size drops to 0 and the collateral is left
// as it was.
func (l *Ledger) ShrinkForLiquidationOrADL(id string, q types.Lots) (marginLongShare, marginShortShare types.Micros, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pairs[id]
	if !ok {
		return 0, 0, fmt.Errorf("pair %s not found", id)
	}
	if q <= 0 || q > p.Size {
		return 0, 0, fmt.Errorf("invalid reduce size %d for pair of size %d", q, p.Size)
	}
	marginLongShare = (p.CollateralLong * int64(q)) / int64(p.Size)
	marginShortShare = (p.CollateralShort * int64(q)) / int64(p.Size)

	remaining := p.Size - q
	if remaining == 0 {
		p.Size = 0
	} else {
		p.Size = remaining
		p.CollateralLong -= marginLongShare
		p.CollateralShort -= marginShortShare
	}
	_ = l.store.SavePair(p)
	return marginLongShare, marginShortShare, nil
}

// Count returns the number of pairs ever recorded (open + terminal).
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pairs)
}
