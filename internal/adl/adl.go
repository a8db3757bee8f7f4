// Package adl implements the ADL (auto-deleveraging) Selector of
// spec.md §4.I: when a liquidation bankruptcy exceeds the insurance fund,
// rank the market's profitable open pairs and force-close them at mark
// until the shortfall notional is covered.
//
// Grounded on the Cosmos-SDK-keeper-style ADL queue retrieved alongside
// this spec (BuildADLQueue/ExecuteADL): filter to only-profitable
// positions, rank by a per-side score, then deleverage most-profitable
// first until the deficit is covered. That example ranked by plain
// pnl-percent; spec.md §4.I's score multiplies in effective leverage, so
// the ranking here is `uPnL_ratio * effective_leverage` rather than
// pnl-percent alone.
package adl

import (
	"sort"
	"time"

	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

// PairLedger is the subset of internal/pair.Ledger the ADL selector drives.
type PairLedger interface {
	OpenForMarket(market string) []*pair.Pair
	Close(id string, q types.Lots, mark types.Ticks, fundingIndexNow int64, closeFeeBps int64, at time.Time) (*pair.CloseResult, error)
	MarkStatus(id string, status types.PairStatus)
}

// Event is emitted for every pair forced through ADL (spec.md §4.I step 3:
// "broadcast an ADL event"), consumed by internal/broadcast.
type Event struct {
	PairID     string
	Market     string
	Side       types.Side // the profitable side that was deleveraged
	ClosedSize types.Lots
	Mark       types.Ticks
	Covered    types.Micros
	At         time.Time
}

// candidate is one side of one open pair eligible for ADL.
type candidate struct {
	p     *pair.Pair
	side  types.Side
	score int64 // scaled uPnL_ratio * effective_leverage, fixed-point bps
}

// Selector ranks and executes ADL against a market's open pairs.
type Selector struct {
	pairs PairLedger
	fee   func(market string) int64 // closing fee bps lookup, usually market.TakerFeeBps
	onEvt func(Event)
}

// New builds a Selector. feeBps returns the closing-fee rate (in bps) to
// apply to ADL-forced closes; onEvent, if non-nil, receives every Event as
// it is produced.
func New(pairs PairLedger, feeBps func(market string) int64, onEvent func(Event)) *Selector {
	return &Selector{pairs: pairs, fee: feeBps, onEvt: onEvent}
}

// score computes uPnL_ratio * effective_leverage scaled by 1e4, so ranking
// stays in fixed-point integer arithmetic: ratio = uPnL*10000/collateral,
// score = ratio*leverage.
func score(uPnL, collateral types.Micros, leverage int64) int64 {
	if collateral <= 0 {
		return 0
	}
	ratio := (int64(uPnL) * 10000) / int64(collateral)
	return ratio * leverage
}

// buildQueue collects every profitable side of every open pair in market,
// ranked descending by score (spec.md §4.I step 1-2).
func (s *Selector) buildQueue(mkt *market.Market, bankruptSide types.Side) []candidate {
	pairs := s.pairs.OpenForMarket(mkt.Symbol)
	mark := mkt.MarkPrice()

	var queue []candidate
	for _, p := range pairs {
		longUPnL, shortUPnL := p.UnrealizedPnL(mark)

		// the opposite side of the bankrupt side is who must absorb the
		// deficit in aggregate; only that side's profitable pairs are
		// eligible, per spec.md §4.I step 1 ("where the opposite side is
		// profitable").
		wantSide := bankruptSide.Opposite()

		if wantSide == types.SideLong && longUPnL > 0 {
			queue = append(queue, candidate{p: p, side: types.SideLong, score: score(longUPnL, p.CollateralLong, p.LeverageLong)})
		}
		if wantSide == types.SideShort && shortUPnL > 0 {
			queue = append(queue, candidate{p: p, side: types.SideShort, score: score(shortUPnL, p.CollateralShort, p.LeverageShort)})
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].score > queue[j].score })
	return queue
}

// CoverShortfall implements liquidation.ADLHandler: it force-closes
// profitable pairs in descending score order until shortfall (expressed as
// a Micros notional) is covered, or the market runs out of eligible
// pairs. Returns the amount actually covered, which may be less than
// shortfall if the market has insufficient profitable open interest.
func (s *Selector) CoverShortfall(mkt *market.Market, bankruptSide types.Side, mark types.Ticks, shortfall types.Micros, at time.Time) (types.Micros, error) {
	queue := s.buildQueue(mkt, bankruptSide)
	fundingNow := mkt.FundingIndex()
	feeBps := s.fee(mkt.Symbol)

	var covered types.Micros
	for _, c := range queue {
		if covered >= shortfall {
			break
		}
		remainingNeeded := shortfall - covered
		notionalPerLot := mark
		if notionalPerLot <= 0 {
			continue
		}
		q := types.Lots(int64(remainingNeeded) / int64(notionalPerLot))
		if q <= 0 {
			q = 1
		}
		if q > c.p.Size {
			q = c.p.Size
		}

		res, err := s.pairs.Close(c.p.ID, q, mark, fundingNow, feeBps, at)
		if err != nil {
			continue
		}
		if res.Remaining == 0 {
			s.pairs.MarkStatus(c.p.ID, types.PairADLReduced)
		}

		closedNotional := types.Micros(int64(q) * int64(mark))
		covered += closedNotional

		if s.onEvt != nil {
			s.onEvt(Event{
				PairID:     c.p.ID,
				Market:     mkt.Symbol,
				Side:       c.side,
				ClosedSize: q,
				Mark:       mark,
				Covered:    closedNotional,
				At:         at,
			})
		}
	}

	if covered > shortfall {
		covered = shortfall
	}
	return covered, nil
}
