// Package risk implements the Mark-Price & Risk Loop of spec.md §4.G: a
// 100ms tick that recomputes each market's mark price, every open pair's
// unrealized PnL, margin ratio, liquidation price, and risk level, and
// flags under-margined pairs for internal/liquidation.
//
// Grounded on account.Manager.CheckLiquidation's margin-ratio math (teacher
// computed this once per on-demand check, never on a recurring tick, and
// had no notion of a per-pair liquidation price or funding); this package
// turns the same equity/maintenance-margin comparison into a recurring
// sweep over internal/pair.Pair instead of internal/ledger.Account.
package risk

import (
	"time"

	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

// AccountLedger is the subset of internal/ledger.Manager the risk loop
// writes: the cached unrealized-PnL figure internal/query reads back
// without recomputing across every open pair.
type AccountLedger interface {
	SetUnrealizedPnLCache(addr types.Address, upnl types.Micros)
}

// PairLedger is the subset of internal/pair.Ledger the risk loop reads.
type PairLedger interface {
	OpenForMarket(market string) []*pair.Pair
}

// LiquidationCandidate flags one side of a pair as liquidatable (spec.md
// §4.G step 3), to be enqueued for internal/liquidation.
type LiquidationCandidate struct {
	PairID string
	Market string
	Side   types.Side
	Mark   types.Ticks
}

// PositionUpdate is the per-pair result of one tick, broadcast on the
// `trader:{addr}:positions` topic (spec.md §4.J).
type PositionUpdate struct {
	PairID              string
	Market              string
	Mark                types.Ticks
	LongUPnL            types.Micros
	ShortUPnL           types.Micros
	LongMarginRatioBps  int64
	ShortMarginRatioBps int64
	LongLiqPrice        types.Ticks
	ShortLiqPrice       types.Ticks
	LongLevel           types.RiskLevel
	ShortLevel          types.RiskLevel
}

// TickResult is everything one market's 100ms tick produced.
type TickResult struct {
	Market       string
	Mark         types.Ticks
	Halted       bool
	FundingDelta int64
	Positions    []PositionUpdate
	Liquidatable []LiquidationCandidate
}

// Thresholds configures the margin-ratio-relative-to-maintenance bands
// that bucket a pair's RiskLevel (spec.md §4.G step 2). Ratios are
// expressed as a multiple of the market's maintenance-margin ratio,
// scaled by 100 (e.g. 300 = 3x maintenance).
type Thresholds struct {
	HighAt   int64 // marginRatio/maintenanceRatio*100 at or below this -> high
	MediumAt int64 // ... -> medium
}

// DefaultThresholds match the example scenarios of spec.md §8: critical at
// or below 1x maintenance (the liquidation boundary itself), high at or
// below 1.5x, medium at or below 3x, low otherwise.
var DefaultThresholds = Thresholds{HighAt: 150, MediumAt: 300}

// Computer runs one market's tick computation. It holds no goroutine of
// its own — internal/engine's per-market worker calls Tick on its own
// 100ms timer, preserving spec.md §5's single-writer-per-market ordering.
type Computer struct {
	pairs      PairLedger
	accounts   AccountLedger
	thresholds Thresholds
}

// NewComputer builds a Computer.
func NewComputer(pairs PairLedger, accounts AccountLedger) *Computer {
	return &Computer{pairs: pairs, accounts: accounts, thresholds: DefaultThresholds}
}

// WithThresholds overrides the default risk-level bands.
func (c *Computer) WithThresholds(t Thresholds) *Computer {
	c.thresholds = t
	return c
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MarkPrice computes spec.md §4.G step 1's mark price: the median of
// oracle spot, book mid, and last trade, with a freshness guard that
// drops any input that is zero (unavailable) rather than pulling the
// median toward zero.
func MarkPrice(oracleSpot, bookMid, lastTrade types.Ticks) types.Ticks {
	vals := make([]types.Ticks, 0, 3)
	for _, v := range []types.Ticks{oracleSpot, bookMid, lastTrade} {
		if v > 0 {
			vals = append(vals, v)
		}
	}
	switch len(vals) {
	case 0:
		return 0
	case 1:
		return vals[0]
	case 2:
		return (vals[0] + vals[1]) / 2
	default:
		// insertion sort of 3 elements, then middle.
		if vals[0] > vals[1] {
			vals[0], vals[1] = vals[1], vals[0]
		}
		if vals[1] > vals[2] {
			vals[1], vals[2] = vals[2], vals[1]
		}
		if vals[0] > vals[1] {
			vals[0], vals[1] = vals[1], vals[0]
		}
		return vals[1]
	}
}

// FundingDelta computes the clamped funding-index increment applied once
// per elapsed funding interval
// (SPEC_FULL's Open Question decision): rate = clamp(premium_bps,
// -MaxFundingRateBps, +MaxFundingRateBps), premium_bps = (mark - oracle) *
// 10000 / oracle, and the index advances by rate*mark/10000 so that
// funding_payment = index_delta * size lands in Micros.
func FundingDelta(mark, oracleSpot types.Ticks, maxRateBps int64) int64 {
	if oracleSpot == 0 {
		return 0
	}
	premiumBps := ((int64(mark) - int64(oracleSpot)) * 10000) / int64(oracleSpot)
	rateBps := clamp(premiumBps, -maxRateBps, maxRateBps)
	return (rateBps * int64(mark)) / 10000
}

// equity and margin ratio per side of spec.md §4.G step 2.
func equity(collateral, uPnL, pendingFunding types.Micros) types.Micros {
	return collateral + uPnL - pendingFunding
}

func marginRatioBps(eq types.Micros, size types.Lots, mark types.Ticks) int64 {
	notional := int64(size) * int64(mark)
	if notional == 0 {
		return 0
	}
	return (int64(eq) * 10000) / notional
}

// liquidationPrice solves equity(mark) == maintenanceBps/10000 * size *
// mark for mark, given side sign s (+1 long, -1 short):
//
//	mark = 10000*(funding + s*entry*size - collateral) / (size*(10000*s - maintenanceBps))
func liquidationPrice(entry types.Ticks, size types.Lots, collateral, funding types.Micros, maintenanceBps int64, s int64) types.Ticks {
	if size == 0 {
		return 0
	}
	numer := 10000*(int64(funding)+s*int64(entry)*int64(size)) - 10000*int64(collateral)
	denom := int64(size) * (10000*s - maintenanceBps)
	if denom == 0 {
		return 0
	}
	return types.Ticks(numer / denom)
}

func riskLevel(marginRatio int64, maintenanceBps int64, t Thresholds) types.RiskLevel {
	if maintenanceBps == 0 {
		return types.RiskLow
	}
	relative := (marginRatio * 100) / maintenanceBps
	switch {
	case marginRatio <= maintenanceBps:
		return types.RiskCritical
	case relative <= t.HighAt:
		return types.RiskHigh
	case relative <= t.MediumAt:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// Tick runs one 100ms pass for mkt: recomputes mark, sweeps every open
// pair for uPnL/margin-ratio/liquidation-price/risk-level, advances
// funding when the interval has elapsed, and flags any pair whose margin
// ratio has crossed maintenance for liquidation. The tick is idempotent
// with respect to missed ticks (spec.md §4.G: "catch-up is automatic on
// the next tick using now()") because every quantity here is recomputed
// fresh from state, never accumulated across calls.
func (c *Computer) Tick(mkt *market.Market, oracleSpot, bookMid, lastTrade types.Ticks, now time.Time) TickResult {
	mark := MarkPrice(oracleSpot, bookMid, lastTrade)
	mkt.SetMarkPrice(mark)

	var fundingDelta int64
	if mkt.FundingInterval > 0 && now.Sub(mkt.LastFundingAt()) >= mkt.FundingInterval {
		fundingDelta = FundingDelta(mark, oracleSpot, mkt.MaxFundingRateBps)
		mkt.AdvanceFunding(fundingDelta, now)
	}

	pairs := c.pairs.OpenForMarket(mkt.Symbol)
	upnlByTrader := make(map[types.Address]types.Micros)

	result := TickResult{Market: mkt.Symbol, Mark: mark, FundingDelta: fundingDelta}

	for _, p := range pairs {
		longUPnL, shortUPnL := p.UnrealizedPnL(mark)
		funding := (mkt.FundingIndex() - p.FundingIndexAtOpen) * p.Size

		longEq := equity(p.CollateralLong, longUPnL, funding)
		shortEq := equity(p.CollateralShort, shortUPnL, -funding)

		longRatio := marginRatioBps(longEq, p.Size, mark)
		shortRatio := marginRatioBps(shortEq, p.Size, mark)

		maintBps := mkt.MaintenanceMarginBps
		longLevel := riskLevel(longRatio, maintBps, c.thresholds)
		shortLevel := riskLevel(shortRatio, maintBps, c.thresholds)

		longLiq := liquidationPrice(p.EntryPrice, p.Size, p.CollateralLong, funding, maintBps, 1)
		shortLiq := liquidationPrice(p.EntryPrice, p.Size, p.CollateralShort, -funding, maintBps, -1)

		upnlByTrader[p.LongTrader] += longUPnL
		upnlByTrader[p.ShortTrader] += shortUPnL

		result.Positions = append(result.Positions, PositionUpdate{
			PairID:              p.ID,
			Market:              mkt.Symbol,
			Mark:                mark,
			LongUPnL:            longUPnL,
			ShortUPnL:           shortUPnL,
			LongMarginRatioBps:  longRatio,
			ShortMarginRatioBps: shortRatio,
			LongLiqPrice:        longLiq,
			ShortLiqPrice:       shortLiq,
			LongLevel:           longLevel,
			ShortLevel:          shortLevel,
		})

		if longLevel == types.RiskCritical {
			result.Liquidatable = append(result.Liquidatable, LiquidationCandidate{PairID: p.ID, Market: mkt.Symbol, Side: types.SideLong, Mark: mark})
		}
		if shortLevel == types.RiskCritical {
			result.Liquidatable = append(result.Liquidatable, LiquidationCandidate{PairID: p.ID, Market: mkt.Symbol, Side: types.SideShort, Mark: mark})
		}
	}

	for trader, upnl := range upnlByTrader {
		c.accounts.SetUnrealizedPnLCache(trader, upnl)
	}

	return result
}

// Snapshot recomputes the same per-pair figures as Tick (mark, uPnL,
// margin ratio, liquidation price, risk level) against mkt's current mark
// price without advancing funding or writing the unrealized-PnL cache,
// for read-only query paths (internal/query's risk/liquidation-map
// endpoints) that must not race the worker's own tick.
func (c *Computer) Snapshot(mkt *market.Market) []PositionUpdate {
	mark := mkt.MarkPrice()
	pairs := c.pairs.OpenForMarket(mkt.Symbol)
	out := make([]PositionUpdate, 0, len(pairs))

	for _, p := range pairs {
		longUPnL, shortUPnL := p.UnrealizedPnL(mark)
		funding := (mkt.FundingIndex() - p.FundingIndexAtOpen) * p.Size

		longEq := equity(p.CollateralLong, longUPnL, funding)
		shortEq := equity(p.CollateralShort, shortUPnL, -funding)

		longRatio := marginRatioBps(longEq, p.Size, mark)
		shortRatio := marginRatioBps(shortEq, p.Size, mark)

		maintBps := mkt.MaintenanceMarginBps
		longLiq := liquidationPrice(p.EntryPrice, p.Size, p.CollateralLong, funding, maintBps, 1)
		shortLiq := liquidationPrice(p.EntryPrice, p.Size, p.CollateralShort, -funding, maintBps, -1)

		out = append(out, PositionUpdate{
			PairID:              p.ID,
			Market:              mkt.Symbol,
			Mark:                mark,
			LongUPnL:            longUPnL,
			ShortUPnL:           shortUPnL,
			LongMarginRatioBps:  longRatio,
			ShortMarginRatioBps: shortRatio,
			LongLiqPrice:        longLiq,
			ShortLiqPrice:       shortLiq,
			LongLevel:           riskLevel(longRatio, maintBps, c.thresholds),
			ShortLevel:          riskLevel(shortRatio, maintBps, c.thresholds),
		})
	}
	return out
}
