// Package market holds per-market trading parameters and the Market
// aggregate of spec.md §3: order book identity, last-trade price, mark
// price, funding accumulator, open interest, insurance-fund balance, and a
// bounded recent-trades ring.
//
// Grounded on the teacher's pkg/app/core/market.go and market_params.go:
// tick/lot scaling, margin-bps fields, and validation are carried over
// almost unchanged; funding accumulator, open interest, insurance balance,
// and the trades ring are new fields the teacher's Market never carried
// (it had no funding, no insurance fund, no pair concept).
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/memeperp/engine/internal/types"
)

// Params configures a new market (teacher's MarketParams).
type Params struct {
	TickSize             types.Ticks
	LotSize              types.Lots
	MinNotional          types.Micros
	MaxLeverage          int64
	InitialMarginBps     int64
	MaintenanceMarginBps int64
	FundingInterval      time.Duration
	MaxFundingRateBps    int64
	MinOrderSize         types.Lots
	MaxOrderSize         types.Lots
	MaxPosition          types.Lots
	MakerFeeBps          int64
	TakerFeeBps          int64
	OracleSource         string
}

// Trade is an append-only record of a matched fill, kept in the market's
// bounded recent-trades ring (spec.md §3: "recent-trades ring (bounded,
// e.g., 1,000)").
type Trade struct {
	Price types.Ticks
	Size  types.Lots
	Side  types.Side // taker's side
	Seq   uint64
	At    time.Time
}

const defaultTradesRingCap = 1000

// Market is the per-token trading venue: parameters, book-adjacent price
// state, funding accumulator, open interest, and insurance fund.
type Market struct {
	mu sync.RWMutex

	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     types.MarketStatus

	TickSize             types.Ticks
	LotSize              types.Lots
	MinNotional          types.Micros
	MaxLeverage          int64
	InitialMarginBps     int64
	MaintenanceMarginBps int64
	FundingInterval      time.Duration
	MaxFundingRateBps    int64
	MinOrderSize         types.Lots
	MaxOrderSize         types.Lots
	MaxPosition          types.Lots
	MakerFeeBps          int64
	TakerFeeBps          int64
	OracleSource         string

	lastTradePrice types.Ticks
	markPrice      types.Ticks
	fundingIndex   int64 // cumulative, signed, in Micros per lot (see risk.FundingDelta)
	lastFundingAt  time.Time

	openInterestLong  types.Lots
	openInterestShort types.Lots

	insuranceFund types.Micros

	haltReason string

	trades    []Trade
	tradesCap int
	tradeSeq  uint64
}

// New constructs a Market with validation (teacher's NewMarket).
func New(symbol, baseAsset, quoteAsset string, p Params) (*Market, error) {
	m := &Market{
		Symbol:               symbol,
		BaseAsset:            baseAsset,
		QuoteAsset:           quoteAsset,
		Status:               types.MarketActive,
		TickSize:             p.TickSize,
		LotSize:              p.LotSize,
		MinNotional:          p.MinNotional,
		MaxLeverage:          p.MaxLeverage,
		InitialMarginBps:     p.InitialMarginBps,
		MaintenanceMarginBps: p.MaintenanceMarginBps,
		FundingInterval:      p.FundingInterval,
		MaxFundingRateBps:    p.MaxFundingRateBps,
		MinOrderSize:         p.MinOrderSize,
		MaxOrderSize:         p.MaxOrderSize,
		MaxPosition:          p.MaxPosition,
		MakerFeeBps:          p.MakerFeeBps,
		TakerFeeBps:          p.TakerFeeBps,
		OracleSource:         p.OracleSource,
		tradesCap:            defaultTradesRingCap,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Validate checks parameter sanity (teacher's Market.Validate, generalized
// to perpetual-only since this engine only trades perpetuals).
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive")
	}
	if m.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("min notional cannot be negative")
	}
	if m.MaxLeverage <= 0 {
		return fmt.Errorf("max leverage must be positive")
	}
	if m.InitialMarginBps <= 0 {
		return fmt.Errorf("initial margin must be positive")
	}
	if m.MaintenanceMarginBps <= 0 {
		return fmt.Errorf("maintenance margin must be positive")
	}
	if m.MaintenanceMarginBps > m.InitialMarginBps {
		return fmt.Errorf("maintenance margin cannot exceed initial margin")
	}
	expectedLeverage := 10000 / m.InitialMarginBps
	if m.MaxLeverage > expectedLeverage*2 || m.MaxLeverage < expectedLeverage/2 {
		return fmt.Errorf("max leverage (%d) inconsistent with initial margin (%d bps)", m.MaxLeverage, m.InitialMarginBps)
	}
	if m.FundingInterval <= 0 {
		return fmt.Errorf("funding interval must be positive")
	}
	if m.MaxFundingRateBps < 0 {
		return fmt.Errorf("max funding rate cannot be negative")
	}
	if m.MinOrderSize <= 0 {
		return fmt.Errorf("min order size must be positive")
	}
	if m.MaxOrderSize <= 0 {
		return fmt.Errorf("max order size must be positive")
	}
	if m.MinOrderSize > m.MaxOrderSize {
		return fmt.Errorf("min order size cannot exceed max order size")
	}
	if m.MaxPosition < m.MaxOrderSize {
		return fmt.Errorf("max position should be >= max order size")
	}
	if m.TakerFeeBps < 0 {
		return fmt.Errorf("taker fee cannot be negative")
	}
	return nil
}

// RequiredInitialMargin returns the initial margin (in Micros) for a
// position of the given price and quantity.
func (m *Market) RequiredInitialMargin(price types.Ticks, qty types.Lots) types.Micros {
	notional := price * qty
	return (notional * m.InitialMarginBps) / 10000
}

// RequiredMaintenanceMargin returns the maintenance margin (in Micros).
func (m *Market) RequiredMaintenanceMargin(price types.Ticks, qty types.Lots) types.Micros {
	notional := price * qty
	return (notional * m.MaintenanceMarginBps) / 10000
}

// ValidateOrderSize checks size bounds (teacher's ValidateOrderSize).
func (m *Market) ValidateOrderSize(qty types.Lots) error {
	if qty < m.MinOrderSize {
		return fmt.Errorf("order size %d below minimum %d", qty, m.MinOrderSize)
	}
	if qty > m.MaxOrderSize {
		return fmt.Errorf("order size %d exceeds maximum %d", qty, m.MaxOrderSize)
	}
	return nil
}

// ValidateOrderNotional checks the minimum-notional floor (teacher's
// ValidateOrderNotional). priceHint must already be resolved for market
// orders by the caller (spec.md §4.C step 6).
func (m *Market) ValidateOrderNotional(priceHint types.Ticks, qty types.Lots) error {
	notional := priceHint * qty
	if notional < m.MinNotional {
		return fmt.Errorf("order notional %d below minimum %d", notional, m.MinNotional)
	}
	return nil
}

// IsActive reports whether new-order admission is currently permitted.
func (m *Market) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Status == types.MarketActive
}

// validateStatusTransition enforces the one hard market-lifecycle rule
// (teacher's MarketRegistry.validateStatusTransition): Settled is terminal,
// every other transition — including a Halted → Active resume — is
// allowed.
func (m *Market) validateStatusTransition(from, to types.MarketStatus) error {
	if from == types.MarketSettled {
		return fmt.Errorf("cannot change status from Settled (terminal state)")
	}
	return nil
}

// SetStatus transitions market status directly, validating the transition
// (teacher's MarketRegistry.UpdateMarketStatus). Halt and Resume are the
// preferred callers for the oracle-staleness halt/recovery path; SetStatus
// itself is for settlement transitions and registry-driven admin updates.
func (m *Market) SetStatus(s types.MarketStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateStatusTransition(m.Status, s); err != nil {
		return err
	}
	m.Status = s
	if s != types.MarketHalted {
		m.haltReason = ""
	}
	return nil
}

// Halt transitions the market to Halted and records why, so a later Resume
// can tell an oracle-staleness halt (auto-recoverable once the oracle is
// fresh again, spec.md §8 scenario 6) apart from one needing manual
// intervention (e.g. an uninsured liquidation shortfall, internal/liquidation).
func (m *Market) Halt(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateStatusTransition(m.Status, types.MarketHalted); err != nil {
		return err
	}
	m.Status = types.MarketHalted
	m.haltReason = reason
	return nil
}

// Resume transitions a Halted market back to Active (spec.md §8 scenario 6:
// "when oracle recovers, the next tick resumes normally").
func (m *Market) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateStatusTransition(m.Status, types.MarketActive); err != nil {
		return err
	}
	m.Status = types.MarketActive
	m.haltReason = ""
	return nil
}

// HaltReason returns why the market was last halted, or "" if it isn't
// currently halted.
func (m *Market) HaltReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.haltReason
}

// RecordTrade appends a trade to the bounded ring and updates last-trade
// price, returning the assigned sequence number.
func (m *Market) RecordTrade(price types.Ticks, size types.Lots, takerSide types.Side, at time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tradeSeq++
	seq := m.tradeSeq
	m.lastTradePrice = price
	m.trades = append(m.trades, Trade{Price: price, Size: size, Side: takerSide, Seq: seq, At: at})
	if len(m.trades) > m.tradesCap {
		m.trades = m.trades[len(m.trades)-m.tradesCap:]
	}
	return seq
}

// RecentTrades returns up to limit of the most recent trades, newest
// first. limit <= 0 returns the full ring.
func (m *Market) RecentTrades(limit int) []Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Trade, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.trades[n-1-i]
	}
	return out
}

// LastTradePrice returns the most recent fill price.
func (m *Market) LastTradePrice() types.Ticks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTradePrice
}

// SetMarkPrice records the latest computed mark price (internal/risk is
// the sole writer).
func (m *Market) SetMarkPrice(p types.Ticks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markPrice = p
}

// MarkPrice returns the last computed mark price.
func (m *Market) MarkPrice() types.Ticks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.markPrice
}

// AdvanceFunding adds delta (a signed funding-index increment) to the
// cumulative funding index and records the tick time. Called by
// internal/risk every FundingInterval.
func (m *Market) AdvanceFunding(delta int64, at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingIndex += delta
	m.lastFundingAt = at
	return m.fundingIndex
}

// FundingIndex returns the current cumulative funding index.
func (m *Market) FundingIndex() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fundingIndex
}

// LastFundingAt returns when funding was last advanced.
func (m *Market) LastFundingAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastFundingAt
}

// AdjustOpenInterest updates the long/short open-interest sums by the
// given deltas (positive to open, negative to close/reduce).
func (m *Market) AdjustOpenInterest(longDelta, shortDelta types.Lots) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openInterestLong += longDelta
	m.openInterestShort += shortDelta
}

// OpenInterest returns the current long and short open interest.
func (m *Market) OpenInterest() (long, short types.Lots) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openInterestLong, m.openInterestShort
}

// InsuranceFund returns the current insurance-fund balance.
func (m *Market) InsuranceFund() types.Micros {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.insuranceFund
}

// SeedInsuranceFund sets the initial insurance balance at bootstrap
// (spec.md §6's config `insurance_seed`).
func (m *Market) SeedInsuranceFund(amount types.Micros) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insuranceFund = amount
}

// CreditInsuranceFund adds amount (may be negative, draining the fund) to
// the insurance balance and returns the new balance. Used by
// internal/liquidation on bankruptcy shortfalls and positive-residual
// credits (spec.md §4.H).
func (m *Market) CreditInsuranceFund(amount types.Micros) types.Micros {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insuranceFund += amount
	return m.insuranceFund
}
