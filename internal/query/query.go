// Package query implements the Query Surface of spec.md §4.K: read-only,
// consistent-at-a-point views over balances, positions, orders, the book,
// recent trades, and nonces.
//
// Grounded on the *handler* shape of pkg/api/server.go's
// handleGetAccount/handleGetPositions — many of the teacher's handlers
// were TODO-stubbed (uPnL, liquidation price, and order/trade listing
// were never actually computed); this package implements the real
// computation against internal/ledger/internal/pair/internal/book/
// internal/market, and formats every monetary/price value through
// shopspring/decimal per SPEC_FULL.md's ambient-stack decision (fixed-
// point Micros are an internal representation; the wire/read surface
// uses decimal).
package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/memeperp/engine/internal/book"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/matching"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/risk"
	"github.com/memeperp/engine/internal/types"
)

// microsExp is the fixed-point exponent of types.Micros (1 unit =
// 1e-6 of quote currency), used to format every Micros value on the read
// surface as a human decimal.
const microsExp = -6

// Micros renders a fixed-point Micros value as a decimal.
func Micros(v types.Micros) decimal.Decimal {
	return decimal.New(int64(v), microsExp)
}

// Price renders a Ticks value scaled by the market's tick size, so the
// read surface reports actual price rather than a raw tick count.
func Price(v types.Ticks, tickSize types.Ticks) decimal.Decimal {
	if tickSize <= 0 {
		tickSize = 1
	}
	return decimal.New(int64(v), 0).Mul(decimal.New(int64(tickSize), microsExp))
}

// Size renders a Lots value scaled by the market's lot size.
func Size(v types.Lots, lotSize types.Lots) decimal.Decimal {
	if lotSize <= 0 {
		lotSize = 1
	}
	return decimal.New(int64(v), 0).Mul(decimal.New(int64(lotSize), microsExp))
}

// BalanceView is the decimal-formatted account balance (spec.md §4.K
// "GetBalance").
type BalanceView struct {
	Free               decimal.Decimal `json:"free"`
	LockedOrders       decimal.Decimal `json:"locked_orders"`
	LockedMargin       decimal.Decimal `json:"locked_margin"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	Equity             decimal.Decimal `json:"equity"`
	Nonce              types.Nonce     `json:"nonce"`
}

// PositionView is one open pair projected into the caller's side.
type PositionView struct {
	PairID        string          `json:"pair_id"`
	Market        string          `json:"market"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Leverage      int64           `json:"leverage"`
	Collateral    decimal.Decimal `json:"collateral"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// OrderView is one live order.
type OrderView struct {
	ID       string          `json:"id"`
	Market   string          `json:"market"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Filled   decimal.Decimal `json:"filled"`
	Status   string          `json:"status"`
}

// PriceLevelView is one aggregated book level.
type PriceLevelView struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookView is the top-N aggregated book (spec.md §4.K "GetBook").
type BookView struct {
	Market string           `json:"market"`
	Bids   []PriceLevelView `json:"bids"`
	Asks   []PriceLevelView `json:"asks"`
}

// TradeView is one recent trade.
type TradeView struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  string          `json:"side"`
	Seq   uint64          `json:"seq"`
}

// CoreLookup resolves a market symbol to its live Matching Core, used to
// read an account's currently-resting orders. internal/engine supplies
// this since it owns the one Core per market.
type CoreLookup func(market string) (*matching.Core, bool)

// Service answers every operation of spec.md §4.K.
type Service struct {
	accounts *ledger.Manager
	pairs    *pair.Ledger
	markets  *market.Registry
	books    func(market string) (*book.Book, bool)
	cores    CoreLookup
	riskC    *risk.Computer
}

// New builds a Service.
func New(accounts *ledger.Manager, pairs *pair.Ledger, markets *market.Registry, books func(market string) (*book.Book, bool), cores CoreLookup) *Service {
	return &Service{
		accounts: accounts,
		pairs:    pairs,
		markets:  markets,
		books:    books,
		cores:    cores,
		riskC:    risk.NewComputer(pairs, accounts),
	}
}

// GetBalance returns a trader's current balance.
func (s *Service) GetBalance(trader types.Address) BalanceView {
	acc := s.accounts.GetAccount(trader)
	return BalanceView{
		Free:          Micros(acc.Free),
		LockedOrders:  Micros(acc.LockedOrders),
		LockedMargin:  Micros(acc.LockedMargin),
		UnrealizedPnL: Micros(acc.UnrealizedPnLCache),
		Equity:        Micros(acc.Equity()),
		Nonce:         acc.Nonce,
	}
}

// GetPositions returns every open pair a trader participates in.
func (s *Service) GetPositions(trader types.Address) []PositionView {
	open := s.pairs.OpenForTrader(trader)
	out := make([]PositionView, 0, len(open))
	for _, p := range open {
		mkt, ok := s.markets.Get(p.Market)
		if !ok {
			continue
		}
		side := types.SideLong
		if p.ShortTrader == trader {
			side = types.SideShort
		}
		uPnLLong, uPnLShort := p.UnrealizedPnL(mkt.MarkPrice())
		uPnL := uPnLLong
		if side == types.SideShort {
			uPnL = uPnLShort
		}
		out = append(out, PositionView{
			PairID:        p.ID,
			Market:        p.Market,
			Side:          side.String(),
			Size:          Size(p.Size, mkt.LotSize),
			EntryPrice:    Price(p.EntryPrice, mkt.TickSize),
			Leverage:      p.LeverageFor(side),
			Collateral:    Micros(p.CollateralFor(side)),
			UnrealizedPnL: Micros(uPnL),
		})
	}
	return out
}

// GetOrders returns a trader's live orders in marketSymbol, optionally
// filtered by status (pass -1 / the zero value's negation is not
// representable, so callers pass a pointer: nil means "no filter").
func (s *Service) GetOrders(trader types.Address, marketSymbol string, status *types.OrderStatus) ([]OrderView, error) {
	mkt, ok := s.markets.Get(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("unknown market %s", marketSymbol)
	}
	core, ok := s.cores(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("market %s has no active core", marketSymbol)
	}
	views := core.OpenOrdersForTrader(trader)
	out := make([]OrderView, 0, len(views))
	for _, v := range views {
		if status != nil && v.Status != *status {
			continue
		}
		out = append(out, OrderView{
			ID:     v.ID,
			Market: marketSymbol,
			Side:   v.Side.String(),
			Price:  Price(v.Price, mkt.TickSize),
			Size:   Size(v.Size, mkt.LotSize),
			Filled: Size(v.Filled, mkt.LotSize),
			Status: v.Status.String(),
		})
	}
	return out, nil
}

// GetBook returns up to depth aggregated levels per side.
func (s *Service) GetBook(marketSymbol string, depth int) (*BookView, error) {
	mkt, ok := s.markets.Get(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("unknown market %s", marketSymbol)
	}
	bk, ok := s.books(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("market %s has no book", marketSymbol)
	}

	bids := bk.BidLevels()
	asks := bk.AskLevels()
	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}

	view := &BookView{Market: marketSymbol}
	for _, l := range bids {
		view.Bids = append(view.Bids, PriceLevelView{Price: Price(l.Price, mkt.TickSize), Size: Size(l.Size, mkt.LotSize)})
	}
	for _, l := range asks {
		view.Asks = append(view.Asks, PriceLevelView{Price: Price(l.Price, mkt.TickSize), Size: Size(l.Size, mkt.LotSize)})
	}
	return view, nil
}

// GetTrades returns up to limit of the most recent trades, newest first.
func (s *Service) GetTrades(marketSymbol string, limit int) ([]TradeView, error) {
	mkt, ok := s.markets.Get(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("unknown market %s", marketSymbol)
	}
	trades := mkt.RecentTrades(limit)
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeView{
			Price: Price(t.Price, mkt.TickSize),
			Size:  Size(t.Size, mkt.LotSize),
			Side:  t.Side.String(),
			Seq:   t.Seq,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

// RiskView is one open pair's current margin health, formatted for
// GET /api/risk/market/{token}.
type RiskView struct {
	PairID              string          `json:"pair_id"`
	Mark                decimal.Decimal `json:"mark"`
	LongUnrealizedPnL   decimal.Decimal `json:"long_unrealized_pnl"`
	ShortUnrealizedPnL  decimal.Decimal `json:"short_unrealized_pnl"`
	LongMarginRatioBps  int64           `json:"long_margin_ratio_bps"`
	ShortMarginRatioBps int64           `json:"short_margin_ratio_bps"`
	LongRiskLevel       string          `json:"long_risk_level"`
	ShortRiskLevel      string          `json:"short_risk_level"`
}

// LiquidationLevel is one side of a pair's distance-to-liquidation, for
// GET /api/liquidation-map/{token}.
type LiquidationLevel struct {
	PairID   string          `json:"pair_id"`
	Side     string          `json:"side"`
	LiqPrice decimal.Decimal `json:"liquidation_price"`
}

// MarketRiskView is GET /api/risk/market/{token}'s response: the
// market's insurance fund and halt state (spec.md §6) plus every open
// pair's current margin health.
type MarketRiskView struct {
	Market        string          `json:"market"`
	Status        string          `json:"status"`
	InsuranceFund decimal.Decimal `json:"insurance_fund"`
	Positions     []RiskView      `json:"positions"`
}

// GetRiskSnapshot returns marketSymbol's insurance fund, halt state, and
// the current margin health of every open pair in it (spec.md §4.G's
// per-tick figures, read without racing the worker's own tick via
// risk.Computer.Snapshot).
func (s *Service) GetRiskSnapshot(marketSymbol string) (*MarketRiskView, error) {
	mkt, ok := s.markets.Get(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("unknown market %s", marketSymbol)
	}
	updates := s.riskC.Snapshot(mkt)
	positions := make([]RiskView, 0, len(updates))
	for _, u := range updates {
		positions = append(positions, RiskView{
			PairID:              u.PairID,
			Mark:                Price(u.Mark, mkt.TickSize),
			LongUnrealizedPnL:   Micros(u.LongUPnL),
			ShortUnrealizedPnL:  Micros(u.ShortUPnL),
			LongMarginRatioBps:  u.LongMarginRatioBps,
			ShortMarginRatioBps: u.ShortMarginRatioBps,
			LongRiskLevel:       u.LongLevel.String(),
			ShortRiskLevel:      u.ShortLevel.String(),
		})
	}
	return &MarketRiskView{
		Market:        marketSymbol,
		Status:        mkt.Status.String(),
		InsuranceFund: Micros(mkt.InsuranceFund()),
		Positions:     positions,
	}, nil
}

// GetLiquidationMap returns every open pair's per-side liquidation price
// in marketSymbol, sorted nearest-to-mark first.
func (s *Service) GetLiquidationMap(marketSymbol string) ([]LiquidationLevel, error) {
	mkt, ok := s.markets.Get(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("unknown market %s", marketSymbol)
	}
	updates := s.riskC.Snapshot(mkt)
	mark := mkt.MarkPrice()

	type level struct {
		view LiquidationLevel
		dist int64
	}
	dist := func(liq types.Ticks) int64 {
		d := int64(mark) - int64(liq)
		if d < 0 {
			d = -d
		}
		return d
	}
	levels := make([]level, 0, len(updates)*2)
	for _, u := range updates {
		levels = append(levels,
			level{LiquidationLevel{PairID: u.PairID, Side: types.SideLong.String(), LiqPrice: Price(u.LongLiqPrice, mkt.TickSize)}, dist(u.LongLiqPrice)},
			level{LiquidationLevel{PairID: u.PairID, Side: types.SideShort.String(), LiqPrice: Price(u.ShortLiqPrice, mkt.TickSize)}, dist(u.ShortLiqPrice)},
		)
	}
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].dist < levels[j].dist })

	out := make([]LiquidationLevel, len(levels))
	for i, l := range levels {
		out[i] = l.view
	}
	return out, nil
}

// KlineView is one OHLCV candle, bucketed by GetKlines' resolution.
type KlineView struct {
	OpenTime int64           `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// GetKlines buckets the market's recent-trades ring into resolution-wide
// OHLCV candles, oldest first. There is no separate candle store (spec.md
// §3's recent-trades ring is the only trade history kept); resolutions
// wider than the ring's retention window will simply see fewer, coarser
// candles than a dedicated time-series store would produce.
func (s *Service) GetKlines(marketSymbol string, resolution time.Duration, limit int) ([]KlineView, error) {
	mkt, ok := s.markets.Get(marketSymbol)
	if !ok {
		return nil, fmt.Errorf("unknown market %s", marketSymbol)
	}
	if resolution <= 0 {
		resolution = time.Minute
	}
	trades := mkt.RecentTrades(0)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Seq < trades[j].Seq })

	bucketStart := func(t time.Time) int64 {
		return t.Unix() / int64(resolution/time.Second) * int64(resolution/time.Second)
	}

	var candles []KlineView
	var cur *KlineView
	var curBucket int64
	for _, t := range trades {
		b := bucketStart(t.At)
		price := Price(t.Price, mkt.TickSize)
		size := Size(t.Size, mkt.LotSize)
		if cur == nil || b != curBucket {
			candles = append(candles, KlineView{OpenTime: b, Open: price, High: price, Low: price, Close: price, Volume: size})
			curBucket = b
			cur = &candles[len(candles)-1]
			continue
		}
		if price.GreaterThan(cur.High) {
			cur.High = price
		}
		if price.LessThan(cur.Low) {
			cur.Low = price
		}
		cur.Close = price
		cur.Volume = cur.Volume.Add(size)
	}

	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetNonce returns a trader's current replay-protection nonce.
func (s *Service) GetNonce(trader types.Address) types.Nonce {
	return s.accounts.CurrentNonce(trader)
}
