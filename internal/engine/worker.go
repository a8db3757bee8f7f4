// Package engine implements the per-market worker and supervisor of
// spec.md §5: "the engine is logically single-writer per market: a
// market's order book, its pairs, and its risk computations are
// serialized through one work-queue consumer. Different markets may run
// on different workers in parallel."
//
// Grounded on the channel-driven goroutine pattern pkg/api/websocket.go's
// Hub.Run already uses (register/unregister/broadcast select loop),
// generalized here to one job queue per market instead of one queue for
// the whole process — the teacher had a single global App/ABCI-apply
// loop, not a per-market worker, since it had no notion of "market" as a
// concurrency boundary at all (everything served from one consensus
// block-apply path).
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/adl"
	"github.com/memeperp/engine/internal/auth"
	"github.com/memeperp/engine/internal/book"
	"github.com/memeperp/engine/internal/broadcast"
	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/journal"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/liquidation"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/matching"
	"github.com/memeperp/engine/internal/metrics"
	"github.com/memeperp/engine/internal/oracle"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/risk"
	"github.com/memeperp/engine/internal/types"
)

const tickInterval = 100 * time.Millisecond

// haltReasonOracleStale is the Market.HaltReason() value runTick sets on an
// oracle-staleness halt and looks for on the next tick to auto-resume
// (spec.md §8 scenario 6). Other halt reasons (e.g. internal/liquidation's
// uninsured-shortfall halt) are left for admin intervention via
// market.Registry.UpdateStatus.
const haltReasonOracleStale = "oracle_stale"

type jobKind uint8

const (
	jobSubmit jobKind = iota
	jobCancel
	jobClose
)

type job struct {
	kind     jobKind
	order    *auth.AdmittedOrder
	id       string
	trader   types.Address
	closeQty types.Lots // 0 means "close the whole pair"
	result   chan jobResult
}

type jobResult struct {
	submit *matching.Result
	close  *pair.CloseResult
	err    error
}

// Worker owns one market's Book, Matching Core, risk computation, and
// liquidation/ADL processing, and is the only goroutine that ever
// mutates any of them (spec.md §5's single-writer guarantee).
type Worker struct {
	mkt    *market.Market
	book   *book.Book
	core   *matching.Core
	riskC  *risk.Computer
	liq    *liquidation.Processor
	oracle *oracle.Tracker
	clk    clock.Clock
	hub    *broadcast.Hub
	wal    journal.Writer
	logger *zap.Logger
	pairs  *pair.Ledger

	jobs chan job
	quit chan struct{}
}

// WorkerDeps bundles a Worker's constructor dependencies.
type WorkerDeps struct {
	Market    *market.Market
	Accounts  *ledger.Manager
	Pairs     *pair.Ledger
	Oracle    *oracle.Tracker
	Clock     clock.Clock
	Hub       *broadcast.Hub
	Journal   journal.Writer
	Logger    *zap.Logger
	Protocol  types.Address
	ADLFeeBps func(market string) int64
}

// NewWorker builds a Worker and wires its Matching Core, risk computer,
// liquidation processor, and ADL selector.
func NewWorker(d WorkerDeps) *Worker {
	bk := book.New()
	core := matching.New(d.Market, bk, d.Accounts, d.Pairs, d.Protocol)
	riskC := risk.NewComputer(d.Pairs, d.Accounts)

	hub := d.Hub
	marketSymbol := d.Market.Symbol
	selector := adl.New(d.Pairs, d.ADLFeeBps, func(ev adl.Event) {
		hub.Publish(fmt.Sprintf("market:%s:liquidation", marketSymbol), ev)
		metrics.IncADLEvent(marketSymbol)
	})
	liq := liquidation.New(d.Accounts, d.Pairs, selector)

	return &Worker{
		mkt:    d.Market,
		book:   bk,
		core:   core,
		riskC:  riskC,
		liq:    liq,
		oracle: d.Oracle,
		clk:    d.Clock,
		hub:    d.Hub,
		wal:    d.Journal,
		logger: d.Logger,
		pairs:  d.Pairs,
		jobs:   make(chan job),
		quit:   make(chan struct{}),
	}
}

// Book exposes the worker's book for read-only query paths.
func (w *Worker) Book() *book.Book { return w.book }

// Core exposes the worker's Matching Core for read-only query paths
// (internal/query's GetOrders).
func (w *Worker) Core() *matching.Core { return w.core }

// Stop signals the worker's Run loop to exit.
func (w *Worker) Stop() { close(w.quit) }

// Run is the worker's single-writer loop (spec.md §5): it drains
// submit/cancel jobs and runs the 100ms risk tick from the same
// goroutine, so book mutation, pair mutation, and risk computation are
// always serialized.
func (w *Worker) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			w.handleJob(j)
		case <-ticker.C:
			w.runTick()
		}
	}
}

func (w *Worker) handleJob(j job) {
	switch j.kind {
	case jobSubmit:
		res, err := w.core.Submit(j.order, w.clk.Now())
		if err == nil {
			w.journalAndBroadcastFills(j.order, res)
		}
		j.result <- jobResult{submit: res, err: err}
	case jobCancel:
		err := w.core.Cancel(j.id, j.trader)
		j.result <- jobResult{err: err}
	case jobClose:
		res, err := w.closePair(j.id, j.closeQty)
		j.result <- jobResult{close: res, err: err}
	}
}

// closePair implements the voluntary close-request path of spec.md §4.F
// ("On close request for a pair (or a size q ≤ pair.size)"), reusing the
// same Close settlement path internal/adl drives for forced closes. q==0
// means close the pair's full remaining size.
func (w *Worker) closePair(pairID string, q types.Lots) (*pair.CloseResult, error) {
	p, ok := w.pairs.Get(pairID)
	if !ok {
		return nil, fmt.Errorf("pair %s not found", pairID)
	}
	if q <= 0 {
		q = p.Size
	}
	mark := w.mkt.MarkPrice()
	res, err := w.pairs.Close(pairID, q, mark, w.mkt.FundingIndex(), w.mkt.TakerFeeBps, w.clk.Now())
	if err != nil {
		return nil, err
	}
	_, _ = w.wal.Append(journal.KindPairClosed, w.mkt.Symbol, w.clk.Now(), res)
	w.hub.Publish(fmt.Sprintf("trader:%s:positions", p.LongTrader.Hex()), res)
	w.hub.Publish(fmt.Sprintf("trader:%s:positions", p.ShortTrader.Hex()), res)
	return res, nil
}

// Submit enqueues an admitted order and blocks for its result. Order
// admission (signature/nonce/margin reservation) has already happened in
// internal/auth before this call, per spec.md §5: "order admission grabs
// the account lock, reserves funds, and releases before enqueueing to
// the per-market worker."
func (w *Worker) Submit(o *auth.AdmittedOrder) (*matching.Result, error) {
	j := job{kind: jobSubmit, order: o, result: make(chan jobResult, 1)}
	w.jobs <- j
	r := <-j.result
	return r.submit, r.err
}

// Cancel enqueues a cancel request and blocks for its result.
func (w *Worker) Cancel(orderID string, trader types.Address) error {
	j := job{kind: jobCancel, id: orderID, trader: trader, result: make(chan jobResult, 1)}
	w.jobs <- j
	r := <-j.result
	return r.err
}

// Close enqueues a voluntary close request for pairID and blocks for its
// result. q==0 closes the pair's full remaining size.
func (w *Worker) Close(pairID string, q types.Lots) (*pair.CloseResult, error) {
	j := job{kind: jobClose, id: pairID, closeQty: q, result: make(chan jobResult, 1)}
	w.jobs <- j
	r := <-j.result
	return r.close, r.err
}

func (w *Worker) journalAndBroadcastFills(o *auth.AdmittedOrder, res *matching.Result) {
	for _, f := range res.Fills {
		_, _ = w.wal.Append(journal.KindFill, w.mkt.Symbol, f.At, journal.FillPayload{
			TakerOrder: f.TakerOrder,
			MakerOrder: f.MakerOrder,
			Taker:      f.TakerTrader,
			Maker:      f.MakerTrader,
			Price:      f.Price,
			Size:       f.Size,
			PairID:     f.PairID,
		})
		w.hub.Publish(fmt.Sprintf("market:%s:trade", w.mkt.Symbol), f)
	}
	if len(res.Fills) > 0 {
		w.hub.Publish(fmt.Sprintf("market:%s:orderbook", w.mkt.Symbol), bookSnapshot(w.book))
	}
	metrics.IncFills(w.mkt.Symbol, len(res.Fills))
}

func bookSnapshot(bk *book.Book) any {
	return struct {
		Bids []book.PriceLevel `json:"bids"`
		Asks []book.PriceLevel `json:"asks"`
	}{Bids: bk.BidLevels(), Asks: bk.AskLevels()}
}

// runTick executes one 100ms pass: mark-price/risk recomputation, then
// serially processes any pair the tick flags as liquidatable, preserving
// single-writer order with every order/cancel job (spec.md §4.G, §4.H).
func (w *Worker) runTick() {
	now := w.clk.Now()

	// Poll (and so refresh the staleness cache) unconditionally, even while
	// halted for staleness: that's the only way a halted market ever learns
	// the oracle has recovered (spec.md §8 scenario 6).
	oracleSpot, _ := w.oracle.Poll(w.mkt.Symbol)
	stale := w.oracle.Stale(w.mkt.Symbol)

	if w.mkt.HaltReason() == haltReasonOracleStale {
		if stale {
			return
		}
		if err := w.mkt.Resume(); err != nil {
			w.logger.Error("market resume failed", zap.String("market", w.mkt.Symbol), zap.Error(err))
			return
		}
		w.logger.Info("market resumed: oracle recovered", zap.String("market", w.mkt.Symbol))
		w.hub.Publish(fmt.Sprintf("market:%s:halt", w.mkt.Symbol), haltEvent{Market: w.mkt.Symbol, Reason: "resumed", At: now})
	} else if !w.mkt.IsActive() {
		// halted for a reason the risk loop can't clear on its own (e.g.
		// an uninsured liquidation shortfall); stays halted until an admin
		// resumes it via market.Registry.UpdateStatus.
		return
	} else if stale {
		if err := w.mkt.Halt(haltReasonOracleStale); err == nil {
			w.logger.Warn("market halted: oracle stale", zap.String("market", w.mkt.Symbol))
			w.hub.Publish(fmt.Sprintf("market:%s:halt", w.mkt.Symbol), haltEvent{Market: w.mkt.Symbol, Reason: "oracle_stale", At: now})
		}
		return
	}

	bookMid := w.book.MidPrice()
	lastTrade := w.book.LastTradePrice()

	tickStart := time.Now()
	res := w.riskC.Tick(w.mkt, oracleSpot, bookMid, lastTrade, now)
	metrics.ObserveRiskTick(w.mkt.Symbol, time.Since(tickStart).Seconds())
	metrics.SetMarkPrice(w.mkt.Symbol, float64(res.Mark))
	metrics.SetInsuranceFund(w.mkt.Symbol, float64(w.mkt.InsuranceFund()))

	var warnings []riskWarning
	for _, pu := range res.Positions {
		if p, ok := w.pairTraders(pu.PairID); ok {
			w.hub.Publish(fmt.Sprintf("trader:%s:positions", p.long.Hex()), pu)
			w.hub.Publish(fmt.Sprintf("trader:%s:positions", p.short.Hex()), pu)
		}
		// RiskHigh is broadcast as an early warning without forcing a close;
		// RiskCritical is already handled via res.Liquidatable below.
		if pu.LongLevel == types.RiskHigh {
			warnings = append(warnings, riskWarning{PairID: pu.PairID, Side: types.SideLong, Level: pu.LongLevel})
		}
		if pu.ShortLevel == types.RiskHigh {
			warnings = append(warnings, riskWarning{PairID: pu.PairID, Side: types.SideShort, Level: pu.ShortLevel})
		}
	}
	w.hub.Publish(fmt.Sprintf("market:%s:risk", w.mkt.Symbol), riskTopicUpdate{
		Market:        w.mkt.Symbol,
		Mark:          res.Mark,
		InsuranceFund: w.mkt.InsuranceFund(),
		Warnings:      warnings,
	})

	for _, cand := range res.Liquidatable {
		ev, err := w.liq.Process(w.mkt, cand.PairID, cand.Side, cand.Mark, now)
		if err != nil {
			w.logger.Error("liquidation failed", zap.String("pair", cand.PairID), zap.Error(err))
			continue
		}
		_, _ = w.wal.Append(journal.KindLiquidation, w.mkt.Symbol, now, journal.LiquidationPayload{
			PairID:  ev.PairID,
			Side:    ev.Side,
			Mark:    ev.Mark,
			Debited: ev.Debited,
			Drawn:   ev.InsuranceDrawn,
		})
		w.hub.Publish(fmt.Sprintf("market:%s:liquidation", w.mkt.Symbol), ev)
		metrics.IncLiquidation(w.mkt.Symbol)
	}
}

type haltEvent struct {
	Market string    `json:"market"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// riskWarning flags one side of a pair that crossed into RiskHigh without
// (yet) being liquidatable, broadcast on the `market:{id}:risk` topic
// (SPEC_FULL's liquidation-tiering supplement to spec.md §4.G/§4.J).
type riskWarning struct {
	PairID string          `json:"pair_id"`
	Side   types.Side      `json:"side"`
	Level  types.RiskLevel `json:"level"`
}

// riskTopicUpdate is published once per tick on `market:{id}:risk`: the
// market's current mark/insurance-fund state plus any high-risk early
// warnings (spec.md §4.J's `market:{id}:risk` topic).
type riskTopicUpdate struct {
	Market        string        `json:"market"`
	Mark          types.Ticks   `json:"mark"`
	InsuranceFund types.Micros  `json:"insurance_fund"`
	Warnings      []riskWarning `json:"warnings,omitempty"`
}

type pairTraders struct{ long, short types.Address }

// pairTraders resolves a pair's two trader addresses for per-trader
// "positions" topic routing.
func (w *Worker) pairTraders(pairID string) (pairTraders, bool) {
	p, ok := w.pairs.Get(pairID)
	if !ok {
		return pairTraders{}, false
	}
	return pairTraders{long: p.LongTrader, short: p.ShortTrader}, true
}
