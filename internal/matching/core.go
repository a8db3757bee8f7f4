// Package matching implements the Matching Core of spec.md §4.E: a
// single-producer, single-consumer book-mutator that walks the opposing
// side of a market's Order Book, applies self-trade prevention and
// time-in-force residual handling, and routes every fill to the Pair
// Ledger.
//
// Grounded on the walk loop of pkg/app/core/orderbook.OrderBook.Place,
// generalized with self-trade prevention, FOK pre-walk simulation, and
// per-fill maker/taker fee computation that the teacher's book never did
// (the teacher matched purely on price-time priority with no fee split
// and no self-trade guard).
package matching

import (
	"time"

	"github.com/memeperp/engine/internal/auth"
	"github.com/memeperp/engine/internal/book"
	"github.com/memeperp/engine/internal/errs"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

// AccountLedger is the subset of internal/ledger.Manager the Matching Core
// drives directly (order-lock release on cancel/residual; the margin
// commit and fee settlement of a fill are owned by internal/pair, which
// Core calls into via PairOpener).
type AccountLedger interface {
	ReleaseOrder(addr types.Address, amount types.Micros) error
}

// PairOpener is the slice of internal/pair.Ledger the Matching Core needs:
// turning one fill into a new bilateral Pair, including the account-ledger
// side effects (margin commit, fee settlement) spec.md §4.F describes.
type PairOpener interface {
	OpenFromFill(req pair.OpenRequest) (*pair.Pair, error)
}

// Fill is the append-only record of spec.md §3: "(taker_order, maker_order,
// price, size, taker_fee, maker_fee, ts)".
type Fill struct {
	Seq         uint64
	Market      string
	TakerOrder  string
	MakerOrder  string
	TakerTrader types.Address
	MakerTrader types.Address
	TakerSide   types.Side
	Price       types.Ticks
	Size        types.Lots
	TakerFee    types.Micros
	MakerFee    types.Micros
	PairID      string
	At          time.Time
}

// Result is returned to the caller (internal/engine) after Submit.
type Result struct {
	Status   types.OrderStatus
	Filled   types.Lots
	AvgPrice types.Ticks
	Fills    []Fill
	Resting  bool // true if the order (or its residual) is now resting in the book
}

// OrderState tracks the portion of an AdmittedOrder's reserved funds not
// yet committed to margin, so partial fills across multiple matching
// passes (including fills against a resting maker long after it first
// rested) can commit their pro-rata share without double-counting.
type OrderState struct {
	Order              *auth.AdmittedOrder
	RemainingSize      types.Lots
	RemainingOrderLock types.Micros
	RemainingMargin    types.Micros
	Filled             types.Lots
	FillNotional       types.Micros // sum(price*qty), for VWAP avg fill price
	Status             types.OrderStatus
}

func (s *OrderState) avgPrice() types.Ticks {
	if s.Filled == 0 {
		return 0
	}
	return s.FillNotional / s.Filled
}

// Core is the per-market Matching Core. One Core instance owns one
// market's Book exclusively; spec.md §5's single-writer-per-market
// guarantee comes from internal/engine only ever calling Submit/Cancel
// from that market's worker goroutine.
type Core struct {
	market   *market.Market
	book     *book.Book
	accounts AccountLedger
	pairs    PairOpener
	protocol types.Address

	orders map[string]*OrderState
	seq    uint64
}

// New builds a Core for one market.
func New(mkt *market.Market, bk *book.Book, accounts AccountLedger, pairs PairOpener, protocol types.Address) *Core {
	return &Core{
		market:   mkt,
		book:     bk,
		accounts: accounts,
		pairs:    pairs,
		protocol: protocol,
		orders:   make(map[string]*OrderState),
	}
}

func (c *Core) nextSeq() uint64 {
	c.seq++
	return c.seq
}

func takeProRata(remainingLock, remainingMargin *types.Micros, remainingSize *types.Lots, q types.Lots) (lockShare, marginShare types.Micros) {
	if *remainingSize == q {
		lockShare = *remainingLock
		marginShare = *remainingMargin
	} else {
		lockShare = (*remainingLock * int64(q)) / int64(*remainingSize)
		marginShare = (*remainingMargin * int64(q)) / int64(*remainingSize)
	}
	*remainingLock -= lockShare
	*remainingMargin -= marginShare
	*remainingSize -= q
	return
}

func crosses(o *auth.AdmittedOrder, bk *book.Book) bool {
	if o.Side == types.SideLong {
		ask, ok := bk.BestAsk()
		return ok && o.Price >= ask
	}
	bid, ok := bk.BestBid()
	return ok && o.Price <= bid
}

func priceAcceptable(o *auth.AdmittedOrder, makerPrice types.Ticks) bool {
	if o.Kind == types.OrderMarket {
		return true
	}
	if o.Side == types.SideLong {
		return makerPrice <= o.Price
	}
	return makerPrice >= o.Price
}

// Submit runs the matching algorithm of spec.md §4.E for one authenticated
// order and returns the fills it produced plus the order's resulting
// status. The caller (internal/engine) is responsible for persisting the
// fills to the journal and broadcasting them.
func (c *Core) Submit(o *auth.AdmittedOrder, at time.Time) (*Result, error) {
	state := &OrderState{
		Order:              o,
		RemainingSize:      o.Size,
		RemainingOrderLock: o.ReservedOrderLock,
		RemainingMargin:    o.ReservedMargin,
		Status:             types.OrderPending,
	}

	opposite := o.Side.Opposite()

	if o.TIF == types.TIFFOK {
		if c.book.Liquidity(opposite, o.Trader) < o.Size {
			c.release(state, state.RemainingOrderLock)
			return &Result{Status: types.OrderRejected}, errs.ErrNotFillable
		}
	}

	shouldWalk := o.Kind == types.OrderMarket || crosses(o, c.book)

	var fills []Fill
	if shouldWalk {
		fills = c.walk(state, opposite, at)
	}

	switch {
	case state.RemainingSize == 0:
		state.Status = types.OrderFilled

	case state.Status == types.OrderCancelled:
		// Cancelled by self-trade prevention during the walk, which has
		// already released its order lock; it never rests.

	case o.Kind == types.OrderMarket || o.TIF == types.TIFIOC:
		// Residual cancelled (spec.md §4.E steps 2-3): IOC and market
		// orders never rest.
		c.release(state, state.RemainingOrderLock)
		state.Status = types.OrderCancelled

	default: // GTC limit with residual
		c.book.Insert(&book.RestingOrder{
			ID:      o.ID,
			Trader:  o.Trader,
			Side:    o.Side,
			Price:   o.Price,
			Size:    o.Size,
			Filled:  state.Filled,
			AdmitAt: o.AdmittedAt,
		})
		if state.Filled > 0 {
			state.Status = types.OrderPartial
		} else {
			state.Status = types.OrderPending
		}
		c.orders[o.ID] = state
	}

	return &Result{
		Status:   state.Status,
		Filled:   state.Filled,
		AvgPrice: state.avgPrice(),
		Fills:    fills,
		Resting:  state.Status == types.OrderPending || state.Status == types.OrderPartial,
	}, nil
}

func (c *Core) walk(taker *OrderState, opposite types.Side, at time.Time) []Fill {
	var fills []Fill
	for taker.RemainingSize > 0 {
		maker, ok := c.book.PeekBest(opposite)
		if !ok {
			break
		}
		if !priceAcceptable(taker.Order, maker.Price) {
			break
		}

		if maker.Trader == taker.Order.Trader {
			// Self-trade prevention (spec.md §4.E step 4): cancel the
			// smaller side outright; it is never counted as a fill.
			if taker.RemainingSize <= maker.Remaining() {
				c.cancelTakerSelfTrade(taker)
				return fills
			}
			c.cancelMakerSelfTrade(maker)
			continue
		}

		q := taker.RemainingSize
		if r := maker.Remaining(); r < q {
			q = r
		}
		price := maker.Price

		makerState := c.orders[maker.ID]

		c.book.Consume(maker, q)

		takerLock, takerMargin := takeProRata(&taker.RemainingOrderLock, &taker.RemainingMargin, &taker.RemainingSize, q)
		var makerLock, makerMargin types.Micros
		if makerState != nil {
			makerLock, makerMargin = takeProRata(&makerState.RemainingOrderLock, &makerState.RemainingMargin, &makerState.RemainingSize, q)
			makerState.Filled += q
			makerState.FillNotional += price * q
		}
		taker.Filled += q
		taker.FillNotional += price * q

		notional := price * q
		takerFee := (notional * c.market.TakerFeeBps) / 10000
		makerFee := (notional * c.market.MakerFeeBps) / 10000

		makerLev := int64(0)
		if makerState != nil {
			makerLev = makerState.Order.Leverage
		}

		longTrader, shortTrader := taker.Order.Trader, maker.Trader
		longLock, longMargin, longLev, longFee := takerLock, takerMargin, taker.Order.Leverage, takerFee
		shortLock, shortMargin, shortLev, shortFee := makerLock, makerMargin, makerLev, makerFee
		if taker.Order.Side == types.SideShort {
			longTrader, shortTrader = maker.Trader, taker.Order.Trader
			longLock, longMargin, longLev, longFee = makerLock, makerMargin, makerLev, makerFee
			shortLock, shortMargin, shortLev, shortFee = takerLock, takerMargin, taker.Order.Leverage, takerFee
		}

		p, err := c.pairs.OpenFromFill(pair.OpenRequest{
			Market:             c.market.Symbol,
			LongTrader:         longTrader,
			ShortTrader:        shortTrader,
			Size:               q,
			Price:              price,
			LeverageLong:       longLev,
			LeverageShort:      shortLev,
			LongOrderLock:      longLock,
			LongMargin:         longMargin,
			ShortOrderLock:     shortLock,
			ShortMargin:        shortMargin,
			LongFee:            longFee,
			ShortFee:           shortFee,
			Protocol:           c.protocol,
			FundingIndexAtOpen: c.market.FundingIndex(),
			At:                 at,
		})
		pairID := ""
		if err == nil && p != nil {
			pairID = p.ID
		}

		c.market.AdjustOpenInterest(q, q)
		seq := c.market.RecordTrade(price, q, taker.Order.Side, at)
		c.seq = seq

		fills = append(fills, Fill{
			Seq:         seq,
			Market:      c.market.Symbol,
			TakerOrder:  taker.Order.ID,
			MakerOrder:  maker.ID,
			TakerTrader: taker.Order.Trader,
			MakerTrader: maker.Trader,
			TakerSide:   taker.Order.Side,
			Price:       price,
			Size:        q,
			TakerFee:    takerFee,
			MakerFee:    makerFee,
			PairID:      pairID,
			At:          at,
		})

		if maker.Remaining() == 0 {
			delete(c.orders, maker.ID)
		}
	}
	return fills
}

func (c *Core) release(state *OrderState, amount types.Micros) {
	if amount <= 0 {
		return
	}
	_ = c.accounts.ReleaseOrder(state.Order.Trader, amount)
}

func (c *Core) cancelTakerSelfTrade(state *OrderState) {
	c.release(state, state.RemainingOrderLock)
	state.RemainingOrderLock = 0
	state.RemainingMargin = 0
	state.Status = types.OrderCancelled
}

func (c *Core) cancelMakerSelfTrade(maker *book.RestingOrder) {
	c.book.SkipMaker(maker)
	if st, ok := c.orders[maker.ID]; ok {
		c.release(st, st.RemainingOrderLock)
		st.Status = types.OrderCancelled
		delete(c.orders, maker.ID)
	}
}

// Cancel cancels a resting order. Returns errs.ErrAlreadyTerminal if the
// order is not currently resting (already filled or already cancelled),
// matching spec.md §5's AlreadyFilled/AlreadyCancelled semantics — the
// cancel and any in-flight fill for the same order both route through this
// market's single worker, so they never race.
func (c *Core) Cancel(orderID string, trader types.Address) error {
	state, ok := c.orders[orderID]
	if !ok || state.Order.Trader != trader {
		return errs.ErrAlreadyTerminal
	}
	if _, ok := c.book.Remove(orderID); !ok {
		return errs.ErrAlreadyTerminal
	}
	c.release(state, state.RemainingOrderLock)
	state.Status = types.OrderCancelled
	delete(c.orders, orderID)
	return nil
}

// OrderStatus returns the live status of a tracked order, if any.
func (c *Core) OrderStatus(orderID string) (types.OrderStatus, bool) {
	state, ok := c.orders[orderID]
	if !ok {
		return 0, false
	}
	return state.Status, true
}

// OpenOrderView is a read-only snapshot of one resting/partially-filled
// order, for internal/query's GetOrders (spec.md §4.K).
type OpenOrderView struct {
	ID            string
	Trader        types.Address
	Side          types.Side
	Price         types.Ticks
	Size          types.Lots
	Filled        types.Lots
	Status        types.OrderStatus
	RemainingSize types.Lots
}

// OpenOrdersForTrader lists every order of trader's still tracked by this
// Core (resting or partially filled; terminal orders are removed as soon
// as they settle, so this is always the live set).
func (c *Core) OpenOrdersForTrader(trader types.Address) []OpenOrderView {
	var out []OpenOrderView
	for id, st := range c.orders {
		if st.Order.Trader != trader {
			continue
		}
		out = append(out, OpenOrderView{
			ID:            id,
			Trader:        trader,
			Side:          st.Order.Side,
			Price:         st.Order.Price,
			Size:          st.Order.Size,
			Filled:        st.Filled,
			Status:        st.Status,
			RemainingSize: st.RemainingSize,
		})
	}
	return out
}
