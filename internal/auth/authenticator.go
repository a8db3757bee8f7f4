package auth

import (
	"math/big"
	"time"

	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/errs"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/types"
)

// AdmittedOrder is the output of a successful Authenticate call: an order
// that has passed every check of spec.md §4.C and already reserved its
// required collateral.
type AdmittedOrder struct {
	ID         string
	ClientID   string
	Trader     types.Address
	Market     string
	Side       types.Side
	Kind       types.OrderKind
	Size       types.Lots
	Leverage   int64
	Price      types.Ticks // 0 for market orders until a price hint is resolved
	TIF        types.TIF
	ReduceOnly bool
	Nonce      types.Nonce
	Deadline   int64
	AdmittedAt time.Time

	ReservedOrderLock types.Micros // total moved free -> locked_orders at admission
	ReservedMargin    types.Micros // portion of ReservedOrderLock that is margin, vs fee
}

// Quoter supplies the best quote of the aggressive side of the book, used
// to resolve a market order's price_hint (spec.md §4.C step 6).
type Quoter interface {
	BestQuote(market string, aggressiveSide types.Side) (types.Ticks, bool)
}

// Authenticator is the Order Authenticator of spec.md §4.C.
type Authenticator struct {
	hasher  *Hasher
	ledger  *ledger.Manager
	markets *market.Registry
	clk     clock.Clock
	quotes  Quoter
}

// New builds an Authenticator.
func New(hasher *Hasher, lm *ledger.Manager, markets *market.Registry, clk clock.Clock, quotes Quoter) *Authenticator {
	return &Authenticator{hasher: hasher, ledger: lm, markets: markets, clk: clk, quotes: quotes}
}

// Request is the raw signed-order envelope submitted by a trader.
type Request struct {
	ID         string
	ClientID   string
	Order      WireOrder
	Signature  []byte
	TIF        types.TIF
	ReduceOnly bool
}

// Authenticate runs the full admission pipeline of spec.md §4.C steps 1-7
// and returns an AdmittedOrder ready to hand to the Matching Core.
func (a *Authenticator) Authenticate(req Request) (*AdmittedOrder, error) {
	// Step 1: signature binds to declared trader.
	ok, err := a.hasher.VerifyOrder(&req.Order, req.Signature)
	if err != nil || !ok {
		return nil, errs.ErrBadSignature
	}

	// Step 2: deadline.
	now := a.clk.Now()
	if req.Order.Deadline != nil && req.Order.Deadline.Sign() > 0 {
		if now.Unix() > req.Order.Deadline.Int64() {
			return nil, errs.ErrExpired
		}
	}

	trader := req.Order.Trader

	// Step 3: nonce.
	current := a.ledger.CurrentNonce(trader)
	declared := req.Order.Nonce.Uint64()
	if declared != current {
		return nil, errs.ErrBadNonce
	}

	// Step 4: market listed and active.
	symbol := req.Order.Token.Hex()
	mkt, ok := a.markets.Get(symbol)
	if !ok {
		return nil, errs.ErrUnknownMarket
	}
	if !mkt.IsActive() {
		return nil, errs.ErrMarketHalted
	}

	// Step 5: size and leverage bounds.
	size := types.Lots(req.Order.Size.Int64())
	if size <= 0 {
		return nil, errs.ErrBadSize
	}
	leverage := req.Order.Leverage.Int64()
	if leverage < 1 || leverage > mkt.MaxLeverage {
		return nil, errs.ErrBadLeverage
	}

	side := types.SideShort
	if req.Order.IsLong {
		side = types.SideLong
	}

	kind := types.OrderMarket
	if req.Order.OrderType == 1 {
		kind = types.OrderLimit
	}

	price := types.Ticks(req.Order.Price.Int64())
	if kind == types.OrderLimit && price <= 0 {
		return nil, errs.ErrBadPrice
	}

	// Step 6: required margin.
	priceHint := price
	if kind == types.OrderMarket {
		hint, ok := a.quotes.BestQuote(symbol, side)
		if !ok {
			return nil, errs.ErrBadPrice
		}
		priceHint = hint
	}
	if err := mkt.ValidateOrderSize(size); err != nil {
		return nil, errs.ErrBadSize
	}
	if err := mkt.ValidateOrderNotional(priceHint, size); err != nil {
		return nil, errs.ErrBadSize
	}

	margin := mkt.RequiredInitialMargin(priceHint, size)
	notional := priceHint * size
	openingFee := (notional * mkt.TakerFeeBps) / 10000
	if openingFee < 0 {
		openingFee = 0
	}
	orderLock := margin + openingFee

	// Step 7: reserve.
	if err := a.ledger.ReserveForOrder(trader, orderLock); err != nil {
		return nil, err
	}
	a.ledger.AdvanceNonce(trader)

	deadline := int64(0)
	if req.Order.Deadline != nil {
		deadline = req.Order.Deadline.Int64()
	}

	return &AdmittedOrder{
		ID:                req.ID,
		ClientID:          req.ClientID,
		Trader:            trader,
		Market:            symbol,
		Side:              side,
		Kind:              kind,
		Size:              size,
		Leverage:          leverage,
		Price:             price,
		TIF:               req.TIF,
		ReduceOnly:        req.ReduceOnly,
		Nonce:             declared,
		Deadline:          deadline,
		AdmittedAt:        now,
		ReservedOrderLock: orderLock,
		ReservedMargin:    margin,
	}, nil
}

// AuthenticateCancel verifies that a cancel request was signed by trader,
// returning errs.ErrBadSignature otherwise. The signed message's semantic content is
// "Cancel order {id}" (spec.md §6); nonce is included in the EIP-712
// payload purely for replay-resistance of the cancel message itself, not
// checked against the account's order nonce.
func (a *Authenticator) AuthenticateCancel(orderID string, trader types.Address, nonce *big.Int, signature []byte) error {
	c := &WireCancel{OrderID: orderID, Trader: trader, Nonce: nonce}
	ok, err := a.hasher.VerifyCancel(c, signature)
	if err != nil || !ok {
		return errs.ErrBadSignature
	}
	return nil
}

// AuthenticateClose verifies a close-position request's signature
// (spec.md §6: `POST /api/position/{pairId}/close` → body `{trader,
// signature}`, signed message `"Close pair {pairId} for {trader}"`).
func (a *Authenticator) AuthenticateClose(pairID string, trader types.Address, signature []byte) error {
	c := &WireClose{PairID: pairID, Trader: trader}
	ok, err := a.hasher.VerifyClose(c, signature)
	if err != nil || !ok {
		return errs.ErrBadSignature
	}
	return nil
}
