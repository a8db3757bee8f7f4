package engine

import (
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/auth"
	"github.com/memeperp/engine/internal/book"
	"github.com/memeperp/engine/internal/broadcast"
	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/journal"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/matching"
	"github.com/memeperp/engine/internal/oracle"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

// Supervisor is the process-wide entry point: it authenticates inbound
// requests once (outside any worker, reserving funds under the account
// lock per spec.md §5), then routes the admitted order to the one
// Worker that owns its market.
type Supervisor struct {
	authr    *auth.Authenticator
	accounts *ledger.Manager
	markets  *market.Registry
	pairs    *pair.Ledger
	hub      *broadcast.Hub

	mu      sync.RWMutex
	workers map[string]*Worker
}

// Deps bundles the Supervisor's shared, cross-market dependencies.
type Deps struct {
	Authenticator *auth.Authenticator
	Accounts      *ledger.Manager
	Markets       *market.Registry
	Pairs         *pair.Ledger
	Hub           *broadcast.Hub
}

// NewSupervisor builds an empty Supervisor; use Spawn to add one worker
// per configured market. d.Authenticator may be left nil and set later
// with SetAuthenticator — the Authenticator's constructor needs the
// Supervisor itself as its auth.Quoter, so the two are necessarily built
// in two steps.
func NewSupervisor(d Deps) *Supervisor {
	return &Supervisor{
		authr:    d.Authenticator,
		accounts: d.Accounts,
		markets:  d.Markets,
		pairs:    d.Pairs,
		hub:      d.Hub,
		workers:  make(map[string]*Worker),
	}
}

// SetAuthenticator binds the Authenticator once it has been constructed
// with this Supervisor as its Quoter (breaks the constructor cycle
// between auth.New and NewSupervisor).
func (s *Supervisor) SetAuthenticator(a *auth.Authenticator) {
	s.authr = a
}

// Spawn builds a Worker for mkt and starts its Run loop in a new
// goroutine. Call once per market at startup (spec.md §5: "different
// markets may run on different workers in parallel").
func (s *Supervisor) Spawn(mkt *market.Market, o *oracle.Tracker, clk clock.Clock, wal journal.Writer, logger *zap.Logger, protocol types.Address, adlFeeBps func(market string) int64) *Worker {
	w := NewWorker(WorkerDeps{
		Market:    mkt,
		Accounts:  s.accounts,
		Pairs:     s.pairs,
		Oracle:    o,
		Clock:     clk,
		Hub:       s.hub,
		Journal:   wal,
		Logger:    logger,
		Protocol:  protocol,
		ADLFeeBps: adlFeeBps,
	})
	s.mu.Lock()
	s.workers[mkt.Symbol] = w
	s.mu.Unlock()
	go w.Run()
	return w
}

// StopAll signals every worker to exit its Run loop.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		w.Stop()
	}
}

func (s *Supervisor) worker(symbol string) (*Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[symbol]
	return w, ok
}

// BestQuote implements auth.Quoter by reading the owning worker's book.
// This is a point-in-time read from outside the worker's goroutine;
// internal/book.Book guards its own state with a mutex so this is safe,
// and a slightly stale quote only affects a market order's price_hint
// (and so its margin reservation); the Matching Core fills a market order
// against the live book without reference to the hint.
func (s *Supervisor) BestQuote(marketSymbol string, aggressiveSide types.Side) (types.Ticks, bool) {
	w, ok := s.worker(marketSymbol)
	if !ok {
		return 0, false
	}
	if aggressiveSide == types.SideLong {
		return w.Book().BestAsk()
	}
	return w.Book().BestBid()
}

// SubmitOrder authenticates req (reserving funds under the account lock)
// and, on success, blocks on the owning market's Worker to process it.
func (s *Supervisor) SubmitOrder(req auth.Request) (*matching.Result, error) {
	admitted, err := s.authr.Authenticate(req)
	if err != nil {
		return nil, err
	}
	w, ok := s.worker(admitted.Market)
	if !ok {
		return nil, fmt.Errorf("no worker for market %s", admitted.Market)
	}
	return w.Submit(admitted)
}

// CancelOrder authenticates a cancel request and routes it to the owning
// market's Worker.
func (s *Supervisor) CancelOrder(marketSymbol, orderID string, trader types.Address, nonce *big.Int, signature []byte) error {
	if err := s.authr.AuthenticateCancel(orderID, trader, nonce, signature); err != nil {
		return err
	}
	w, ok := s.worker(marketSymbol)
	if !ok {
		return fmt.Errorf("no worker for market %s", marketSymbol)
	}
	return w.Cancel(orderID, trader)
}

// ClosePosition authenticates a voluntary close-position request (spec.md
// §4.F / §6: `POST /api/position/{pairId}/close`) and routes it to the
// owning market's Worker, which reuses the same settlement path ADL's
// forced closes drive.
func (s *Supervisor) ClosePosition(pairID string, trader types.Address, signature []byte) (*pair.CloseResult, error) {
	p, ok := s.pairs.Get(pairID)
	if !ok {
		return nil, fmt.Errorf("pair %s not found", pairID)
	}
	if trader != p.LongTrader && trader != p.ShortTrader {
		return nil, fmt.Errorf("trader %s is not party to pair %s", trader.Hex(), pairID)
	}
	if err := s.authr.AuthenticateClose(pairID, trader, signature); err != nil {
		return nil, err
	}
	w, ok := s.worker(p.Market)
	if !ok {
		return nil, fmt.Errorf("no worker for market %s", p.Market)
	}
	return w.Close(pairID, 0)
}

// CoreFor implements internal/query's CoreLookup.
func (s *Supervisor) CoreFor(marketSymbol string) (*matching.Core, bool) {
	w, ok := s.worker(marketSymbol)
	if !ok {
		return nil, false
	}
	return w.Core(), true
}

// BookFor resolves a market's live Book for internal/query's GetBook.
func (s *Supervisor) BookFor(marketSymbol string) (*book.Book, bool) {
	w, ok := s.worker(marketSymbol)
	if !ok {
		return nil, false
	}
	return w.Book(), true
}
