// Package liquidation implements Liquidation & Insurance of spec.md §4.H:
// closing the under-margined side of a pair flagged by internal/risk,
// covering any bankruptcy shortfall from the market's insurance fund, and
// handing off to internal/adl when the fund cannot absorb it.
//
// Grounded on account.Manager.Liquidate, which closed every position of an
// under-margined account at mark, realized PnL, unlocked margin, and
// zeroed the balance on a deficit. That method operated per-account across
// all of an account's positions at once; this package operates per-pair
// (spec.md has no notion of a liquidation that spans positions) and adds
// the insurance-fund draw and ADL handoff the teacher never had.
package liquidation

import (
	"fmt"
	"time"

	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

// AccountLedger is the subset of internal/ledger.Manager liquidation drives.
type AccountLedger interface {
	DebitCollateralForLiquidation(addr types.Address, amount types.Micros) (types.Micros, error)
	CreditFree(addr types.Address, amount types.Micros) error
	SettlePnL(addr types.Address, delta types.Micros) error
}

// PairLedger is the subset of internal/pair.Ledger liquidation drives.
type PairLedger interface {
	Get(id string) (*pair.Pair, bool)
	ShrinkForLiquidationOrADL(id string, q types.Lots) (marginLongShare, marginShortShare types.Micros, err error)
	MarkStatus(id string, status types.PairStatus)
}

// ADLHandler is called when the insurance fund cannot absorb a bankruptcy
// shortfall (spec.md §4.H step 4), handed off to internal/adl.
type ADLHandler interface {
	CoverShortfall(mkt *market.Market, bankruptSide types.Side, mark types.Ticks, shortfall types.Micros, at time.Time) (covered types.Micros, err error)
}

// Event is emitted on every processed liquidation (spec.md §4.H step 6:
// "emit a liquidation event"), consumed by internal/broadcast.
type Event struct {
	PairID          string
	Market          string
	Side            types.Side
	Mark            types.Ticks
	RealizedLoss    types.Micros
	Debited         types.Micros
	InsuranceDrawn  types.Micros
	ADLCovered      types.Micros
	ResidualCredit  types.Micros
	RemainingAfter  types.Lots
	UncoveredLoss   types.Micros // only nonzero if neither insurance nor ADL fully covered it
	At              time.Time
}

// Processor executes Engine of spec.md §4.H against one liquidation
// candidate at a time. internal/engine's per-market worker calls Process
// serially for every candidate internal/risk enqueues, preserving the
// single-writer-per-market ordering of spec.md §5.
type Processor struct {
	accounts AccountLedger
	pairs    PairLedger
	adl      ADLHandler
}

// New builds a Processor.
func New(accounts AccountLedger, pairs PairLedger, adl ADLHandler) *Processor {
	return &Processor{accounts: accounts, pairs: pairs, adl: adl}
}

// Process liquidates the under-margined side of a pair at mark (spec.md
// §4.H). It always closes the full pair.Size; partial liquidation is not
// supported.
func (p *Processor) Process(mkt *market.Market, pairID string, side types.Side, mark types.Ticks, at time.Time) (*Event, error) {
	pr, ok := p.pairs.Get(pairID)
	if !ok {
		return nil, fmt.Errorf("pair %s not found", pairID)
	}
	if pr.Status != types.PairOpen {
		return nil, fmt.Errorf("pair %s is not open (status=%s)", pairID, pr.Status)
	}

	q := pr.Size
	longUPnL, shortUPnL := pr.UnrealizedPnL(mark)

	var underTrader, overTrader types.Address
	var underLoss, overGain types.Micros
	if side == types.SideLong {
		underTrader, overTrader = pr.LongTrader, pr.ShortTrader
		underLoss, overGain = -longUPnL, shortUPnL
	} else {
		underTrader, overTrader = pr.ShortTrader, pr.LongTrader
		underLoss, overGain = -shortUPnL, longUPnL
	}
	if underLoss < 0 {
		underLoss = 0
	}

	marginLongShare, marginShortShare, err := p.pairs.ShrinkForLiquidationOrADL(pairID, q)
	if err != nil {
		return nil, fmt.Errorf("shrink pair for liquidation: %w", err)
	}
	underCollateral := marginLongShare
	if side == types.SideShort {
		underCollateral = marginShortShare
	}

	debited, err := p.accounts.DebitCollateralForLiquidation(underTrader, underLoss)
	if err != nil {
		return nil, fmt.Errorf("debit under-margined side: %w", err)
	}

	ev := &Event{PairID: pairID, Market: mkt.Symbol, Side: side, Mark: mark, RealizedLoss: underLoss, Debited: debited, At: at}

	// shortfall is what the counterparty's gain exceeds the under-margined
	// side's collateral (spec.md §4.H step 3's bankruptcy case).
	shortfall := overGain - debited
	if shortfall > 0 {
		if avail := mkt.InsuranceFund(); avail > 0 {
			draw := shortfall
			if draw > avail {
				draw = avail
			}
			mkt.CreditInsuranceFund(-draw)
			ev.InsuranceDrawn = draw
			shortfall -= draw
		}
		if shortfall > 0 && p.adl != nil {
			covered, adlErr := p.adl.CoverShortfall(mkt, side, mark, shortfall, at)
			if adlErr == nil {
				ev.ADLCovered = covered
				shortfall -= covered
			}
		}
		if shortfall > 0 {
			// neither insurance nor ADL fully covered the bankruptcy: the
			// market absorbs the loss as uninsured and halts (spec.md §4.I
			// step 4: "otherwise the market halts").
			ev.UncoveredLoss = shortfall
			mkt.Halt("uninsured_loss")
		}
	}

	// the counterparty is always made whole up to overGain; insurance/ADL
	// fund the difference rather than reducing their settled PnL.
	if err := p.accounts.SettlePnL(overTrader, overGain); err != nil {
		return nil, fmt.Errorf("settle counterparty pnl: %w", err)
	}

	residual := underCollateral - debited
	if residual > 0 {
		if err := p.accounts.CreditFree(underTrader, residual); err != nil {
			return nil, fmt.Errorf("credit residual: %w", err)
		}
		ev.ResidualCredit = residual
	}

	p.pairs.MarkStatus(pairID, types.PairLiquidated)
	return ev, nil
}
