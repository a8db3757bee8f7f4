// Package pair implements the Pair Ledger of spec.md §4.F: the long/short
// pair lifecycle, margin commitment, realized PnL, and funding accrual.
//
// The teacher has no shared-position concept — pkg/app/core/account's
// Position is per-account, per-symbol. spec.md §3 requires a first-class
// bilateral Pair entity ("Ownership of a Pair is shared between two
// traders... neither may mutate it unilaterally"). This package is new,
// but its realized-PnL-on-close math is grounded on
// account.Manager.UpdatePosition's formulas, reattached to a two-trader
// Pair instead of a one-trader Position. There is no VWAP entry price:
// every fill opens its own Pair at the fill price.
package pair

import (
	"time"

	"github.com/google/uuid"

	"github.com/memeperp/engine/internal/types"
)

// Pair is a matched long/short counterparty record (spec.md §3).
type Pair struct {
	ID     string
	Market string

	LongTrader  types.Address
	ShortTrader types.Address

	Size       types.Lots // always > 0 while open
	EntryPrice types.Ticks

	LeverageLong  int64
	LeverageShort int64

	CollateralLong  types.Micros
	CollateralShort types.Micros

	FundingIndexAtOpen int64

	OpenedAt time.Time
	Status   types.PairStatus
}

// NewPair creates a pair from a single fill (spec.md §4.F: "Default
// policy: each fill creates a new pair").
func NewPair(marketSymbol string, long, short types.Address, size types.Lots, price types.Ticks,
	leverageLong, leverageShort int64, collateralLong, collateralShort types.Micros,
	fundingIndexAtOpen int64, openedAt time.Time) *Pair {
	return &Pair{
		ID:                 uuid.NewString(),
		Market:              marketSymbol,
		LongTrader:         long,
		ShortTrader:        short,
		Size:               size,
		EntryPrice:         price,
		LeverageLong:       leverageLong,
		LeverageShort:      leverageShort,
		CollateralLong:     collateralLong,
		CollateralShort:    collateralShort,
		FundingIndexAtOpen: fundingIndexAtOpen,
		OpenedAt:           openedAt,
		Status:             types.PairOpen,
	}
}

// UnrealizedPnL returns (uPnL_long, uPnL_short) at mark price, satisfying
// the zero-sum invariant of spec.md §8: uPnL_long + uPnL_short = 0.
func (p *Pair) UnrealizedPnL(mark types.Ticks) (long, short types.Micros) {
	long = (mark - p.EntryPrice) * p.Size
	return long, -long
}

// CollateralFor returns the collateral locked by side.
func (p *Pair) CollateralFor(side types.Side) types.Micros {
	if side == types.SideLong {
		return p.CollateralLong
	}
	return p.CollateralShort
}

// LeverageFor returns the leverage used to open side's position.
func (p *Pair) LeverageFor(side types.Side) int64 {
	if side == types.SideLong {
		return p.LeverageLong
	}
	return p.LeverageShort
}

// TraderFor returns the trader address for side.
func (p *Pair) TraderFor(side types.Side) types.Address {
	if side == types.SideLong {
		return p.LongTrader
	}
	return p.ShortTrader
}
