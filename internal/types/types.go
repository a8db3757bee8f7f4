// Package types holds the sum types and fixed-point aliases shared across
// every engine package: sides, order kinds, time-in-force, lifecycle
// statuses, and the integer units used for price/size/money.
package types

import "github.com/ethereum/go-ethereum/common"

// Address is a trader or market-token address.
type Address = common.Address

// Ticks is a fixed-point price, scaled by a market's TickSize.
type Ticks = int64

// Lots is a fixed-point base-asset quantity, scaled by a market's LotSize.
type Lots = int64

// Micros is a fixed-point collateral amount in the deployment's collateral
// unit (1e6 for USD-margined deployments, matching the teacher's USDC
// convention; 1e18 deployments scale the same way).
type Micros = int64

// Side is the direction of an order or a pair's leg.
type Side int8

const (
	SideLong  Side = 1
	SideShort Side = -1
)

func (s Side) String() string {
	if s == SideLong {
		return "long"
	}
	return "short"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	return -s
}

// OrderKind distinguishes market from limit orders.
type OrderKind uint8

const (
	OrderMarket OrderKind = iota
	OrderLimit
)

func (k OrderKind) String() string {
	if k == OrderMarket {
		return "market"
	}
	return "limit"
}

// TIF is the time-in-force discipline of a resting order.
type TIF uint8

const (
	TIFGTC TIF = iota
	TIFIOC
	TIFFOK
)

func (t TIF) String() string {
	switch t {
	case TIFGTC:
		return "GTC"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	default:
		return "unknown"
	}
}

// OrderStatus is the mutable lifecycle state of an order.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderPartial
	OrderFilled
	OrderCancelled
	OrderRejected
	OrderExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderPartial:
		return "partial"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	case OrderRejected:
		return "rejected"
	case OrderExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is absorbing (spec.md §3: "terminal
// states are absorbing").
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// PairStatus is the lifecycle state of a matched long/short pair.
type PairStatus uint8

const (
	PairOpen PairStatus = iota
	PairClosed
	PairLiquidated
	PairADLReduced
)

func (s PairStatus) String() string {
	switch s {
	case PairOpen:
		return "open"
	case PairClosed:
		return "closed"
	case PairLiquidated:
		return "liquidated"
	case PairADLReduced:
		return "adl_reduced"
	default:
		return "unknown"
	}
}

func (s PairStatus) IsTerminal() bool {
	return s != PairOpen
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus uint8

const (
	MarketActive MarketStatus = iota
	MarketHalted
	MarketSettling
	MarketSettled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketActive:
		return "active"
	case MarketHalted:
		return "halted"
	case MarketSettling:
		return "settling"
	case MarketSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// RiskLevel buckets a pair's margin ratio for broadcast and liquidation
// triage (spec.md §4.G step 2).
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Nonce is a trader's monotone replay-protection counter.
type Nonce = uint64
