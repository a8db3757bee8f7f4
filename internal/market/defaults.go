package market

import "time"

// DefaultPerp returns sane parameters for a leveraged perpetual with the
// given tick/lot scale and leverage cap, following the margin-bps
// consistency rule MaxLeverage ≈ 10000/InitialMarginBps (teacher's
// CustomPerpetual helper).
func DefaultPerp(tickSize, lotSize, maxLeverage int64) Params {
	initialMarginBps := 10000 / maxLeverage
	return Params{
		TickSize:             tickSize,
		LotSize:              lotSize,
		MinNotional:          10_000,
		MaxLeverage:          maxLeverage,
		InitialMarginBps:     initialMarginBps,
		MaintenanceMarginBps: initialMarginBps / 4,
		FundingInterval:      time.Hour,
		MaxFundingRateBps:    1200,
		MinOrderSize:         1,
		MaxOrderSize:         1_000_000,
		MaxPosition:          10_000_000,
		MakerFeeBps:          -2,
		TakerFeeBps:          5,
	}
}
