package trading

import "math"

// ShortTerms are the fixed economics of a short position at open time.
type ShortTerms struct {
	EntryPrice       int64 `json:"entry_price_cents"`
	Shares           int64 `json:"shares"`
	Proceeds         int64 `json:"proceeds_cents"`
	Collateral       int64 `json:"collateral_cents"`
	MarginCallPrice  int64 `json:"margin_call_price_cents"`
	LiquidationPrice int64 `json:"liquidation_price_cents"`
}

// ComputeShortTerms derives the cash flows and margin thresholds from the
// entry price. Proceeds are the sale value of the borrowed shares, credited
// at open; collateral is marginReq times the position value; the call and
// liquidation prices are per-share multiples of entry.
func ComputeShortTerms(entryPrice, shares int64, marginReq, callRatio, liqRatio float64) ShortTerms {
	return ShortTerms{
		EntryPrice:       entryPrice,
		Shares:           shares,
		Proceeds:         entryPrice * shares,
		Collateral:       roundCents(float64(entryPrice*shares) * marginReq),
		MarginCallPrice:  roundCents(float64(entryPrice) * callRatio),
		LiquidationPrice: roundCents(float64(entryPrice) * liqRatio),
	}
}

// CoverOutcome describes settling part of a short at the given price.
type CoverOutcome struct {
	Cost               int64
	CollateralReleased int64
	Refund             int64
	PnL                int64
}

// ComputeCover settles n shares of a position holding positionShares backed
// by collateral. Collateral is released proportionally; the buy-back cost
// comes out of it and the remainder is refunded. Refund goes negative when
// the price has run past the collateral share.
func ComputeCover(entryPrice, coverPrice, n, positionShares, collateral int64) CoverOutcome {
	released := collateral * n / positionShares
	cost := coverPrice * n
	return CoverOutcome{
		Cost:               cost,
		CollateralReleased: released,
		Refund:             released - cost,
		PnL:                (entryPrice - coverPrice) * n,
	}
}

// ComputeLiquidation force-closes a whole position at the given price. The
// buy-back comes out of collateral and losses are capped at the collateral.
func ComputeLiquidation(shares, price, collateral int64) (refund int64) {
	refund = collateral - shares*price
	if refund < 0 {
		refund = 0
	}
	return refund
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
