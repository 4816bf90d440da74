package arbitrage

import (
	"arbibot/internal/core"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SizingParams bound the adaptive position size
type SizingParams struct {
	MaxSlippagePct decimal.Decimal // e.g. 0.1 for 0.1%
	MinDepthUSDT   decimal.Decimal
	SafetyFraction decimal.Decimal // share of the thinner book we are willing to take
	MaxNotional    decimal.Decimal // base position size
}

// Sizing is the outcome of SizeTrade
type Sizing struct {
	Notional decimal.Decimal
	DepthA   decimal.Decimal
	DepthB   decimal.Decimal
	OK       bool
	Reason   string
}

// DepthWithinSlippage sums the quote-currency notional available on the side
// a market order of the given side consumes, up to maxSlippagePct away from
// the best price. Buys walk the asks, sells walk the bids.
func DepthWithinSlippage(book core.OrderBook, side core.Side, maxSlippagePct decimal.Decimal) decimal.Decimal {
	levels := book.Asks
	if side == core.SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return decimal.Zero
	}

	best := levels[0].Price
	offset := best.Mul(maxSlippagePct).Div(hundred)
	limit := best.Add(offset)
	if side == core.SideSell {
		limit = best.Sub(offset)
	}

	total := decimal.Zero
	for _, lvl := range levels {
		if side == core.SideBuy && lvl.Price.GreaterThan(limit) {
			break
		}
		if side == core.SideSell && lvl.Price.LessThan(limit) {
			break
		}
		total = total.Add(lvl.Price.Mul(lvl.Amount))
	}
	return total
}

// SizeTrade chooses the notional for a hedge: the thinner of the two
// relevant book sides scaled by the safety fraction and capped by the base
// size. Both sides must offer at least MinDepthUSDT.
func SizeTrade(bookA, bookB core.OrderBook, sideA, sideB core.Side, p SizingParams) Sizing {
	s := Sizing{
		DepthA: DepthWithinSlippage(bookA, sideA, p.MaxSlippagePct),
		DepthB: DepthWithinSlippage(bookB, sideB, p.MaxSlippagePct),
	}

	if s.DepthA.LessThan(p.MinDepthUSDT) || s.DepthB.LessThan(p.MinDepthUSDT) {
		s.Reason = "insufficient_liquidity"
		return s
	}

	s.Notional = decimal.Min(s.DepthA, s.DepthB).Mul(p.SafetyFraction)
	if p.MaxNotional.IsPositive() && s.Notional.GreaterThan(p.MaxNotional) {
		s.Notional = p.MaxNotional
	}
	if !s.Notional.IsPositive() {
		s.Reason = "insufficient_liquidity"
		return s
	}
	s.OK = true
	return s
}
