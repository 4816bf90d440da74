// Package tradingutils holds decimal helpers shared by adapters and the coordinator
package tradingutils

import (
	"arbibot/internal/core"

	"github.com/shopspring/decimal"
)

// RoundDown truncates qty to the given number of decimals
func RoundDown(qty decimal.Decimal, decimals int32) decimal.Decimal {
	return qty.Truncate(decimals)
}

// Notional is price × amount
func Notional(price, amount decimal.Decimal) decimal.Decimal {
	return price.Mul(amount)
}

// FeeCost is notional × feeRate
func FeeCost(price, amount, feeRate decimal.Decimal) decimal.Decimal {
	return Notional(price, amount).Mul(feeRate)
}

// LegPnL is the signed price P&L of closing one leg, before fees
func LegPnL(side core.Side, entry, exit, amount decimal.Decimal) decimal.Decimal {
	if side == core.SideBuy {
		return exit.Sub(entry).Mul(amount)
	}
	return entry.Sub(exit).Mul(amount)
}

// AmountForNotional converts a USDT size to base units at price, truncated to decimals
func AmountForNotional(notional, price decimal.Decimal, decimals int32) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	return RoundDown(notional.Div(price), decimals)
}
