package tradingutils

import (
	"testing"

	"arbibot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLegPnL(t *testing.T) {
	assert.True(t, d("20").Equal(LegPnL(core.SideBuy, d("100"), d("110"), d("2"))))
	assert.True(t, d("-20").Equal(LegPnL(core.SideSell, d("100"), d("110"), d("2"))))
	assert.True(t, d("5").Equal(LegPnL(core.SideSell, d("50000"), d("49995"), d("1"))))
}

func TestFeeCost(t *testing.T) {
	// 0.02 BTC at 50000 with a 0.05% taker fee
	assert.True(t, d("0.5").Equal(FeeCost(d("50000"), d("0.02"), d("0.0005"))))
}

func TestAmountForNotional(t *testing.T) {
	assert.True(t, d("0.003").Equal(AmountForNotional(d("150"), d("50000"), 3)))
	assert.True(t, d("0.0039").Equal(AmountForNotional(d("199.99"), d("50000"), 4)))
	assert.True(t, AmountForNotional(d("100"), decimal.Zero, 3).IsZero())
}
