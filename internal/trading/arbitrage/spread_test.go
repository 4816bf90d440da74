package arbitrage

import (
	"testing"

	"arbibot/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestComputeSpread_FeesAgainstGross(t *testing.T) {
	s := NetOf(100, 50000, 0.0005, 0.00055)

	assert.InDelta(t, 52.5, s.FeeCost, 1e-9)
	assert.InDelta(t, 47.5, s.Net, 1e-9)
	assert.InDelta(t, 0.105, s.FeePct, 1e-9)
	assert.InDelta(t, 0.095, s.NetPct, 1e-9)
	assert.InDelta(t, 0.2, s.GrossPct, 1e-9)
}

func TestComputeSpread_NegativeNetWhenFeesExceedGross(t *testing.T) {
	s := NetOf(30, 50000, 0.0005, 0.00055)
	assert.Less(t, s.Net, 0.0)
	assert.Less(t, s.NetPct, 0.0)
}

func TestGrossSpread_Sign(t *testing.T) {
	tests := []struct {
		name string
		a, b core.Quote
		want float64
	}{
		{
			name: "A cheap",
			a:    core.Quote{Bid: 49_900, Ask: 49_910},
			b:    core.Quote{Bid: 50_000, Ask: 50_010},
			want: -90, // min(|49910-50000|, |50010-49900|)
		},
		{
			name: "B cheap",
			a:    core.Quote{Bid: 50_100, Ask: 50_110},
			b:    core.Quote{Bid: 50_000, Ask: 50_010},
			want: 90,
		},
		{
			name: "crossed equal",
			a:    core.Quote{Bid: 100, Ask: 100},
			b:    core.Quote{Bid: 100, Ask: 100},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, GrossSpread(tt.a, tt.b), 1e-9)
		})
	}
}

func TestComputeSpread_UsesAverageMid(t *testing.T) {
	a := core.Quote{Bid: 49_990, Ask: 50_010}
	b := core.Quote{Bid: 50_090, Ask: 50_110}
	s := ComputeSpread(a, b, 0.001, 0.001)

	assert.InDelta(t, 50_050, s.Mid, 1e-9)
	assert.InDelta(t, -80, s.Gross, 1e-9)
	assert.InDelta(t, 80-50_050*0.002, s.Net, 1e-9)

	u := s.Update("BTC/USDT", -2.5, core.ExchangePair{A: "bingx", B: "bybit"})
	assert.Equal(t, "BTC/USDT", u.Symbol)
	assert.Equal(t, -2.5, u.ZScore)
	assert.Equal(t, s.NetPct, u.NetSpreadPct)
}
