// Package arbitrage holds the pure math of cross-exchange spread trading:
// spread and fee accounting, the rolling baseline, debounce state and
// depth-limited sizing.
package arbitrage

import (
	"math"

	"arbibot/internal/core"
)

// Spread is one observation of the A/B spread. Gross is signed: negative
// means exchange A is the cheap side (askA below bidB).
type Spread struct {
	Gross    float64
	GrossPct float64
	FeeCost  float64
	FeePct   float64
	Net      float64
	NetPct   float64
	Mid      float64
}

// GrossSpread returns the cheaper of the two executable cross differences,
// min(|askA-bidB|, |askB-bidA|), signed by askA-bidB.
func GrossSpread(a, b core.Quote) float64 {
	aToB := a.Ask - b.Bid
	bToA := b.Ask - a.Bid
	gross := math.Min(math.Abs(aToB), math.Abs(bToA))
	if aToB < 0 {
		return -gross
	}
	return gross
}

// ComputeSpread evaluates gross, fee and net spread for a quote pair.
// Fees are taker rates as fractions (0.0005 = 5 bps). The fee cost is
// charged against the magnitude of the gross spread since a trade always
// buys the cheap side, whichever it is.
func ComputeSpread(a, b core.Quote, feeA, feeB float64) Spread {
	gross := GrossSpread(a, b)
	mid := (a.Mid() + b.Mid()) / 2
	s := NetOf(gross, mid, feeA, feeB)
	return s
}

// NetOf applies fees at price mid to a gross spread
func NetOf(gross, mid, feeA, feeB float64) Spread {
	s := Spread{
		Gross:   gross,
		Mid:     mid,
		FeeCost: mid * (feeA + feeB),
		FeePct:  (feeA + feeB) * 100,
	}
	s.Net = math.Abs(gross) - s.FeeCost
	if mid > 0 {
		s.GrossPct = gross / mid * 100
		s.NetPct = s.Net / mid * 100
	}
	return s
}

// Update builds the event payload for a spread observation
func (s Spread) Update(symbol string, z float64, pair core.ExchangePair) core.SpreadUpdate {
	return core.SpreadUpdate{
		Symbol:         symbol,
		GrossSpread:    s.Gross,
		GrossSpreadPct: s.GrossPct,
		FeeCost:        s.FeeCost,
		FeePct:         s.FeePct,
		NetSpread:      s.Net,
		NetSpreadPct:   s.NetPct,
		ZScore:         z,
		MidPrice:       s.Mid,
		ExchangePair:   pair,
	}
}
