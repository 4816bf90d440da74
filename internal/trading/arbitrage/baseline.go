package arbitrage

import (
	"math"
	"sort"

	"arbibot/internal/core"
)

// Baseline is a fixed-capacity window of gross spread samples. It is not
// safe for concurrent use; callers serialize access per symbol.
type Baseline struct {
	samples []float64
	next    int
	full    bool
}

// NewBaseline creates an empty window holding at most capacity samples
func NewBaseline(capacity int) *Baseline {
	if capacity < 1 {
		capacity = 1
	}
	return &Baseline{samples: make([]float64, 0, capacity)}
}

// Capacity returns the window size
func (b *Baseline) Capacity() int { return cap(b.samples) }

// Len returns the number of samples held
func (b *Baseline) Len() int { return len(b.samples) }

// Append adds a sample, evicting the oldest once full
func (b *Baseline) Append(v float64) {
	if !b.full {
		b.samples = append(b.samples, v)
		if len(b.samples) == cap(b.samples) {
			b.full = true
		}
		return
	}
	b.samples[b.next] = v
	b.next = (b.next + 1) % len(b.samples)
}

// Seed appends values in order; only the newest Capacity survive
func (b *Baseline) Seed(values []float64) {
	for _, v := range values {
		b.Append(v)
	}
}

// Values returns the samples oldest first
func (b *Baseline) Values() []float64 {
	out := make([]float64, 0, len(b.samples))
	if !b.full {
		return append(out, b.samples...)
	}
	out = append(out, b.samples[b.next:]...)
	return append(out, b.samples[:b.next]...)
}

// Stats returns the mean and population standard deviation
func (b *Baseline) Stats() (mean, std float64) {
	n := float64(len(b.samples))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range b.samples {
		sum += v
	}
	mean = sum / n
	var sq float64
	for _, v := range b.samples {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// ZScore scores x against the window; 0 when the window has no spread
func (b *Baseline) ZScore(x float64) float64 {
	mean, std := b.Stats()
	return ZScore(x, mean, std)
}

// ZScore is (x-mean)/std, or 0 when std is 0
func ZScore(x, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (x - mean) / std
}

// AlignedCloseSpreads inner-joins two candle series on open time and
// returns closeA-closeB per matched bar, oldest first.
func AlignedCloseSpreads(a, b []core.Candle) []float64 {
	byTime := make(map[int64]float64, len(b))
	for _, c := range b {
		byTime[c.OpenTime.UnixMilli()] = c.Close
	}

	sorted := append([]core.Candle(nil), a...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })

	out := make([]float64, 0, len(sorted))
	for _, c := range sorted {
		if closeB, ok := byTime[c.OpenTime.UnixMilli()]; ok {
			out = append(out, c.Close-closeB)
		}
	}
	return out
}
