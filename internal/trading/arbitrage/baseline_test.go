package arbitrage

import (
	"math"
	"testing"
	"time"

	"arbibot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseline_EvictsOldest(t *testing.T) {
	b := NewBaseline(3)
	b.Seed([]float64{1, 2, 3, 4, 5})

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []float64{3, 4, 5}, b.Values())

	b.Append(6)
	assert.Equal(t, []float64{4, 5, 6}, b.Values())
}

func TestBaseline_PopulationStats(t *testing.T) {
	b := NewBaseline(10)
	b.Seed([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	mean, std := b.Stats()
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)
	assert.InDelta(t, 1.5, b.ZScore(8), 1e-9)
}

func TestBaseline_ZeroStdGivesZeroScore(t *testing.T) {
	b := NewBaseline(5)
	b.Seed([]float64{7, 7, 7, 7, 7})

	z := b.ZScore(100)
	assert.Equal(t, 0.0, z)
	assert.False(t, math.IsNaN(z))
}

func TestBaseline_Empty(t *testing.T) {
	b := NewBaseline(0)
	assert.Equal(t, 1, b.Capacity())
	mean, std := b.Stats()
	assert.Zero(t, mean)
	assert.Zero(t, std)
}

func TestAlignedCloseSpreads_InnerJoin(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	a := []core.Candle{
		{OpenTime: at(2), Close: 103},
		{OpenTime: at(0), Close: 101},
		{OpenTime: at(1), Close: 102},
		{OpenTime: at(3), Close: 104},
	}
	b := []core.Candle{
		{OpenTime: at(0), Close: 100},
		{OpenTime: at(2), Close: 100},
		{OpenTime: at(3), Close: 105},
		{OpenTime: at(4), Close: 100},
	}

	got := AlignedCloseSpreads(a, b)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 3, -1}, got)
}
