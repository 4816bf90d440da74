package arbengine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the sizing and safety limits of the coordinator
type Config struct {
	PositionSizeUSDT    decimal.Decimal
	MaxPositions        int
	MaxSlippagePct      decimal.Decimal
	MinDepthUSDT        decimal.Decimal
	DepthSafetyFraction decimal.Decimal
	OrderBookDepth      int
	QueueSize           int
	BusyPollInterval    time.Duration
	OrderTimeout        time.Duration
	QuoteAsset          string
}

func DefaultConfig() Config {
	return Config{
		PositionSizeUSDT:    decimal.NewFromInt(100),
		MaxPositions:        5,
		MaxSlippagePct:      decimal.RequireFromString("0.1"),
		MinDepthUSDT:        decimal.NewFromInt(1000),
		DepthSafetyFraction: decimal.RequireFromString("0.5"),
		OrderBookDepth:      20,
		QueueSize:           64,
		BusyPollInterval:    100 * time.Millisecond,
		OrderTimeout:        15 * time.Second,
		QuoteAsset:          "USDT",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPositions <= 0 {
		c.MaxPositions = d.MaxPositions
	}
	if c.OrderBookDepth <= 0 {
		c.OrderBookDepth = d.OrderBookDepth
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BusyPollInterval <= 0 {
		c.BusyPollInterval = d.BusyPollInterval
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = d.OrderTimeout
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = d.QuoteAsset
	}
	if !c.DepthSafetyFraction.IsPositive() {
		c.DepthSafetyFraction = d.DepthSafetyFraction
	}
	return c
}
