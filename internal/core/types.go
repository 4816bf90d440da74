package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a normalized top-of-book tick from one exchange
type Quote struct {
	Exchange          string    `json:"exchange"`
	Symbol            string    `json:"symbol"` // unified form, e.g. BTC/USDT
	Bid               float64   `json:"bid"`
	Ask               float64   `json:"ask"`
	Last              float64   `json:"last"`
	ExchangeTimestamp time.Time `json:"exchange_timestamp"`
	ReceiveTimestamp  time.Time `json:"receive_timestamp"`
}

// Valid reports whether the quote has a usable two-sided price
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Mid returns the midpoint of bid and ask
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// ExchangePair names the two venues a spread is measured between.
// A is always the first leg; negative spreads mean A is the cheap side.
type ExchangePair struct {
	A string `json:"a"`
	B string `json:"b"`
}

func (p ExchangePair) String() string {
	return p.A + "/" + p.B
}

// DecisionType distinguishes entries from exits
type DecisionType string

const (
	DecisionEntry DecisionType = "ENTRY"
	DecisionExit  DecisionType = "EXIT"
)

// Decision is emitted by the signal engine once a debounced condition fires
type Decision struct {
	Symbol    string       `json:"symbol"`
	Type      DecisionType `json:"type"`
	ZScore    float64      `json:"z_score"`
	ExchangeA string       `json:"exchange_a"`
	ExchangeB string       `json:"exchange_b"`
	Timestamp time.Time    `json:"timestamp"`
}

// SpreadUpdate is the composite per-tick spread observation
type SpreadUpdate struct {
	Symbol         string       `json:"symbol"`
	GrossSpread    float64      `json:"gross_spread"`
	GrossSpreadPct float64      `json:"gross_spread_pct"`
	FeeCost        float64      `json:"fee_cost"`
	FeePct         float64      `json:"fee_pct"`
	NetSpread      float64      `json:"net_spread"`
	NetSpreadPct   float64      `json:"net_spread_pct"`
	ZScore         float64      `json:"z_score"`
	MidPrice       float64      `json:"mid_price"`
	ExchangePair   ExchangePair `json:"exchange_pair"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ConnectionStatus describes one exchange session state change
type ConnectionStatus struct {
	Exchange        string    `json:"exchange"`
	Connected       bool      `json:"connected"`
	PermanentlyDown bool      `json:"permanently_down"`
	Attempt         int       `json:"attempt"`
	Timestamp       time.Time `json:"timestamp"`
}

// Side is an order side
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the closing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Balance is the free/used/total view of one asset
type Balance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// Ticker is the capability-level price snapshot
type Ticker struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceLevel is one order book level
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook is a depth snapshot, best prices first on both sides
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// OrderResult is returned by a filled market order
type OrderResult struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	AveragePrice decimal.Decimal `json:"average_price"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	FeeCost      decimal.Decimal `json:"fee_cost"`
	Timestamp    time.Time       `json:"timestamp"`
}

// CloseResult is returned when a position is flattened
type CloseResult struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Amount       decimal.Decimal `json:"amount"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	FeeCost      decimal.Decimal `json:"fee_cost"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Candle is one OHLCV bar
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// HedgeLeg is one side of an open hedge
type HedgeLeg struct {
	Exchange   string          `json:"exchange"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OrderID    string          `json:"order_id"`
	FeeCost    decimal.Decimal `json:"fee_cost"`
}

// HedgeTrade is an open two-legged position
type HedgeTrade struct {
	Symbol      string          `json:"symbol"`
	LegA        HedgeLeg        `json:"leg_a"`
	LegB        HedgeLeg        `json:"leg_b"`
	Amount      decimal.Decimal `json:"amount"`
	EntryTime   time.Time       `json:"entry_time"`
	EntryZScore float64         `json:"entry_z_score"`
}

// ClosedTrade is the realized outcome of a hedge
type ClosedTrade struct {
	Symbol      string          `json:"symbol"`
	PnLA        decimal.Decimal `json:"pnl_a"`
	PnLB        decimal.Decimal `json:"pnl_b"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	HoldingTime time.Duration   `json:"holding_time"`
	ExitTime    time.Time       `json:"exit_time"`
	Partial     bool            `json:"partial"`
}

// EntryRejection explains why an ENTRY decision did not produce a trade
type EntryRejection struct {
	Symbol    string    `json:"symbol"`
	Reason    string    `json:"reason"`
	ZScore    float64   `json:"z_score"`
	Timestamp time.Time `json:"timestamp"`
}

// Exposure is a leg left open without its hedge. It needs manual attention.
type Exposure struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Side     Side      `json:"side"`
	OrderID  string    `json:"order_id"`
	Reason   string    `json:"reason"`
	Since    time.Time `json:"since"`
}
