// Package core defines the shared types and interfaces of the arbitrage system
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IExchange is the trading capability both the paper simulator and the live
// venue adapters provide. The execution coordinator only ever sees this.
type IExchange interface {
	GetName() string
	Balance(ctx context.Context, asset string) (Balance, error)
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	CreateOrder(ctx context.Context, symbol string, side Side, amount decimal.Decimal) (OrderResult, error)
	ClosePosition(ctx context.Context, symbol string) (CloseResult, error)
}

// IHistoryProvider serves historical candles for baseline seeding
type IHistoryProvider interface {
	GetName() string
	HistoricalCandles(ctx context.Context, symbol string, interval string, limit int) ([]Candle, error)
}

// IOrderBookSource serves public depth snapshots
type IOrderBookSource interface {
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
}

// IQuoteSource is the read side of the connection manager
type IQuoteSource interface {
	LatestQuote(exchange, symbol string) (Quote, bool)
}

// ISubscriber lets a component extend the live symbol set
type ISubscriber interface {
	Subscribe(symbols []string)
	Unsubscribe(symbols []string)
}

// Event topics
const (
	TopicQuote            = "quote"
	TopicSpreadUpdate     = "spread_update"
	TopicDecision         = "decision"
	TopicTradeOpened      = "trade_opened"
	TopicTradeClosed      = "trade_closed"
	TopicEntryRejected    = "entry_rejected"
	TopicConnectionStatus = "connection_status"
	TopicCriticalAlert    = "critical_alert"
	TopicError            = "error"
)

// Event is one message on the bus
type Event struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// IEventBus is the injected publish/subscribe channel between components
type IEventBus interface {
	Publish(topic string, payload interface{})
	Subscribe(buffer int, topics ...string) ISubscription
}

// ISubscription is a live registration on the bus
type ISubscription interface {
	C() <-chan Event
	Close()
}

// IAlerter raises operator-visible alerts
type IAlerter interface {
	Critical(ctx context.Context, title, message string, fields map[string]string)
	Warn(ctx context.Context, title, message string, fields map[string]string)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
