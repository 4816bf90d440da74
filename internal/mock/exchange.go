// Package mock provides scriptable test doubles for the exchange capability
// and history interfaces.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"

	"github.com/shopspring/decimal"
)

// OrderCall records one CreateOrder invocation
type OrderCall struct {
	Symbol string
	Side   core.Side
	Amount decimal.Decimal
}

type mockPosition struct {
	side   core.Side
	amount decimal.Decimal
	entry  decimal.Decimal
}

// MockExchange implements core.IExchange with in-memory fills against a
// configured book. Errors can be scripted per operation.
type MockExchange struct {
	name string
	mu   sync.Mutex

	balance   core.Balance
	books     map[string]core.OrderBook
	positions map[string]mockPosition
	orderSeq  int64

	orderCalls     []OrderCall
	closeCalls     []string
	orderBookCalls int
	balanceCalls   int

	createErr    error
	createErrAt  int // fail only the n-th CreateOrder call when > 0
	closeErr     error
	balanceErr   error
	orderBookErr error
	delay        time.Duration
}

func NewMockExchange(name string) *MockExchange {
	free := decimal.NewFromInt(10000)
	return &MockExchange{
		name:      name,
		balance:   core.Balance{Free: free, Total: free},
		books:     make(map[string]core.OrderBook),
		positions: make(map[string]mockPosition),
	}
}

func (m *MockExchange) GetName() string {
	return m.name
}

// SetBalance sets the free USDT balance
func (m *MockExchange) SetBalance(free decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = core.Balance{Free: free, Total: free}
}

// SetOrderBook installs the depth snapshot returned for book.Symbol
func (m *MockExchange) SetOrderBook(book core.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.Symbol] = book
}

// SetTopOfBook installs a deep single-level book at the given prices
func (m *MockExchange) SetTopOfBook(symbol string, bid, ask, amount decimal.Decimal) {
	m.SetOrderBook(core.OrderBook{
		Symbol: symbol,
		Bids:   []core.PriceLevel{{Price: bid, Amount: amount}},
		Asks:   []core.PriceLevel{{Price: ask, Amount: amount}},
	})
}

// FailCreateOrder makes every CreateOrder call return err
func (m *MockExchange) FailCreateOrder(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
	m.createErrAt = 0
}

// FailCreateOrderAt fails only the n-th (1-based) CreateOrder call
func (m *MockExchange) FailCreateOrderAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
	m.createErrAt = n
}

// FailClosePosition makes ClosePosition return err
func (m *MockExchange) FailClosePosition(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// FailBalance makes Balance return err
func (m *MockExchange) FailBalance(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
}

// FailOrderBook makes OrderBook return err
func (m *MockExchange) FailOrderBook(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderBookErr = err
}

// SetDelay makes order and close calls sleep first
func (m *MockExchange) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockExchange) Balance(ctx context.Context, asset string) (core.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	if m.balanceErr != nil {
		return core.Balance{}, m.balanceErr
	}
	return m.balance, nil
}

func (m *MockExchange) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[symbol]
	if !ok || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return core.Ticker{}, fmt.Errorf("%s %s: %w", m.name, symbol, apperrors.ErrNoQuote)
	}
	bid, ask := book.Bids[0].Price, book.Asks[0].Price
	return core.Ticker{Bid: bid, Ask: ask, Last: bid.Add(ask).Div(decimal.NewFromInt(2)), Timestamp: time.Now()}, nil
}

func (m *MockExchange) OrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderBookCalls++
	if m.orderBookErr != nil {
		return core.OrderBook{}, m.orderBookErr
	}
	book, ok := m.books[symbol]
	if !ok {
		return core.OrderBook{Symbol: symbol}, nil
	}
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return book, nil
}

func (m *MockExchange) CreateOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (core.OrderResult, error) {
	m.sleep(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.orderCalls = append(m.orderCalls, OrderCall{Symbol: symbol, Side: side, Amount: amount})
	if m.createErr != nil && (m.createErrAt == 0 || m.createErrAt == len(m.orderCalls)) {
		return core.OrderResult{}, m.createErr
	}

	price, err := m.fillPrice(symbol, side)
	if err != nil {
		return core.OrderResult{}, err
	}

	m.orderSeq++
	m.positions[symbol] = mockPosition{side: side, amount: amount, entry: price}
	return core.OrderResult{
		ID:           fmt.Sprintf("%s-%d", m.name, m.orderSeq),
		Symbol:       symbol,
		Side:         side,
		AveragePrice: price,
		FilledAmount: amount,
		Timestamp:    time.Now(),
	}, nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string) (core.CloseResult, error) {
	m.sleep(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls = append(m.closeCalls, symbol)
	if m.closeErr != nil {
		return core.CloseResult{}, m.closeErr
	}

	pos, ok := m.positions[symbol]
	if !ok {
		return core.CloseResult{}, fmt.Errorf("%s %s: %w", m.name, symbol, apperrors.ErrNoPosition)
	}
	closeSide := pos.side.Opposite()
	price, err := m.fillPrice(symbol, closeSide)
	if err != nil {
		return core.CloseResult{}, err
	}

	pnl := price.Sub(pos.entry).Mul(pos.amount)
	if pos.side == core.SideSell {
		pnl = pnl.Neg()
	}
	delete(m.positions, symbol)

	m.orderSeq++
	return core.CloseResult{
		ID:           fmt.Sprintf("%s-%d", m.name, m.orderSeq),
		Symbol:       symbol,
		Side:         closeSide,
		AveragePrice: price,
		Amount:       pos.amount,
		RealizedPnL:  pnl,
		Timestamp:    time.Now(),
	}, nil
}

func (m *MockExchange) fillPrice(symbol string, side core.Side) (decimal.Decimal, error) {
	book, ok := m.books[symbol]
	levels := book.Asks
	if side == core.SideSell {
		levels = book.Bids
	}
	if !ok || len(levels) == 0 {
		return decimal.Zero, fmt.Errorf("%s %s: %w", m.name, symbol, apperrors.ErrNoQuote)
	}
	return levels[0].Price, nil
}

func (m *MockExchange) sleep(ctx context.Context) {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// OrderCalls returns every CreateOrder invocation in order
func (m *MockExchange) OrderCalls() []OrderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderCall(nil), m.orderCalls...)
}

// CloseCalls returns the symbols ClosePosition was called with
func (m *MockExchange) CloseCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closeCalls...)
}

// OrderBookCalls returns how many depth snapshots were requested
func (m *MockExchange) OrderBookCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderBookCalls
}

// HasPosition reports whether symbol holds an open mock position
func (m *MockExchange) HasPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}
