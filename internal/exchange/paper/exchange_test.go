package paper

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (l *MockLogger) Debug(msg string, fields ...interface{})               {}
func (l *MockLogger) Info(msg string, fields ...interface{})                {}
func (l *MockLogger) Warn(msg string, fields ...interface{})                {}
func (l *MockLogger) Error(msg string, fields ...interface{})               {}
func (l *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (l *MockLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

type quoteStub struct {
	mu sync.Mutex
	q  map[string]core.Quote
}

func (s *quoteStub) set(exchange, symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil {
		s.q = make(map[string]core.Quote)
	}
	s.q[exchange+"|"+symbol] = core.Quote{Exchange: exchange, Symbol: symbol, Bid: bid, Ask: ask, ReceiveTimestamp: time.Now()}
}

func (s *quoteStub) LatestQuote(exchange, symbol string) (core.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.q[exchange+"|"+symbol]
	return q, ok
}

func newPaper(t *testing.T, quotes core.IQuoteSource, store Store) *Exchange {
	t.Helper()
	ex, err := NewExchange(context.Background(), Options{
		Name:           "bybit",
		InitialBalance: decimal.NewFromInt(10000),
		FeeRate:        decimal.RequireFromString("0.001"),
	}, quotes, nil, store, &MockLogger{})
	require.NoError(t, err)
	return ex
}

func TestRoundTrip_OnlyFeesCost(t *testing.T) {
	quotes := &quoteStub{}
	quotes.set("bybit", "BTC/USDT", 100, 100)
	ex := newPaper(t, quotes, nil)
	ctx := context.Background()

	res, err := ex.CreateOrder(ctx, "BTC/USDT", core.SideBuy, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, res.FeeCost.Equal(decimal.NewFromInt(1)))
	assert.Contains(t, res.ID, "paper_")

	bal, err := ex.Balance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Used.Equal(decimal.NewFromInt(1000)))
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(8999)))
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(9999)))

	closed, err := ex.ClosePosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, core.SideSell, closed.Side)
	assert.True(t, closed.RealizedPnL.Equal(decimal.NewFromInt(-1)), closed.RealizedPnL.String())

	bal, err = ex.Balance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(9998)), bal.Free.String())
	assert.True(t, bal.Used.IsZero())
}

func TestFillsAtTouch(t *testing.T) {
	quotes := &quoteStub{}
	quotes.set("bybit", "ETH/USDT", 99, 101)
	ex := newPaper(t, quotes, nil)
	ctx := context.Background()

	res, err := ex.CreateOrder(ctx, "ETH/USDT", core.SideSell, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, res.AveragePrice.Equal(decimal.NewFromInt(99)), "sells fill at the bid")

	quotes.set("bybit", "ETH/USDT", 89, 90)
	closed, err := ex.ClosePosition(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.True(t, closed.AveragePrice.Equal(decimal.NewFromInt(90)), "short closes at the ask")
	// (99-90) - 0.09 fee
	assert.True(t, closed.RealizedPnL.Equal(decimal.RequireFromString("8.91")), closed.RealizedPnL.String())
}

func TestRejections(t *testing.T) {
	quotes := &quoteStub{}
	ex := newPaper(t, quotes, nil)
	ctx := context.Background()

	_, err := ex.CreateOrder(ctx, "BTC/USDT", core.SideBuy, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, apperrors.ErrNoQuote)

	quotes.set("bybit", "BTC/USDT", 100, 100)
	_, err = ex.CreateOrder(ctx, "BTC/USDT", core.SideBuy, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	_, err = ex.ClosePosition(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)

	_, err = ex.CreateOrder(ctx, "BTC/USDT", core.SideBuy, decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, "BTC/USDT", core.SideSell, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestOrderBook_SynthesizedFromQuote(t *testing.T) {
	quotes := &quoteStub{}
	quotes.set("bybit", "BTC/USDT", 100, 100)
	ex := newPaper(t, quotes, nil)

	book, err := ex.OrderBook(context.Background(), "BTC/USDT", 5)
	require.NoError(t, err)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Asks[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestSQLiteStore_ReloadsState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bybit.db")
	quotes := &quoteStub{}
	quotes.set("bybit", "BTC/USDT", 100, 100)

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	ex := newPaper(t, quotes, store)
	_, err = ex.CreateOrder(context.Background(), "BTC/USDT", core.SideBuy, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, ex.Close())

	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	restored := newPaper(t, quotes, store)
	defer restored.Close()

	bal, err := restored.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(8999)), bal.Free.String())
	pos := restored.Positions()
	require.Contains(t, pos, "BTC/USDT")
	assert.True(t, pos["BTC/USDT"].Amount.Equal(decimal.NewFromInt(10)))

	_, err = restored.ClosePosition(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	bal, _ = restored.Balance(context.Background(), "USDT")
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(9998)))
}

func TestSQLiteStore_DetectsCorruption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "paper.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	st := newState("bingx", "USDT", decimal.NewFromInt(50))
	require.NoError(t, store.SaveState(ctx, st))

	_, err = store.db.ExecContext(ctx, `UPDATE paper_state SET data = ? WHERE exchange = ?`, `{"exchange":"bingx","free":"1e9"}`, "bingx")
	require.NoError(t, err)

	_, err = store.LoadState(ctx, "bingx")
	assert.ErrorContains(t, err, "checksum")

	missing, err := store.LoadState(ctx, "okx")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
