package mock

import (
	"context"
	"sync"

	"arbibot/internal/core"
)

// MockHistoryProvider serves canned candles per symbol
type MockHistoryProvider struct {
	name    string
	mu      sync.Mutex
	candles map[string][]core.Candle
	err     error
	calls   []string
	closed  bool
}

func NewMockHistoryProvider(name string) *MockHistoryProvider {
	return &MockHistoryProvider{name: name, candles: make(map[string][]core.Candle)}
}

func (h *MockHistoryProvider) GetName() string { return h.name }

// SetCandles installs the series returned for symbol
func (h *MockHistoryProvider) SetCandles(symbol string, candles []core.Candle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candles[symbol] = candles
}

// SetError makes every fetch fail
func (h *MockHistoryProvider) SetError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *MockHistoryProvider) HistoricalCandles(ctx context.Context, symbol string, interval string, limit int) ([]core.Candle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, symbol)
	if h.err != nil {
		return nil, h.err
	}
	c := h.candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]core.Candle(nil), c...), nil
}

// Calls returns the symbols fetched, in call order
func (h *MockHistoryProvider) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Close marks the provider closed
func (h *MockHistoryProvider) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called
func (h *MockHistoryProvider) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
