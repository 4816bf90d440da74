package signalengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arbibot/internal/core"
	"arbibot/internal/events"
	"arbibot/internal/mock"

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

type fakeFeed struct {
	mu   sync.Mutex
	ch   chan core.Quote
	subs [][]string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan core.Quote, 256)}
}

func (f *fakeFeed) Subscribe(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, append([]string(nil), symbols...))
}

func (f *fakeFeed) Unsubscribe(symbols []string) {}

func (f *fakeFeed) Quotes() <-chan core.Quote { return f.ch }

func (f *fakeFeed) subscribed() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subs...)
}

var pair = core.ExchangePair{A: "bingx", B: "bybit"}

// candles whose close spreads alternate -1/+1: mean 0, std 1
func alternatingCandles(n int) ([]core.Candle, []core.Candle) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var a, b []core.Candle
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		d := 1.0
		if i%2 == 0 {
			d = -1
		}
		a = append(a, core.Candle{OpenTime: ts, Close: 100 + d})
		b = append(b, core.Candle{OpenTime: ts, Close: 100})
	}
	return a, b
}

type harness struct {
	engine   *Engine
	feed     *fakeFeed
	bus      *events.Bus
	histA    *mock.MockHistoryProvider
	histB    *mock.MockHistoryProvider
	now      time.Time
	spreads  core.ISubscription
	decision core.ISubscription
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		feed:  newFakeFeed(),
		bus:   events.NewBus(&MockLogger{}),
		histA: mock.NewMockHistoryProvider("bingx"),
		histB: mock.NewMockHistoryProvider("bybit"),
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.spreads = h.bus.Subscribe(256, core.TopicSpreadUpdate)
	h.decision = h.bus.Subscribe(16, core.TopicDecision)

	h.engine = New(cfg, h.feed, map[string]core.IHistoryProvider{
		"bingx": h.histA,
		"bybit": h.histB,
	}, h.bus, &MockLogger{})
	h.engine.now = func() time.Time { return h.now }

	t.Cleanup(func() {
		h.engine.Stop()
		h.bus.Close()
	})
	return h
}

func (h *harness) quote(exchange string, bid, ask float64) {
	h.feed.ch <- core.Quote{
		Exchange:         exchange,
		Symbol:           "BTC/USDT",
		Bid:              bid,
		Ask:              ask,
		ReceiveTimestamp: h.now,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaselineInterval = time.Hour
	cfg.Fees = map[string]float64{"bingx": 0, "bybit": 0}
	return cfg
}

func drain(sub core.ISubscription, wait time.Duration) []core.Event {
	var out []core.Event
	deadline := time.After(wait)
	for {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func TestEngine_PreloadSeedsBaseline(t *testing.T) {
	h := newHarness(t, testConfig())
	a, b := alternatingCandles(60)
	h.histA.SetCandles("BTC/USDT", a)
	h.histB.SetCandles("BTC/USDT", b)

	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))
	assert.Equal(t, [][]string{{"BTC/USDT"}}, h.feed.subscribed())

	_, ok := h.engine.CurrentStats("BTC/USDT")
	assert.False(t, ok, "no stats before quotes")

	h.quote("bingx", 100, 100)
	h.quote("bybit", 100, 100)

	require.Eventually(t, func() bool {
		_, ok := h.engine.CurrentStats("BTC/USDT")
		return ok
	}, time.Second, 5*time.Millisecond)

	st, _ := h.engine.CurrentStats("BTC/USDT")
	assert.InDelta(t, 0, st.BaselineMean, 1e-9)
	assert.InDelta(t, 1, st.BaselineStd, 1e-9)
	assert.Equal(t, 60, st.HistoryLength)
	assert.InDelta(t, 0, st.ZScore, 1e-9)
}

func TestEngine_EntryFiresOnceAfterDebounce(t *testing.T) {
	h := newHarness(t, testConfig())
	a, b := alternatingCandles(60)
	h.histA.SetCandles("BTC/USDT", a)
	h.histB.SetCandles("BTC/USDT", b)
	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))

	// A is 5 cheaper than B: gross -5
	h.quote("bingx", 99, 100)
	for i := 0; i < 5; i++ {
		h.quote("bybit", 105, 106)
	}

	decisions := drain(h.decision, 200*time.Millisecond)
	require.Len(t, decisions, 1)
	d := decisions[0].Payload.(core.Decision)
	assert.Equal(t, core.DecisionEntry, d.Type)
	assert.Less(t, d.ZScore, -2.0)
	assert.Equal(t, "bingx", d.ExchangeA)
	assert.Equal(t, "bybit", d.ExchangeB)

	updates := drain(h.spreads, 50*time.Millisecond)
	assert.Len(t, updates, 5)
	u := updates[0].Payload.(core.SpreadUpdate)
	assert.InDelta(t, -5, u.GrossSpread, 1e-9)
	assert.Equal(t, pair, u.ExchangePair)

	st, ok := h.engine.CurrentStats("BTC/USDT")
	require.True(t, ok)
	assert.True(t, st.InPosition)
}

func TestEngine_EntryRejectionReturnsToFlat(t *testing.T) {
	h := newHarness(t, testConfig())
	a, b := alternatingCandles(60)
	h.histA.SetCandles("BTC/USDT", a)
	h.histB.SetCandles("BTC/USDT", b)
	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))

	h.quote("bingx", 99, 100)
	for i := 0; i < 3; i++ {
		h.quote("bybit", 105, 106)
	}
	require.Len(t, drain(h.decision, 200*time.Millisecond), 1)

	h.bus.Publish(core.TopicEntryRejected, core.EntryRejection{Symbol: "BTC/USDT", Reason: "insufficient_liquidity"})
	require.Eventually(t, func() bool {
		st, _ := h.engine.CurrentStats("BTC/USDT")
		return !st.InPosition
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		h.quote("bybit", 105, 106)
	}
	assert.Len(t, drain(h.decision, 200*time.Millisecond), 1, "a fresh run of ticks enters again")
}

func TestEngine_EmptyBaselineWarmsUp(t *testing.T) {
	cfg := testConfig()
	cfg.BaselineInterval = 0
	h := newHarness(t, cfg)
	h.histA.SetError(errors.New("boom"))
	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))

	h.quote("bingx", 99, 100)
	for i := 0; i < 12; i++ {
		h.quote("bybit", 105, 106)
	}

	updates := drain(h.spreads, 200*time.Millisecond)
	require.Len(t, updates, 2, "scoring starts once the window holds 10 samples")
	for _, ev := range updates {
		// constant samples have no dispersion
		assert.Equal(t, 0.0, ev.Payload.(core.SpreadUpdate).ZScore)
	}
	assert.Empty(t, drain(h.decision, 20*time.Millisecond))
}

func TestEngine_StaleQuotesSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	a, b := alternatingCandles(60)
	h.histA.SetCandles("BTC/USDT", a)
	h.histB.SetCandles("BTC/USDT", b)
	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))

	h.feed.ch <- core.Quote{Exchange: "bingx", Symbol: "BTC/USDT", Bid: 99, Ask: 100, ReceiveTimestamp: h.now.Add(-time.Minute)}
	h.quote("bybit", 105, 106)
	h.quote("bybit", 105, 106)

	assert.Empty(t, drain(h.spreads, 100*time.Millisecond))
}

func TestEngine_StartAddsOnlyDelta(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))
	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT", "ETH/USDT"}, pair))
	require.NoError(t, h.engine.Start(context.Background(), []string{"ETH/USDT"}, pair))

	assert.Equal(t, [][]string{{"BTC/USDT"}, {"ETH/USDT"}}, h.feed.subscribed())
	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, h.histA.Calls())
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, h.engine.Symbols())

	err := h.engine.Start(context.Background(), []string{"SOL/USDT"}, core.ExchangePair{A: "bybit", B: "bingx"})
	assert.Error(t, err)
}

func TestEngine_StopClosesHistoryClients(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.engine.Start(context.Background(), []string{"BTC/USDT"}, pair))

	h.engine.Stop()
	h.engine.Stop()
	assert.True(t, h.histA.Closed())
	assert.True(t, h.histB.Closed())
	assert.Error(t, h.engine.Start(context.Background(), []string{"ETH/USDT"}, pair))
}
