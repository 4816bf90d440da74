package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"arbibot/internal/config"
	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"
	"arbibot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBingX struct {
	mu       sync.Mutex
	orders   []url.Values
	position string
}

func (f *fakeBingX) setPosition(amt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = amt
}

func (f *fakeBingX) placed() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.orders...)
}

func (f *fakeBingX) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, data string) {
		_, _ = w.Write([]byte(`{"code":0,"msg":"","data":` + data + `}`))
	}
	signed := func(r *http.Request) bool {
		q := r.URL.Query()
		return r.Header.Get("X-BX-APIKEY") == "key" && q.Get("signature") != "" && q.Get("timestamp") != ""
	}

	mux.HandleFunc("/openApi/swap/v3/quote/klines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("symbol"))
		assert.Empty(t, r.URL.Query().Get("signature"), "public endpoints are unsigned")
		ok(w, `[{"open":"3","close":"3","high":"3","low":"3","volume":"1","time":1700000120000},`+
			`{"open":"2","close":"2","high":"2","low":"2","volume":"1","time":1700000060000},`+
			`{"open":"1","close":"1","high":"1","low":"1","volume":"1","time":1700000000000}]`)
	})
	mux.HandleFunc("/openApi/swap/v2/quote/depth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		ok(w, `{"T":1700000000000,"bids":[["99","1"],["100","2"]],"asks":[["102","1"],["101","3"]]}`)
	})
	mux.HandleFunc("/openApi/swap/v2/quote/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		ok(w, `{"book_ticker":{"symbol":"BTC-USDT","bid_price":100,"ask_price":101,"time":1700000000000}}`)
	})
	mux.HandleFunc("/openApi/swap/v2/user/balance", func(w http.ResponseWriter, r *http.Request) {
		if !signed(r) {
			_, _ = w.Write([]byte(`{"code":100001,"msg":"signature verification failed"}`))
			return
		}
		ok(w, `{"balance":{"asset":"USDT","balance":"1000","availableMargin":"800","usedMargin":"150","freezedMargin":"50"}}`)
	})
	mux.HandleFunc("/openApi/swap/v2/trade/order", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, signed(r))
		if r.Method == http.MethodGet {
			ok(w, `{"order":{"status":"FILLED","avgPrice":"101","executedQty":"0.5","commission":"-0.03"}}`)
			return
		}
		q := r.URL.Query()
		f.mu.Lock()
		f.orders = append(f.orders, q)
		f.mu.Unlock()
		if q.Get("quantity") == "999" {
			_, _ = w.Write([]byte(`{"code":101204,"msg":"Insufficient margin"}`))
			return
		}
		ok(w, `{"order":{"orderId":1735950529123455000,"symbol":"BTC-USDT"}}`)
	})
	mux.HandleFunc("/openApi/swap/v2/user/positions", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, signed(r))
		f.mu.Lock()
		amt := f.position
		f.mu.Unlock()
		if amt == "" {
			ok(w, `[]`)
			return
		}
		ok(w, `[{"symbol":"BTC-USDT","positionSide":"BOTH","positionAmt":"`+amt+`","avgPrice":"100"}]`)
	})
	return mux
}

func newTestExchange(t *testing.T, key string) (*BingXExchange, *fakeBingX) {
	t.Helper()
	fake := &fakeBingX{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	ex := NewBingXExchange(config.ExchangeConfig{
		BaseURL:   server.URL,
		APIKey:    config.Secret(key),
		SecretKey: "secret",
	}, logger)
	ex.fillPollInterval = time.Millisecond
	return ex, fake
}

func TestSigner_SortedQuery(t *testing.T) {
	s := &Signer{APIKey: "key", SecretKey: "secret", Now: func() time.Time { return time.UnixMilli(1700000000000) }}
	req, _ := http.NewRequest(http.MethodGet, "https://open-api.bingx.com/openApi/swap/v2/user/positions?symbol=BTC-USDT", nil)
	require.NoError(t, s.SignRequest(req))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("symbol=BTC-USDT&timestamp=1700000000000"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.URL.Query().Get("signature"))
	assert.Equal(t, "key", req.Header.Get("X-BX-APIKEY"))
}

func TestParseError(t *testing.T) {
	assert.NoError(t, parseError([]byte(`{"code":0,"data":{}}`)))
	assert.ErrorIs(t, parseError([]byte(`{"code":100001}`)), apperrors.ErrAuthenticationFailed)
	assert.ErrorIs(t, parseError([]byte(`{"code":100410}`)), apperrors.ErrRateLimitExceeded)
	assert.ErrorIs(t, parseError([]byte(`{"code":101204}`)), apperrors.ErrInsufficientFunds)
	assert.ErrorIs(t, parseError([]byte(`{"code":109400}`)), apperrors.ErrInvalidSymbol)
	assert.ErrorIs(t, parseError([]byte(`{"code":80001,"msg":"x"}`)), apperrors.ErrOrderRejected)
	assert.Error(t, parseError([]byte(`<html>`)))
}

func TestHistoricalCandles_OldestFirst(t *testing.T) {
	ex, _ := newTestExchange(t, "key")
	candles, err := ex.HistoricalCandles(context.Background(), "BTC/USDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 1.0, candles[0].Close)
	assert.Equal(t, 3.0, candles[2].Close)
}

func TestOrderBookAndTicker(t *testing.T) {
	ex, _ := newTestExchange(t, "key")
	book, err := ex.OrderBook(context.Background(), "BTC/USDT", 5)
	require.NoError(t, err)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(101)))

	tk, err := ex.Ticker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, tk.Bid.Equal(decimal.NewFromInt(100)))
	assert.True(t, tk.Last.Equal(decimal.RequireFromString("100.5")))
}

func TestBalance(t *testing.T) {
	ex, _ := newTestExchange(t, "key")
	bal, err := ex.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(800)))
	assert.True(t, bal.Used.Equal(decimal.NewFromInt(200)))
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(1000)))

	bad, _ := newTestExchange(t, "wrong")
	_, err = bad.Balance(context.Background(), "USDT")
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
}

func TestCreateOrder(t *testing.T) {
	ex, fake := newTestExchange(t, "key")
	ctx := core.WithClientOrderID(context.Background(), "arb-BTCUSDT-B-1")

	res, err := ex.CreateOrder(ctx, "BTC/USDT", core.SideSell, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "1735950529123455000", res.ID)
	assert.True(t, res.FeeCost.Equal(decimal.RequireFromString("0.03")))

	orders := fake.placed()
	require.Len(t, orders, 1)
	assert.Equal(t, "SELL", orders[0].Get("side"))
	assert.Equal(t, "MARKET", orders[0].Get("type"))
	assert.Equal(t, "arb-BTCUSDT-B-1", orders[0].Get("clientOrderID"))
	assert.Empty(t, orders[0].Get("reduceOnly"))

	_, err = ex.CreateOrder(context.Background(), "BTC/USDT", core.SideBuy, decimal.NewFromInt(999))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

func TestClosePosition_Short(t *testing.T) {
	ex, fake := newTestExchange(t, "key")

	_, err := ex.ClosePosition(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)

	fake.setPosition("-0.5")
	res, err := ex.ClosePosition(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, core.SideBuy, res.Side)
	// short from 100 bought back at 101: -(1*0.5) - 0.03
	assert.True(t, res.RealizedPnL.Equal(decimal.RequireFromString("-0.53")), res.RealizedPnL.String())

	orders := fake.placed()
	last := orders[len(orders)-1]
	assert.Equal(t, "BUY", last.Get("side"))
	assert.Equal(t, "true", last.Get("reduceOnly"))
	assert.Equal(t, "0.5", last.Get("quantity"))
}
