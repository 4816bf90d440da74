package base

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbibot/internal/config"
	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"
	apphttp "arbibot/pkg/http"

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

func TestBaseAdapter_MapsErrorsOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			_, _ = w.Write([]byte(`{"code":1}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer server.Close()

	b := NewBaseAdapter("venue", config.ExchangeConfig{BaseURL: server.URL + "/"}, "", nil, apphttp.DefaultOptions(), &MockLogger{})
	b.ParseError = func(body []byte) error {
		if string(body) == `{"code":1}` {
			return apperrors.ErrOrderRejected
		}
		return nil
	}

	_, err := b.Get(context.Background(), "/ok", nil)
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "/bad", nil)
	assert.True(t, errors.Is(err, apperrors.ErrOrderRejected))
	assert.Contains(t, err.Error(), "venue")
}

func TestNormalizeBook(t *testing.T) {
	d := decimal.NewFromInt
	book := NormalizeBook(core.OrderBook{
		Bids: []core.PriceLevel{{Price: d(98)}, {Price: d(99)}},
		Asks: []core.PriceLevel{{Price: d(102)}, {Price: d(101)}},
	})
	assert.True(t, book.Bids[0].Price.Equal(d(99)))
	assert.True(t, book.Asks[0].Price.Equal(d(101)))
}

func TestSymbolForms(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ConcatSymbol("btc/usdt"))
	assert.Equal(t, "ETH-USDT", HyphenSymbol("ETH/USDT"))
}
