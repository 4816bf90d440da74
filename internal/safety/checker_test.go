package safety

import (
	"context"
	"fmt"
	"testing"

	"arbibot/internal/core"
	"arbibot/internal/mock"
	apperrors "arbibot/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func params() Params {
	return Params{
		Symbols:          []string{"BTC/USDT"},
		Asset:            "USDT",
		PositionSizeUSDT: dec("100"),
		MaxPositions:     5,
		OrderBookDepth:   20,
	}
}

func pair() (*mock.MockExchange, *mock.MockExchange, map[string]core.IExchange) {
	a := mock.NewMockExchange("bingx")
	b := mock.NewMockExchange("bybit")
	a.SetTopOfBook("BTC/USDT", dec("50000"), dec("50001"), dec("2"))
	b.SetTopOfBook("BTC/USDT", dec("50002"), dec("50003"), dec("2"))
	return a, b, map[string]core.IExchange{"bingx": a, "bybit": b}
}

func TestSafetyChecker_CheckAccountSafety(t *testing.T) {
	checker := NewSafetyChecker(&mockLogger{})
	_, _, exchanges := pair()

	require.NoError(t, checker.CheckAccountSafety(context.Background(), exchanges, params()))
}

func TestSafetyChecker_BalanceFailures(t *testing.T) {
	checker := NewSafetyChecker(&mockLogger{})

	a, _, exchanges := pair()
	a.SetBalance(dec("50"))
	err := checker.CheckAccountSafety(context.Background(), exchanges, params())
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	a.SetBalance(decimal.Zero)
	err = checker.CheckAccountSafety(context.Background(), exchanges, params())
	assert.ErrorContains(t, err, "insufficient account balance")

	a.SetBalance(dec("1000"))
	a.FailBalance(fmt.Errorf("bingx: %w", apperrors.ErrAuthenticationFailed))
	err = checker.CheckAccountSafety(context.Background(), exchanges, params())
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
}

func TestSafetyChecker_Connectivity(t *testing.T) {
	checker := NewSafetyChecker(&mockLogger{})

	// transient failures and thin books are tolerated
	_, b, exchanges := pair()
	b.FailOrderBook(apperrors.ErrNetwork)
	assert.NoError(t, checker.CheckAccountSafety(context.Background(), exchanges, params()))

	p := params()
	p.Symbols = append(p.Symbols, "DOGE/USDT")
	_, _, exchanges = pair()
	assert.NoError(t, checker.CheckAccountSafety(context.Background(), exchanges, p))

	// an unlisted symbol is fatal
	_, b, exchanges = pair()
	b.FailOrderBook(fmt.Errorf("bybit: %w", apperrors.ErrInvalidSymbol))
	err := checker.CheckAccountSafety(context.Background(), exchanges, params())
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
}

func TestSafetyChecker_ValidateTradingParameters(t *testing.T) {
	checker := NewSafetyChecker(&mockLogger{})

	tests := []struct {
		name        string
		mutate      func(p *Params)
		expectError bool
	}{
		{name: "valid", mutate: func(p *Params) {}},
		{name: "no symbols", mutate: func(p *Params) { p.Symbols = nil }, expectError: true},
		{name: "zero size", mutate: func(p *Params) { p.PositionSizeUSDT = decimal.Zero }, expectError: true},
		{name: "negative max positions", mutate: func(p *Params) { p.MaxPositions = -1 }, expectError: true},
		{name: "large max positions warns only", mutate: func(p *Params) { p.MaxPositions = 80 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			tt.mutate(&p)
			err := checker.ValidateTradingParameters(p)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCalculateMaxPositions(t *testing.T) {
	checker := NewSafetyChecker(&mockLogger{})
	assert.Equal(t, 8, checker.calculateMaxPositions(dec("1000"), dec("100")))
	assert.Equal(t, 0, checker.calculateMaxPositions(dec("100"), dec("100")))
	assert.Equal(t, 0, checker.calculateMaxPositions(dec("1000"), decimal.Zero))
}

// mockLogger implements core.ILogger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }
