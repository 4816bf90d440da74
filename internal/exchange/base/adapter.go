// Package base provides common functionality for exchange adapters
package base

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"arbibot/internal/config"
	"arbibot/internal/core"
	apphttp "arbibot/pkg/http"

	"github.com/shopspring/decimal"
)

// ParseErrorFunc maps a venue error body to a sentinel error. It returns nil
// when the body does not carry an error.
type ParseErrorFunc func(body []byte) error

// BaseAdapter holds the REST clients and helpers shared by live adapters.
// Public market data goes through an unsigned client so it works without
// credentials; account and order calls use the signed one.
type BaseAdapter struct {
	Name    string
	Config  config.ExchangeConfig
	Logger  core.ILogger
	Public  *apphttp.Client
	Private *apphttp.Client

	ParseError ParseErrorFunc
}

// NewBaseAdapter creates the public and signed REST clients for baseURL
func NewBaseAdapter(name string, cfg config.ExchangeConfig, defaultURL string, signer apphttp.Signer, opts apphttp.Options, logger core.ILogger) *BaseAdapter {
	url := cfg.BaseURL
	if url == "" {
		url = defaultURL
	}
	url = strings.TrimRight(url, "/")
	return &BaseAdapter{
		Name:    name,
		Config:  cfg,
		Logger:  logger.WithField("exchange", name),
		Public:  apphttp.NewClientWithOptions(url, nil, opts),
		Private: apphttp.NewClientWithOptions(url, signer, opts),
	}
}

// GetName returns the exchange name
func (b *BaseAdapter) GetName() string {
	return b.Name
}

// HasCredentials reports whether signed endpoints can be used
func (b *BaseAdapter) HasCredentials() bool {
	return b.Config.APIKey.Reveal() != "" && b.Config.SecretKey.Reveal() != ""
}

// Get runs an unsigned GET and maps venue errors
func (b *BaseAdapter) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	body, err := b.Public.Get(ctx, path, params)
	return b.check(body, err)
}

// SignedGet runs a signed GET and maps venue errors
func (b *BaseAdapter) SignedGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	body, err := b.Private.Get(ctx, path, params)
	return b.check(body, err)
}

// SignedPost runs a signed POST with a JSON body
func (b *BaseAdapter) SignedPost(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := b.Private.Post(ctx, path, payload)
	return b.check(body, err)
}

// SignedPostQuery runs a signed POST whose parameters travel in the query
func (b *BaseAdapter) SignedPostQuery(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	body, err := b.Private.PostQuery(ctx, path, params)
	return b.check(body, err)
}

// check maps both HTTP-level failures and 200 responses carrying a venue
// error code through ParseError.
func (b *BaseAdapter) check(body []byte, err error) ([]byte, error) {
	if err != nil {
		var apiErr *apphttp.APIError
		if errors.As(err, &apiErr) && b.ParseError != nil {
			if mapped := b.ParseError(apiErr.Body); mapped != nil {
				return nil, fmt.Errorf("%s: %w", b.Name, mapped)
			}
		}
		return nil, fmt.Errorf("%s: %w", b.Name, err)
	}
	if b.ParseError != nil {
		if mapped := b.ParseError(body); mapped != nil {
			return nil, fmt.Errorf("%s: %w", b.Name, mapped)
		}
	}
	return body, nil
}

// Close releases idle connections of both clients
func (b *BaseAdapter) Close() error {
	b.Public.CloseIdleConnections()
	b.Private.CloseIdleConnections()
	return nil
}

// ParseDecimal safely parses a string to decimal
func (b *BaseAdapter) ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseFloat parses a numeric string, returning 0 on failure
func (b *BaseAdapter) ParseFloat(s string) float64 {
	return b.ParseDecimal(s).InexactFloat64()
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *BaseAdapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ParseLevels converts [[price, amount], ...] string pairs
func (b *BaseAdapter) ParseLevels(raw [][]string) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, core.PriceLevel{Price: b.ParseDecimal(lvl[0]), Amount: b.ParseDecimal(lvl[1])})
	}
	return out
}

// NormalizeBook orders bids descending and asks ascending so index 0 is
// always the best price.
func NormalizeBook(book core.OrderBook) core.OrderBook {
	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return book
}

// ConcatSymbol turns BTC/USDT into BTCUSDT
func ConcatSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
}

// HyphenSymbol turns BTC/USDT into BTC-USDT
func HyphenSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "-")
}

