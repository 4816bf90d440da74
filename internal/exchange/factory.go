// Package exchange builds the venue adapters for the configured trading mode
package exchange

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"arbibot/internal/config"
	"arbibot/internal/core"
	"arbibot/internal/exchange/bingx"
	"arbibot/internal/exchange/bybit"
	"arbibot/internal/exchange/paper"
	apperrors "arbibot/pkg/errors"

	"github.com/shopspring/decimal"
)

// Venue is a live REST adapter: trading capability plus candle history
type Venue interface {
	core.IExchange
	core.IHistoryProvider
	io.Closer
}

// NewVenue creates the live REST adapter for exchangeName
func NewVenue(exchangeName string, cfg *config.Config, logger core.ILogger) (Venue, error) {
	exchangeConfig, exists := cfg.Exchanges[exchangeName]
	if !exists {
		return nil, fmt.Errorf("configuration not found for exchange %s: %w", exchangeName, apperrors.ErrUnknownExchange)
	}

	switch strings.ToLower(exchangeName) {
	case "bybit":
		return bybit.NewBybitExchange(exchangeConfig, logger), nil
	case "bingx":
		return bingx.NewBingXExchange(exchangeConfig, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %s: %w", exchangeName, apperrors.ErrUnknownExchange)
	}
}

// Set holds everything built for the configured exchange pair
type Set struct {
	Exchanges map[string]core.IExchange
	History   map[string]core.IHistoryProvider
	closers   []io.Closer
}

// Close releases adapters and paper stores
func (s *Set) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build creates the trading adapters and history providers for both legs of
// the pair. In PAPER mode orders are simulated against quotes while order
// books and candles still come from the venue's public REST API.
func Build(ctx context.Context, cfg *config.Config, quotes core.IQuoteSource, logger core.ILogger) (*Set, error) {
	set := &Set{
		Exchanges: make(map[string]core.IExchange),
		History:   make(map[string]core.IHistoryProvider),
	}

	for _, name := range []string{cfg.App.ExchangeA, cfg.App.ExchangeB} {
		venue, err := NewVenue(name, cfg, logger)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.closers = append(set.closers, venue)
		set.History[name] = venue

		if cfg.App.Mode == config.ModeLive {
			set.Exchanges[name] = venue
			logger.Info("Live venue ready", "exchange", name)
			continue
		}

		store, err := newPaperStore(cfg.Paper.StateDir, name)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		sim, err := paper.NewExchange(ctx, paper.Options{
			Name:           name,
			Asset:          "USDT",
			InitialBalance: decimal.NewFromFloat(cfg.Paper.InitialBalance),
			FeeRate:        decimal.NewFromFloat(cfg.Exchanges[name].TakerFee),
		}, quotes, venue, store, logger)
		if err != nil {
			_ = store.Close()
			_ = set.Close()
			return nil, err
		}
		set.closers = append(set.closers, sim)
		set.Exchanges[name] = sim
	}
	return set, nil
}

func newPaperStore(dir, name string) (paper.Store, error) {
	if dir == "" {
		return paper.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("paper state dir: %w", err)
	}
	return paper.NewSQLiteStore(filepath.Join(dir, "paper_"+name+".db"))
}
