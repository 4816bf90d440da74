// Package safety runs pre-trade checks against both legs of the pair
package safety

import (
	"context"
	"errors"
	"fmt"

	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"

	"github.com/shopspring/decimal"
)

// Params describes what the coordinator is about to trade
type Params struct {
	Symbols          []string
	Asset            string
	PositionSizeUSDT decimal.Decimal
	MaxPositions     int
	OrderBookDepth   int
}

// SafetyChecker implements safety validation checks
type SafetyChecker struct {
	logger core.ILogger
}

// NewSafetyChecker creates a new safety checker
func NewSafetyChecker(logger core.ILogger) *SafetyChecker {
	return &SafetyChecker{
		logger: logger.WithField("component", "safety"),
	}
}

// CheckAccountSafety verifies that every exchange can fund at least one leg
// and that every symbol is listed. It returns the first fatal problem.
// Transient venue errors are logged and tolerated.
func (s *SafetyChecker) CheckAccountSafety(ctx context.Context, exchanges map[string]core.IExchange, p Params) error {
	if err := s.ValidateTradingParameters(p); err != nil {
		return err
	}

	for name, ex := range exchanges {
		bal, err := ex.Balance(ctx, p.Asset)
		if err != nil {
			return fmt.Errorf("%s: balance check failed: %w", name, err)
		}
		if !bal.Free.IsPositive() {
			return fmt.Errorf("%s: insufficient account balance: %s", name, bal.Free)
		}

		maxAllowed := s.calculateMaxPositions(bal.Free, p.PositionSizeUSDT)
		s.logger.Info("Account info retrieved",
			"exchange", name,
			"free", bal.Free.StringFixed(2),
			"total", bal.Total.StringFixed(2),
			"max_allowed_positions", maxAllowed)
		if maxAllowed == 0 {
			return fmt.Errorf("%s: free balance %s cannot fund one position of %s %s: %w",
				name, bal.Free.StringFixed(2), p.PositionSizeUSDT, p.Asset, apperrors.ErrInsufficientFunds)
		}
		if p.MaxPositions > maxAllowed {
			s.logger.Warn("Configured max_positions exceeds what the balance can fund",
				"exchange", name,
				"max_positions", p.MaxPositions,
				"max_allowed", maxAllowed)
		}

		for _, symbol := range p.Symbols {
			if err := s.CheckExchangeConnectivity(ctx, ex, symbol, p.OrderBookDepth); err != nil {
				if isFatal(err) {
					return err
				}
				s.logger.Warn("Connectivity check failed, continuing", "exchange", name, "symbol", symbol, "error", err)
			}
		}
	}

	s.logger.Info("Account safety check completed successfully", "exchanges", len(exchanges), "symbols", len(p.Symbols))
	return nil
}

// calculateMaxPositions is how many full-size legs fit in 80% of free balance
func (s *SafetyChecker) calculateMaxPositions(free, positionSize decimal.Decimal) int {
	if !positionSize.IsPositive() {
		return 0
	}
	return int(free.Mul(decimal.NewFromFloat(0.8)).Div(positionSize).IntPart())
}

// ValidateTradingParameters validates trading parameters for safety
func (s *SafetyChecker) ValidateTradingParameters(p Params) error {
	if len(p.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	if !p.PositionSizeUSDT.IsPositive() {
		return fmt.Errorf("position size must be positive: %s", p.PositionSizeUSDT)
	}
	if p.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive: %d", p.MaxPositions)
	}
	if p.MaxPositions > 50 {
		s.logger.Warn("Large max_positions", "max_positions", p.MaxPositions, "recommended_max", 50)
	}
	return nil
}

// CheckExchangeConnectivity fetches a depth snapshot for symbol
func (s *SafetyChecker) CheckExchangeConnectivity(ctx context.Context, exchange core.IExchange, symbol string, depth int) error {
	book, err := exchange.OrderBook(ctx, symbol, depth)
	if err != nil {
		return fmt.Errorf("%s %s: order book access failed: %w", exchange.GetName(), symbol, err)
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return fmt.Errorf("%s %s: empty order book: %w", exchange.GetName(), symbol, apperrors.ErrInsufficientLiquidity)
	}
	s.logger.Debug("Exchange connectivity check passed",
		"exchange", exchange.GetName(),
		"symbol", symbol,
		"bid", book.Bids[0].Price.String(),
		"ask", book.Asks[0].Price.String())
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidSymbol) || errors.Is(err, apperrors.ErrAuthenticationFailed)
}
