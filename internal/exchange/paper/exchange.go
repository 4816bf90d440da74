// Package paper simulates a futures venue on top of live quotes. Buys fill
// at the ask, sells at the bid, and every fill pays the taker fee.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"
	"arbibot/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options configures one simulated venue
type Options struct {
	Name           string
	Asset          string
	InitialBalance decimal.Decimal
	FeeRate        decimal.Decimal
}

// Exchange implements core.IExchange against the quote cache
type Exchange struct {
	opts   Options
	quotes core.IQuoteSource
	books  core.IOrderBookSource
	store  Store
	logger core.ILogger

	mu    sync.Mutex
	state *State
	now   func() time.Time
}

// NewExchange restores the venue from store or starts it at the initial
// balance. books may be nil, in which case order books are synthesized from
// the top of book.
func NewExchange(ctx context.Context, opts Options, quotes core.IQuoteSource, books core.IOrderBookSource, store Store, logger core.ILogger) (*Exchange, error) {
	if opts.Asset == "" {
		opts.Asset = "USDT"
	}
	if store == nil {
		store = NewMemoryStore()
	}
	e := &Exchange{
		opts:   opts,
		quotes: quotes,
		books:  books,
		store:  store,
		logger: logger.WithField("exchange", opts.Name).WithField("mode", "paper"),
		now:    time.Now,
	}

	st, err := store.LoadState(ctx, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("paper %s: load state: %w", opts.Name, err)
	}
	if st == nil {
		st = newState(opts.Name, opts.Asset, opts.InitialBalance)
		e.logger.Info("Paper venue initialised", "balance", opts.InitialBalance.String())
	} else {
		e.logger.Info("Paper venue restored",
			"free", st.Free.String(),
			"used", st.Used.String(),
			"positions", len(st.Positions))
	}
	e.state = st
	return e, nil
}

func (e *Exchange) GetName() string {
	return e.opts.Name
}

func (e *Exchange) Balance(ctx context.Context, asset string) (core.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if asset != e.state.Asset {
		return core.Balance{}, nil
	}
	return core.Balance{
		Free:  e.state.Free,
		Used:  e.state.Used,
		Total: e.state.Free.Add(e.state.Used),
	}, nil
}

func (e *Exchange) quote(symbol string) (core.Quote, error) {
	q, ok := e.quotes.LatestQuote(e.opts.Name, symbol)
	if !ok || !q.Valid() {
		return core.Quote{}, fmt.Errorf("paper %s %s: %w", e.opts.Name, symbol, apperrors.ErrNoQuote)
	}
	return q, nil
}

func (e *Exchange) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	q, err := e.quote(symbol)
	if err != nil {
		return core.Ticker{}, err
	}
	last := q.Last
	if last == 0 {
		last = (q.Bid + q.Ask) / 2
	}
	return core.Ticker{
		Bid:       decimal.NewFromFloat(q.Bid),
		Ask:       decimal.NewFromFloat(q.Ask),
		Last:      decimal.NewFromFloat(last),
		Timestamp: q.ReceiveTimestamp,
	}, nil
}

// OrderBook returns the venue's public book when a source is wired
func (e *Exchange) OrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	if e.books != nil {
		return e.books.OrderBook(ctx, symbol, depth)
	}
	q, err := e.quote(symbol)
	if err != nil {
		return core.OrderBook{}, err
	}
	// without a depth source the top of book is treated as deep enough to
	// absorb the free balance
	e.mu.Lock()
	free := e.state.Free
	e.mu.Unlock()
	bid := decimal.NewFromFloat(q.Bid)
	ask := decimal.NewFromFloat(q.Ask)
	return core.OrderBook{
		Symbol:    symbol,
		Bids:      []core.PriceLevel{{Price: bid, Amount: free.DivRound(bid, 8)}},
		Asks:      []core.PriceLevel{{Price: ask, Amount: free.DivRound(ask, 8)}},
		Timestamp: q.ReceiveTimestamp,
	}, nil
}

// CreateOrder opens or adds to a position. Orders against an existing
// position on the other side are rejected; ClosePosition flattens.
func (e *Exchange) CreateOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (core.OrderResult, error) {
	if !amount.IsPositive() {
		return core.OrderResult{}, fmt.Errorf("paper %s: amount %s: %w", e.opts.Name, amount, apperrors.ErrOrderRejected)
	}
	q, err := e.quote(symbol)
	if err != nil {
		return core.OrderResult{}, err
	}
	price := decimal.NewFromFloat(q.Ask)
	if side == core.SideSell {
		price = decimal.NewFromFloat(q.Bid)
	}
	notional := tradingutils.Notional(price, amount)
	fee := tradingutils.FeeCost(price, amount, e.opts.FeeRate)

	e.mu.Lock()
	defer e.mu.Unlock()

	if notional.Add(fee).GreaterThan(e.state.Free) {
		return core.OrderResult{}, fmt.Errorf("paper %s: need %s have %s: %w",
			e.opts.Name, notional.Add(fee).StringFixed(2), e.state.Free.StringFixed(2), apperrors.ErrInsufficientFunds)
	}

	pos, ok := e.state.Positions[symbol]
	switch {
	case !ok:
		e.state.Positions[symbol] = &Position{Side: side, Amount: amount, EntryPrice: price, Margin: notional}
	case pos.Side == side:
		total := pos.Amount.Add(amount)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Amount).Add(notional).DivRound(total, 12)
		pos.Amount = total
		pos.Margin = pos.Margin.Add(notional)
	default:
		return core.OrderResult{}, fmt.Errorf("paper %s %s: opposite position open: %w", e.opts.Name, symbol, apperrors.ErrOrderRejected)
	}

	e.state.Free = e.state.Free.Sub(notional).Sub(fee)
	e.state.Used = e.state.Used.Add(notional)
	e.state.Fees = e.state.Fees.Add(fee)
	e.state.Orders++
	e.persist(ctx)

	return core.OrderResult{
		ID:           "paper_" + uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		AveragePrice: price,
		FilledAmount: amount,
		FeeCost:      fee,
		Timestamp:    e.now(),
	}, nil
}

// ClosePosition flattens symbol at the opposite touch. RealizedPnL is net of
// the closing fee.
func (e *Exchange) ClosePosition(ctx context.Context, symbol string) (core.CloseResult, error) {
	q, err := e.quote(symbol)
	if err != nil {
		return core.CloseResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.state.Positions[symbol]
	if !ok {
		return core.CloseResult{}, fmt.Errorf("paper %s %s: %w", e.opts.Name, symbol, apperrors.ErrNoPosition)
	}

	closeSide := pos.Side.Opposite()
	exit := decimal.NewFromFloat(q.Bid)
	if closeSide == core.SideBuy {
		exit = decimal.NewFromFloat(q.Ask)
	}
	pnl := tradingutils.LegPnL(pos.Side, pos.EntryPrice, exit, pos.Amount)
	fee := tradingutils.FeeCost(exit, pos.Amount, e.opts.FeeRate)

	e.state.Free = e.state.Free.Add(pos.Margin).Add(pnl).Sub(fee)
	e.state.Used = e.state.Used.Sub(pos.Margin)
	e.state.Fees = e.state.Fees.Add(fee)
	e.state.Orders++
	delete(e.state.Positions, symbol)
	e.persist(ctx)

	return core.CloseResult{
		ID:           "paper_" + uuid.NewString(),
		Symbol:       symbol,
		Side:         closeSide,
		AveragePrice: exit,
		Amount:       pos.Amount,
		RealizedPnL:  pnl.Sub(fee),
		FeeCost:      fee,
		Timestamp:    e.now(),
	}, nil
}

// Positions returns a copy of the open simulated positions
func (e *Exchange) Positions() map[string]Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Position, len(e.state.Positions))
	for k, p := range e.state.Positions {
		out[k] = *p
	}
	return out
}

// persist must be called with mu held. A failed save is logged, the fill
// already happened.
func (e *Exchange) persist(ctx context.Context) {
	e.state.UpdatedAt = e.now()
	if err := e.store.SaveState(context.WithoutCancel(ctx), e.state); err != nil {
		e.logger.Error("Failed to persist paper state", "error", err)
	}
}

// Close releases the store
func (e *Exchange) Close() error {
	return e.store.Close()
}
