// Package arbengine executes hedge trades across two exchanges in response
// to signal engine decisions.
package arbengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arbibot/internal/core"
	"arbibot/internal/trading/arbitrage"
	apperrors "arbibot/pkg/errors"
	"arbibot/pkg/telemetry"
	"arbibot/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Rejection reasons reported on entry_rejected
const (
	ReasonBusy                 = "busy"
	ReasonPositionExists       = "position_exists"
	ReasonPositionLimit        = "position_limit"
	ReasonQueueFull            = "queue_full"
	ReasonUnknownExchange      = "unknown_exchange"
	ReasonOrderBookUnavailable = "orderbook_unavailable"
	ReasonInsufficientLiq      = "insufficient_liquidity"
	ReasonBalanceUnavailable   = "balance_unavailable"
	ReasonInsufficientBalance  = "insufficient_balance"
	ReasonLegAFailed           = "leg_a_failed"
	ReasonRolledBack           = "leg_b_failed_rolled_back"
	ReasonRollbackFailed       = "rollback_failed"
	ReasonShutdown             = "shutdown"
	ReasonCircuitOpen          = "circuit_open"
)

// Totals are the cumulative outcomes since start
type Totals struct {
	TradesOpened     int             `json:"trades_opened"`
	TradesClosed     int             `json:"trades_closed"`
	EntriesRejected  int             `json:"entries_rejected"`
	Rollbacks        int             `json:"rollbacks"`
	RollbackFailures int             `json:"rollback_failures"`
	PartialExits     int             `json:"partial_exits"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
}

type job struct {
	decision core.Decision
	accepted time.Time
}

type activeTrade struct {
	trade   core.HedgeTrade
	closing bool
}

// Coordinator turns decisions into two-legged trades. Entries are accepted
// one at a time: the busy flag is claimed when an ENTRY is accepted and held
// until the single worker finishes it.
type Coordinator struct {
	cfg       Config
	exchanges map[string]core.IExchange
	bus       core.IEventBus
	alerter   core.IAlerter
	logger    core.ILogger
	tracer    trace.Tracer
	now       func() time.Time

	busy  atomic.Bool
	queue chan job
	gate  EntryGate

	mu        sync.RWMutex
	active    map[string]*activeTrade
	exposures map[string]core.Exposure
	totals    Totals

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator creates a coordinator over exchanges keyed by name. bus and
// alerter may be nil.
func NewCoordinator(cfg Config, exchanges map[string]core.IExchange, bus core.IEventBus, alerter core.IAlerter, logger core.ILogger) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:       cfg,
		exchanges: exchanges,
		bus:       bus,
		alerter:   alerter,
		logger:    logger.WithField("component", "execution_coordinator"),
		tracer:    telemetry.GetTracer("arbengine"),
		now:       time.Now,
		queue:     make(chan job, cfg.QueueSize),
		active:    make(map[string]*activeTrade),
		exposures: make(map[string]core.Exposure),
	}
}

// EntryGate can veto new entries, e.g. after a run of losses
type EntryGate interface {
	IsTripped() bool
}

// SetEntryGate installs g. Call before Start.
func (c *Coordinator) SetEntryGate(g EntryGate) {
	c.gate = g
}

// Start launches the worker and, when a bus is set, the decision listener
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return nil
	}
	c.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(1)
	go c.worker(runCtx)

	if c.bus != nil {
		sub := c.bus.Subscribe(c.cfg.QueueSize, core.TopicDecision)
		c.wg.Add(1)
		go c.listen(runCtx, sub)
	}
	c.logger.Info("Execution coordinator started", "max_positions", c.cfg.MaxPositions,
		"position_size_usdt", c.cfg.PositionSizeUSDT.String())
	return nil
}

// Stop cancels the worker and waits for the in-flight job to finish
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	c.wg.Wait()
	c.logger.Info("Execution coordinator stopped", "open_trades", len(c.ActiveTrades()))
}

func (c *Coordinator) listen(ctx context.Context, sub core.ISubscription) {
	defer c.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			d, ok := ev.Payload.(core.Decision)
			if !ok {
				continue
			}
			if err := c.Submit(d); err != nil {
				c.logger.Debug("Decision not accepted", "symbol", d.Symbol, "type", d.Type, "error", err)
			}
		}
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case j := <-c.queue:
			switch j.decision.Type {
			case core.DecisionEntry:
				_, _ = c.executeEntry(ctx, j.decision)
				c.busy.Store(false)
			case core.DecisionExit:
				_, _ = c.executeExit(ctx, j.decision.Symbol)
			}
		}
	}
}

// drain discards queued jobs on shutdown so an accepted entry never leaves
// the busy flag set
func (c *Coordinator) drain() {
	for {
		select {
		case j := <-c.queue:
			if j.decision.Type == core.DecisionEntry {
				c.busy.Store(false)
				c.reject(j.decision, ReasonShutdown)
			}
		default:
			return
		}
	}
}

// Submit accepts a decision for execution. ENTRY decisions are rejected
// immediately, never queued behind another entry, when the coordinator is
// busy, the symbol is already held or the position ceiling is reached.
func (c *Coordinator) Submit(d core.Decision) error {
	switch d.Type {
	case core.DecisionEntry:
		if err := c.acceptEntry(d); err != nil {
			return err
		}
		select {
		case c.queue <- job{decision: d, accepted: c.now()}:
			return nil
		default:
			c.busy.Store(false)
			c.reject(d, ReasonQueueFull)
			return apperrors.ErrQueueFull
		}
	case core.DecisionExit:
		select {
		case c.queue <- job{decision: d, accepted: c.now()}:
			return nil
		default:
			c.logger.Error("Work queue full, exit dropped", "symbol", d.Symbol)
			return apperrors.ErrQueueFull
		}
	default:
		return fmt.Errorf("unknown decision type %q", d.Type)
	}
}

func (c *Coordinator) acceptEntry(d core.Decision) error {
	if reason, err := c.entryGuard(d.Symbol); err != nil {
		c.reject(d, reason)
		return err
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.reject(d, ReasonBusy)
		return apperrors.ErrExecutionBusy
	}
	// an entry that was in flight during the first check may have opened
	// since; re-check against the state the claim now protects
	if reason, err := c.entryGuard(d.Symbol); err != nil {
		c.busy.Store(false)
		c.reject(d, reason)
		return err
	}
	return nil
}

// entryGuard returns the rejection reason for a new entry on symbol, or a nil
// error when none of the guards apply.
func (c *Coordinator) entryGuard(symbol string) (string, error) {
	c.mu.RLock()
	_, held := c.active[symbol]
	exposed := c.exposedLocked(symbol)
	open := len(c.active)
	c.mu.RUnlock()

	switch {
	case c.gate != nil && c.gate.IsTripped():
		return ReasonCircuitOpen, apperrors.ErrCircuitOpen
	case held || exposed:
		return ReasonPositionExists, apperrors.ErrPositionExists
	case open >= c.cfg.MaxPositions:
		return ReasonPositionLimit, apperrors.ErrPositionLimit
	}
	return "", nil
}

func (c *Coordinator) exposedLocked(symbol string) bool {
	for _, e := range c.exposures {
		if e.Symbol == symbol {
			return true
		}
	}
	return false
}

func (c *Coordinator) reject(d core.Decision, reason string) {
	c.mu.Lock()
	c.totals.EntriesRejected++
	c.mu.Unlock()

	telemetry.Inc(context.Background(), telemetry.GetGlobalMetrics().EntriesRejectedTotal,
		attribute.String("symbol", d.Symbol), attribute.String("reason", reason))
	c.logger.Info("Entry rejected", "symbol", d.Symbol, "reason", reason, "z_score", d.ZScore)
	c.publish(core.TopicEntryRejected, core.EntryRejection{
		Symbol:    d.Symbol,
		Reason:    reason,
		ZScore:    d.ZScore,
		Timestamp: c.now(),
	})
}

func (c *Coordinator) pair(d core.Decision) (core.IExchange, core.IExchange, error) {
	exA, okA := c.exchanges[d.ExchangeA]
	exB, okB := c.exchanges[d.ExchangeB]
	if !okA || !okB {
		return nil, nil, fmt.Errorf("%s/%s: %w", d.ExchangeA, d.ExchangeB, apperrors.ErrUnknownExchange)
	}
	return exA, exB, nil
}

// executeEntry runs the two-legged entry. It returns the trade when both
// legs filled. Errors are only returned for faults; a pass on liquidity or
// balance returns nil trade and nil error.
func (c *Coordinator) executeEntry(ctx context.Context, d core.Decision) (*core.HedgeTrade, error) {
	// an entry that reached the exchanges must finish its rollback even during shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OrderTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "arbengine.entry", trace.WithAttributes(
		attribute.String("symbol", d.Symbol), attribute.Float64("z_score", d.ZScore)))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.Record(ctx, telemetry.GetGlobalMetrics().LatencyExecution,
			float64(time.Since(start).Milliseconds()), attribute.String("op", "entry"))
	}()

	log := c.logger.WithFields(map[string]interface{}{"symbol": d.Symbol, "z_score": d.ZScore})

	exA, exB, err := c.pair(d)
	if err != nil {
		c.reject(d, ReasonUnknownExchange)
		return nil, err
	}
	sideA, sideB := arbitrage.EntrySides(d.ZScore)

	var bookA, bookB core.OrderBook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		bookA, err = exA.OrderBook(gctx, d.Symbol, c.cfg.OrderBookDepth)
		return err
	})
	g.Go(func() (err error) {
		bookB, err = exB.OrderBook(gctx, d.Symbol, c.cfg.OrderBookDepth)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn("Order book unavailable", "error", err)
		c.reject(d, ReasonOrderBookUnavailable)
		return nil, nil
	}

	sizing := arbitrage.SizeTrade(bookA, bookB, sideA, sideB, arbitrage.SizingParams{
		MaxSlippagePct: c.cfg.MaxSlippagePct,
		MinDepthUSDT:   c.cfg.MinDepthUSDT,
		SafetyFraction: c.cfg.DepthSafetyFraction,
		MaxNotional:    c.cfg.PositionSizeUSDT,
	})
	if !sizing.OK {
		log.Info("Depth below minimum, skipping entry",
			"depth_a", sizing.DepthA.StringFixed(2), "depth_b", sizing.DepthB.StringFixed(2),
			"min_depth", c.cfg.MinDepthUSDT.String())
		c.reject(d, ReasonInsufficientLiq)
		return nil, nil
	}
	notional := sizing.Notional

	var balA, balB core.Balance
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balA, err = exA.Balance(gctx, c.cfg.QuoteAsset)
		return err
	})
	g.Go(func() (err error) {
		balB, err = exB.Balance(gctx, c.cfg.QuoteAsset)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn("Balance unavailable", "error", err)
		c.reject(d, ReasonBalanceUnavailable)
		return nil, nil
	}
	if balA.Free.LessThan(notional) || balB.Free.LessThan(notional) {
		log.Info("Insufficient balance, skipping entry", "notional", notional.StringFixed(2),
			"free_a", balA.Free.StringFixed(2), "free_b", balB.Free.StringFixed(2))
		c.reject(d, ReasonInsufficientBalance)
		return nil, nil
	}

	amount := tradingutils.AmountForNotional(notional, referencePrice(bookA, bookB, sideA, sideB), 8)
	if !amount.IsPositive() {
		c.reject(d, ReasonInsufficientLiq)
		return nil, nil
	}

	log.Info("Opening hedge", "side_a", sideA, "side_b", sideB,
		"notional", notional.StringFixed(2), "amount", amount.String())

	resA, err := exA.CreateOrder(core.WithClientOrderID(ctx, orderID(d.Symbol, "A", c.now())), d.Symbol, sideA, amount)
	if err != nil {
		span.RecordError(err)
		log.Error("Leg A failed", "exchange", exA.GetName(), "error", err)
		c.reject(d, ReasonLegAFailed)
		return nil, fmt.Errorf("leg A on %s: %w", exA.GetName(), err)
	}

	resB, err := exB.CreateOrder(core.WithClientOrderID(ctx, orderID(d.Symbol, "B", c.now())), d.Symbol, sideB, amount)
	if err != nil {
		span.RecordError(err)
		log.Error("Leg B failed, rolling back leg A", "exchange", exB.GetName(), "error", err)
		return nil, c.rollback(ctx, d, exA, sideA, resA, err)
	}

	trade := core.HedgeTrade{
		Symbol: d.Symbol,
		LegA: core.HedgeLeg{
			Exchange:   exA.GetName(),
			Side:       sideA,
			EntryPrice: resA.AveragePrice,
			OrderID:    resA.ID,
			FeeCost:    resA.FeeCost,
		},
		LegB: core.HedgeLeg{
			Exchange:   exB.GetName(),
			Side:       sideB,
			EntryPrice: resB.AveragePrice,
			OrderID:    resB.ID,
			FeeCost:    resB.FeeCost,
		},
		Amount:      amount,
		EntryTime:   c.now(),
		EntryZScore: d.ZScore,
	}

	c.mu.Lock()
	c.active[d.Symbol] = &activeTrade{trade: trade}
	c.totals.TradesOpened++
	open := len(c.active)
	c.mu.Unlock()

	telemetry.GetGlobalMetrics().SetOpenPositions(open)
	telemetry.Inc(ctx, telemetry.GetGlobalMetrics().TradesOpenedTotal, attribute.String("symbol", d.Symbol))
	log.Info("Hedge opened",
		"leg_a", fmt.Sprintf("%s %s @ %s", trade.LegA.Exchange, trade.LegA.Side, trade.LegA.EntryPrice),
		"leg_b", fmt.Sprintf("%s %s @ %s", trade.LegB.Exchange, trade.LegB.Side, trade.LegB.EntryPrice))
	c.publish(core.TopicTradeOpened, trade)
	return &trade, nil
}

// rollback closes leg A after leg B failed. A failed rollback leaves real
// exposure; it is recorded and alerted but never retried.
func (c *Coordinator) rollback(ctx context.Context, d core.Decision, exA core.IExchange, sideA core.Side, resA core.OrderResult, legErr error) error {
	log := c.logger.WithField("symbol", d.Symbol)

	_, closeErr := exA.ClosePosition(ctx, d.Symbol)
	if closeErr == nil {
		c.mu.Lock()
		c.totals.Rollbacks++
		c.mu.Unlock()
		telemetry.Inc(ctx, telemetry.GetGlobalMetrics().RollbacksTotal, attribute.String("symbol", d.Symbol))
		log.Warn("Leg A rolled back", "exchange", exA.GetName())
		c.reject(d, ReasonRolledBack)
		return fmt.Errorf("leg B: %w", legErr)
	}

	exposure := core.Exposure{
		Symbol:   d.Symbol,
		Exchange: exA.GetName(),
		Side:     sideA,
		OrderID:  resA.ID,
		Reason:   fmt.Sprintf("leg B failed: %v; rollback failed: %v", legErr, closeErr),
		Since:    c.now(),
	}
	c.mu.Lock()
	c.totals.RollbackFailures++
	c.exposures[d.Symbol+"@"+exposure.Exchange] = exposure
	c.mu.Unlock()

	telemetry.Inc(ctx, telemetry.GetGlobalMetrics().RollbackFailuresTotal, attribute.String("symbol", d.Symbol))
	log.Error("CRITICAL: rollback failed, unhedged position requires manual intervention",
		"exchange", exA.GetName(), "side", sideA, "order_id", resA.ID,
		"leg_b_error", legErr, "rollback_error", closeErr)
	c.alert(ctx, "Unhedged position", exposure.Reason, map[string]string{
		"symbol":   d.Symbol,
		"exchange": exposure.Exchange,
		"side":     string(sideA),
		"order_id": resA.ID,
	})
	c.publish(core.TopicCriticalAlert, exposure)
	c.reject(d, ReasonRollbackFailed)
	return fmt.Errorf("%w: %s on %s: %v", apperrors.ErrRollbackFailed, d.Symbol, exA.GetName(), closeErr)
}

// executeExit closes both legs of the symbol's trade. Each leg is closed
// regardless of the other's outcome.
func (c *Coordinator) executeExit(ctx context.Context, symbol string) (*core.ClosedTrade, error) {
	c.mu.Lock()
	at, ok := c.active[symbol]
	if !ok || at.closing {
		c.mu.Unlock()
		c.logger.Debug("Exit for symbol without open trade", "symbol", symbol)
		return nil, nil
	}
	at.closing = true
	trade := at.trade
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OrderTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "arbengine.exit", trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.Record(ctx, telemetry.GetGlobalMetrics().LatencyExecution,
			float64(time.Since(start).Milliseconds()), attribute.String("op", "exit"))
	}()

	log := c.logger.WithField("symbol", symbol)

	legs := []core.HedgeLeg{trade.LegA, trade.LegB}
	results := make([]core.CloseResult, len(legs))
	errs := make([]error, len(legs))
	var wg sync.WaitGroup
	for i, leg := range legs {
		ex, found := c.exchanges[leg.Exchange]
		if !found {
			errs[i] = fmt.Errorf("%s: %w", leg.Exchange, apperrors.ErrUnknownExchange)
			continue
		}
		wg.Add(1)
		go func(i int, ex core.IExchange) {
			defer wg.Done()
			results[i], errs[i] = ex.ClosePosition(ctx, symbol)
		}(i, ex)
	}
	wg.Wait()

	closed := core.ClosedTrade{
		Symbol:      symbol,
		PnLA:        results[0].RealizedPnL,
		PnLB:        results[1].RealizedPnL,
		HoldingTime: c.now().Sub(trade.EntryTime),
		ExitTime:    c.now(),
	}
	closed.RealizedPnL = closed.PnLA.Add(closed.PnLB)

	var failed []core.Exposure
	for i, err := range errs {
		if err == nil {
			continue
		}
		span.RecordError(err)
		failed = append(failed, core.Exposure{
			Symbol:   symbol,
			Exchange: legs[i].Exchange,
			Side:     legs[i].Side,
			OrderID:  legs[i].OrderID,
			Reason:   fmt.Sprintf("close failed: %v", err),
			Since:    c.now(),
		})
	}
	closed.Partial = len(failed) > 0

	c.mu.Lock()
	delete(c.active, symbol)
	for _, e := range failed {
		c.exposures[symbol+"@"+e.Exchange] = e
	}
	c.totals.TradesClosed++
	c.totals.RealizedPnL = c.totals.RealizedPnL.Add(closed.RealizedPnL)
	if closed.Partial {
		c.totals.PartialExits++
	}
	open := len(c.active)
	c.mu.Unlock()

	pnl, _ := closed.RealizedPnL.Float64()
	telemetry.GetGlobalMetrics().SetOpenPositions(open)
	telemetry.Inc(ctx, telemetry.GetGlobalMetrics().TradesClosedTotal, attribute.String("symbol", symbol))
	telemetry.AddFloat(ctx, telemetry.GetGlobalMetrics().PnLRealizedTotal, pnl, attribute.String("symbol", symbol))

	var err error
	if closed.Partial {
		span.SetStatus(codes.Error, "partial exit")
		for _, e := range failed {
			log.Error("CRITICAL: leg still open after exit, symbol remains exposed",
				"exchange", e.Exchange, "side", e.Side, "order_id", e.OrderID, "reason", e.Reason)
			c.alert(ctx, "Partial exit", e.Reason, map[string]string{
				"symbol":   symbol,
				"exchange": e.Exchange,
				"side":     string(e.Side),
			})
			c.publish(core.TopicCriticalAlert, e)
		}
		err = errors.Join(errs...)
	} else {
		log.Info("Hedge closed", "pnl", closed.RealizedPnL.StringFixed(4),
			"pnl_a", closed.PnLA.StringFixed(4), "pnl_b", closed.PnLB.StringFixed(4),
			"holding_time", closed.HoldingTime.String())
	}
	c.publish(core.TopicTradeClosed, closed)
	return &closed, err
}

// CloseAll waits for any in-flight entry, blocks new ones and closes every
// open trade. Used on shutdown.
func (c *Coordinator) CloseAll(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.BusyPollInterval)
	defer ticker.Stop()
	for !c.busy.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	defer c.busy.Store(false)

	var errs []error
	for _, t := range c.ActiveTrades() {
		if _, err := c.executeExit(ctx, t.Symbol); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
		}
	}
	return errors.Join(errs...)
}

// ActiveTrades returns a snapshot of open trades sorted by symbol
func (c *Coordinator) ActiveTrades() []core.HedgeTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.HedgeTrade, 0, len(c.active))
	for _, at := range c.active {
		out = append(out, at.trade)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Exposures returns legs left open by failed rollbacks or partial exits
func (c *Coordinator) Exposures() []core.Exposure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Exposure, 0, len(c.exposures))
	for _, e := range c.exposures {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}

// Totals returns the cumulative counters
func (c *Coordinator) Totals() Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totals
}

// Busy reports whether an entry is in flight
func (c *Coordinator) Busy() bool {
	return c.busy.Load()
}

func (c *Coordinator) publish(topic string, payload interface{}) {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
}

func (c *Coordinator) alert(ctx context.Context, title, msg string, fields map[string]string) {
	if c.alerter != nil {
		c.alerter.Critical(context.WithoutCancel(ctx), title, msg, fields)
	}
}

// referencePrice converts notional to base amount at the average of the two
// best prices the legs will take.
func referencePrice(bookA, bookB core.OrderBook, sideA, sideB core.Side) decimal.Decimal {
	best := func(b core.OrderBook, s core.Side) decimal.Decimal {
		if s == core.SideBuy {
			return b.Asks[0].Price
		}
		return b.Bids[0].Price
	}
	return best(bookA, sideA).Add(best(bookB, sideB)).Div(decimal.NewFromInt(2))
}

func orderID(symbol, leg string, at time.Time) string {
	s := strings.NewReplacer("/", "", "-", "", ":", "").Replace(symbol)
	return fmt.Sprintf("arb-%s-%s-%d", s, leg, at.UnixNano())
}
