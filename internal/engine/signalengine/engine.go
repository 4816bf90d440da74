// Package signalengine turns two exchange quote streams into debounced
// ENTRY/EXIT decisions per symbol.
package signalengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"arbibot/internal/core"
	"arbibot/internal/trading/arbitrage"
	"arbibot/pkg/concurrency"
	"arbibot/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// QuoteFeed is what the engine needs from the connection manager
type QuoteFeed interface {
	core.ISubscriber
	Quotes() <-chan core.Quote
}

// Config holds thresholds, baseline sizing and per-exchange taker fees
type Config struct {
	Thresholds       arbitrage.Thresholds
	BaselineWindow   int
	BaselineInterval time.Duration
	MinSamples       int
	PreloadTimeframe string
	MaxQuoteAge      time.Duration
	Fees             map[string]float64
	PreloadWorkers   int
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       arbitrage.Thresholds{ZEntry: 2.0, ZExit: 0.5, MinEntryTicks: 3, MinExitTicks: 5},
		BaselineWindow:   60,
		BaselineInterval: time.Minute,
		MinSamples:       10,
		PreloadTimeframe: "1m",
		MaxQuoteAge:      10 * time.Second,
		Fees:             map[string]float64{},
		PreloadWorkers:   4,
	}
}

// Stats is the observable state of one symbol
type Stats struct {
	Symbol        string    `json:"symbol"`
	Spread        float64   `json:"spread"`
	NetSpreadPct  float64   `json:"net_spread_pct"`
	ZScore        float64   `json:"z_score"`
	InPosition    bool      `json:"in_position"`
	HistoryLength int       `json:"history_length"`
	BaselineMean  float64   `json:"baseline_mean"`
	BaselineStd   float64   `json:"baseline_std"`
	EntryTicks    int       `json:"entry_ticks"`
	ExitTicks     int       `json:"exit_ticks"`
	LastUpdate    time.Time `json:"last_update"`
}

type symbolState struct {
	mu         sync.Mutex
	baseline   *arbitrage.Baseline
	signal     arbitrage.SignalState
	quoteA     core.Quote
	quoteB     core.Quote
	lastAppend time.Time
	last       core.SpreadUpdate
	scored     bool
}

// Engine owns every per-symbol baseline and debounce state. Only the
// decisions it publishes are visible to other components.
type Engine struct {
	cfg     Config
	feed    QuoteFeed
	history map[string]core.IHistoryProvider
	bus     core.IEventBus
	logger  core.ILogger
	pool    *concurrency.WorkerPool
	now     func() time.Time

	startMu sync.Mutex // serializes Start calls
	mu      sync.RWMutex
	pair    core.ExchangePair
	symbols map[string]*symbolState
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine. history is keyed by exchange name.
func New(cfg Config, feed QuoteFeed, history map[string]core.IHistoryProvider, bus core.IEventBus, logger core.ILogger) *Engine {
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 60
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.PreloadTimeframe == "" {
		cfg.PreloadTimeframe = "1m"
	}
	if cfg.PreloadWorkers <= 0 {
		cfg.PreloadWorkers = 4
	}
	log := logger.WithField("component", "signal_engine")
	return &Engine{
		cfg:     cfg,
		feed:    feed,
		history: history,
		bus:     bus,
		logger:  log,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "baseline_preload",
			MaxWorkers:  cfg.PreloadWorkers,
			MaxCapacity: 64,
		}, logger),
		now:     time.Now,
		symbols: make(map[string]*symbolState),
	}
}

// Start begins tracking symbols between the pair's two exchanges. Calling it
// again with more symbols preloads and subscribes only the new ones.
func (e *Engine) Start(ctx context.Context, symbols []string, pair core.ExchangePair) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return errors.New("signal engine stopped")
	}
	if e.running && pair != e.pair {
		e.mu.Unlock()
		return fmt.Errorf("signal engine already running for %s, cannot switch to %s", e.pair, pair)
	}
	e.pair = pair
	var delta []string
	seen := make(map[string]bool)
	for _, s := range symbols {
		if _, ok := e.symbols[s]; ok || seen[s] {
			continue
		}
		seen[s] = true
		delta = append(delta, s)
	}
	e.mu.Unlock()

	sort.Strings(delta)
	if len(delta) > 0 {
		seeds := e.preload(ctx, delta, pair)

		e.mu.Lock()
		for _, s := range delta {
			st := &symbolState{baseline: arbitrage.NewBaseline(e.cfg.BaselineWindow)}
			st.baseline.Seed(seeds[s])
			if st.baseline.Len() > 0 {
				// history covers up to now; next live sample is due one interval later
				st.lastAppend = e.now()
			}
			e.symbols[s] = st
			telemetry.GetGlobalMetrics().SetBaselineSize(s, st.baseline.Len())
		}
		e.mu.Unlock()

		e.feed.Subscribe(delta)
		e.logger.Info("Tracking symbols", "symbols", delta, "pair", pair.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.running = true
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.cancel = cancel
		e.wg.Add(1)
		go e.consume(runCtx)
		if e.bus != nil {
			sub := e.bus.Subscribe(64, core.TopicEntryRejected)
			e.wg.Add(1)
			go e.watchRejections(runCtx, sub)
		}
	}
	return nil
}

// preload fetches candle history for each symbol in parallel. A failed
// symbol gets an empty seed and warms up from live samples instead.
func (e *Engine) preload(ctx context.Context, symbols []string, pair core.ExchangePair) map[string][]float64 {
	provA, okA := e.history[pair.A]
	provB, okB := e.history[pair.B]
	out := make(map[string][]float64, len(symbols))
	if !okA || !okB {
		e.logger.Warn("No history provider for pair, starting with empty baselines", "pair", pair.String())
		return out
	}

	var mu sync.Mutex
	tasks := make([]func(ctx context.Context) error, 0, len(symbols))
	for _, sym := range symbols {
		sym := sym
		tasks = append(tasks, func(ctx context.Context) error {
			var candlesA, candlesB []core.Candle
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				candlesA, err = provA.HistoricalCandles(gctx, sym, e.cfg.PreloadTimeframe, e.cfg.BaselineWindow)
				return err
			})
			g.Go(func() error {
				var err error
				candlesB, err = provB.HistoricalCandles(gctx, sym, e.cfg.PreloadTimeframe, e.cfg.BaselineWindow)
				return err
			})
			if err := g.Wait(); err != nil {
				e.logger.Warn("Baseline preload failed, starting empty", "symbol", sym, "error", err)
				return nil
			}

			spreads := arbitrage.AlignedCloseSpreads(candlesA, candlesB)
			mu.Lock()
			out[sym] = spreads
			mu.Unlock()
			e.logger.Info("Baseline preloaded", "symbol", sym, "samples", len(spreads))
			return nil
		})
	}

	if err := e.pool.RunAll(ctx, tasks); err != nil {
		e.logger.Warn("Baseline preload interrupted", "error", err)
	}
	return out
}

func (e *Engine) consume(ctx context.Context) {
	defer e.wg.Done()
	quotes := e.feed.Quotes()
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			e.onQuote(q)
		}
	}
}

func (e *Engine) watchRejections(ctx context.Context, sub core.ISubscription) {
	defer e.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			rej, ok := ev.Payload.(core.EntryRejection)
			if !ok {
				continue
			}
			e.mu.RLock()
			st := e.symbols[rej.Symbol]
			e.mu.RUnlock()
			if st == nil {
				continue
			}
			st.mu.Lock()
			st.signal.Reset()
			st.mu.Unlock()
			e.logger.Debug("Entry rejected, symbol back to flat", "symbol", rej.Symbol, "reason", rej.Reason)
		}
	}
}

func (e *Engine) onQuote(q core.Quote) {
	e.mu.RLock()
	st := e.symbols[q.Symbol]
	pair := e.pair
	e.mu.RUnlock()
	if st == nil {
		return
	}

	now := e.now()
	var (
		update   core.SpreadUpdate
		decision *core.Decision
		scored   bool
	)

	st.mu.Lock()
	switch q.Exchange {
	case pair.A:
		st.quoteA = q
	case pair.B:
		st.quoteB = q
	default:
		st.mu.Unlock()
		return
	}
	qa, qb := st.quoteA, st.quoteB
	if !qa.Valid() || !qb.Valid() || e.stale(qa, now) || e.stale(qb, now) {
		st.mu.Unlock()
		return
	}

	spread := arbitrage.ComputeSpread(qa, qb, e.cfg.Fees[pair.A], e.cfg.Fees[pair.B])
	if st.baseline.Len() >= e.cfg.MinSamples {
		z := st.baseline.ZScore(spread.Gross)
		update = spread.Update(q.Symbol, z, pair)
		update.Timestamp = now
		st.last = update
		st.scored = true
		scored = true

		if typ, fire := st.signal.Evaluate(z, spread.NetPct, e.cfg.Thresholds); fire {
			decision = &core.Decision{
				Symbol:    q.Symbol,
				Type:      typ,
				ZScore:    z,
				ExchangeA: pair.A,
				ExchangeB: pair.B,
				Timestamp: now,
			}
		}
	}

	if st.lastAppend.IsZero() || now.Sub(st.lastAppend) >= e.cfg.BaselineInterval {
		st.baseline.Append(spread.Gross)
		st.lastAppend = now
		telemetry.GetGlobalMetrics().SetBaselineSize(q.Symbol, st.baseline.Len())
	}
	st.mu.Unlock()

	if !scored {
		return
	}
	telemetry.GetGlobalMetrics().SetSpread(q.Symbol, update.ZScore, update.NetSpreadPct)
	e.publish(core.TopicSpreadUpdate, update)

	if decision != nil {
		telemetry.Inc(context.Background(), telemetry.GetGlobalMetrics().DecisionsTotal,
			attribute.String("symbol", decision.Symbol), attribute.String("type", string(decision.Type)))
		e.logger.Info("Decision",
			"symbol", decision.Symbol, "type", decision.Type, "z_score", decision.ZScore,
			"net_spread_pct", update.NetSpreadPct)
		e.publish(core.TopicDecision, *decision)
	}
}

func (e *Engine) stale(q core.Quote, now time.Time) bool {
	if e.cfg.MaxQuoteAge <= 0 || q.ReceiveTimestamp.IsZero() {
		return false
	}
	return now.Sub(q.ReceiveTimestamp) > e.cfg.MaxQuoteAge
}

func (e *Engine) publish(topic string, payload interface{}) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}

// CurrentStats returns the latest scored state of symbol. It reports false
// until the symbol has a warm baseline and quotes from both exchanges.
func (e *Engine) CurrentStats(symbol string) (Stats, bool) {
	e.mu.RLock()
	st := e.symbols[symbol]
	e.mu.RUnlock()
	if st == nil {
		return Stats{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.scored || st.baseline.Len() < e.cfg.MinSamples {
		return Stats{}, false
	}
	mean, std := st.baseline.Stats()
	return Stats{
		Symbol:        symbol,
		Spread:        st.last.GrossSpread,
		NetSpreadPct:  st.last.NetSpreadPct,
		ZScore:        st.last.ZScore,
		InPosition:    st.signal.InPosition,
		HistoryLength: st.baseline.Len(),
		BaselineMean:  mean,
		BaselineStd:   std,
		EntryTicks:    st.signal.EntryTicks,
		ExitTicks:     st.signal.ExitTicks,
		LastUpdate:    st.last.Timestamp,
	}, true
}

// Symbols returns the tracked symbols, sorted
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Pair returns the exchange pair being compared
func (e *Engine) Pair() core.ExchangePair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pair
}

// Stop cancels the consumer, waits for it and closes history clients
func (e *Engine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.pool.Stop()

	for name, h := range e.history {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				e.logger.Warn("Failed to close history client", "exchange", name, "error", err)
			}
		}
	}
	e.logger.Info("Signal engine stopped")
}
