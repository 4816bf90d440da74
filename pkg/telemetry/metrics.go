package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricQuotesReceivedTotal   = "arbibot_quotes_received_total"
	MetricQuotesDroppedTotal    = "arbibot_quotes_dropped_total"
	MetricReconnectsTotal       = "arbibot_ws_reconnects_total"
	MetricConnectionUp          = "arbibot_connection_up"
	MetricDecisionsTotal        = "arbibot_decisions_total"
	MetricEntriesRejectedTotal  = "arbibot_entries_rejected_total"
	MetricTradesOpenedTotal     = "arbibot_trades_opened_total"
	MetricTradesClosedTotal     = "arbibot_trades_closed_total"
	MetricRollbacksTotal        = "arbibot_rollbacks_total"
	MetricRollbackFailuresTotal = "arbibot_rollback_failures_total"
	MetricPnLRealizedTotal      = "arbibot_pnl_realized_total"
	MetricLatencyExecution      = "arbibot_latency_execution_ms"
	MetricZScore                = "arbibot_zscore"
	MetricNetSpreadPct          = "arbibot_net_spread_pct"
	MetricBaselineSize          = "arbibot_baseline_size"
	MetricOpenPositions         = "arbibot_open_positions"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	QuotesReceivedTotal   metric.Int64Counter
	QuotesDroppedTotal    metric.Int64Counter
	ReconnectsTotal       metric.Int64Counter
	DecisionsTotal        metric.Int64Counter
	EntriesRejectedTotal  metric.Int64Counter
	TradesOpenedTotal     metric.Int64Counter
	TradesClosedTotal     metric.Int64Counter
	RollbacksTotal        metric.Int64Counter
	RollbackFailuresTotal metric.Int64Counter
	PnLRealizedTotal      metric.Float64Counter
	LatencyExecution      metric.Float64Histogram

	ConnectionUp  metric.Int64ObservableGauge
	ZScore        metric.Float64ObservableGauge
	NetSpreadPct  metric.Float64ObservableGauge
	BaselineSize  metric.Int64ObservableGauge
	OpenPositions metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	connectionUpMap map[string]int64
	zScoreMap       map[string]float64
	netSpreadMap    map[string]float64
	baselineMap     map[string]int64
	openPositions   int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			connectionUpMap: make(map[string]int64),
			zScoreMap:       make(map[string]float64),
			netSpreadMap:    make(map[string]float64),
			baselineMap:     make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.QuotesReceivedTotal, MetricQuotesReceivedTotal, "Quotes accepted from exchange streams"},
		{&m.QuotesDroppedTotal, MetricQuotesDroppedTotal, "Quotes dropped because they were invalid or the queue was full"},
		{&m.ReconnectsTotal, MetricReconnectsTotal, "WebSocket reconnect attempts"},
		{&m.DecisionsTotal, MetricDecisionsTotal, "Entry and exit decisions emitted"},
		{&m.EntriesRejectedTotal, MetricEntriesRejectedTotal, "Entry decisions rejected by the coordinator"},
		{&m.TradesOpenedTotal, MetricTradesOpenedTotal, "Hedged trades opened"},
		{&m.TradesClosedTotal, MetricTradesClosedTotal, "Hedged trades closed"},
		{&m.RollbacksTotal, MetricRollbacksTotal, "Leg A rollbacks after a failed leg B"},
		{&m.RollbackFailuresTotal, MetricRollbackFailuresTotal, "Rollbacks that left a naked leg"},
	}
	for _, c := range counters {
		*c.target, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
	}

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss in USDT"))
	if err != nil {
		return err
	}

	m.LatencyExecution, err = meter.Float64Histogram(MetricLatencyExecution, metric.WithDescription("Time from decision to both legs filled"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.ConnectionUp, err = meter.Int64ObservableGauge(MetricConnectionUp, metric.WithDescription("Exchange stream state (1=connected, 0=down)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ex, val := range m.connectionUpMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("exchange", ex)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ZScore, err = meter.Float64ObservableGauge(MetricZScore, metric.WithDescription("Latest spread z-score"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.zScoreMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.NetSpreadPct, err = meter.Float64ObservableGauge(MetricNetSpreadPct, metric.WithDescription("Latest net spread after fees in percent of mid"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.netSpreadMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BaselineSize, err = meter.Int64ObservableGauge(MetricBaselineSize, metric.WithDescription("Samples in the rolling spread baseline"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.baselineMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions, metric.WithDescription("Currently open hedged trades"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	return err
}

// SetConnectionUp records the stream state of an exchange
func (m *MetricsHolder) SetConnectionUp(exchange string, up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if up {
		m.connectionUpMap[exchange] = 1
	} else {
		m.connectionUpMap[exchange] = 0
	}
}

// SetSpread records the latest z-score and net spread for a symbol
func (m *MetricsHolder) SetSpread(symbol string, zScore, netPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zScoreMap[symbol] = zScore
	m.netSpreadMap[symbol] = netPct
}

func (m *MetricsHolder) SetBaselineSize(symbol string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselineMap[symbol] = int64(n)
}

func (m *MetricsHolder) SetOpenPositions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = int64(n)
}

// Inc adds one to a counter, tolerating instruments that were never initialized
func Inc(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// AddFloat adds v to a float counter, tolerating uninitialized instruments
func AddFloat(ctx context.Context, c metric.Float64Counter, v float64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, v, metric.WithAttributes(attrs...))
}

// Record observes v on a histogram, tolerating uninitialized instruments
func Record(ctx context.Context, h metric.Float64Histogram, v float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.Record(ctx, v, metric.WithAttributes(attrs...))
}
