// Package risk halts new entries after a run of losing trades
package risk

import (
	"context"
	"strconv"
	"sync"
	"time"

	"arbibot/internal/core"

	"github.com/shopspring/decimal"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

type CircuitConfig struct {
	MaxConsecutiveLosses int
	MaxDrawdownAmount    decimal.Decimal
	CooldownPeriod       time.Duration
}

// Enabled reports whether any limit is set
func (c CircuitConfig) Enabled() bool {
	return c.MaxConsecutiveLosses > 0 || c.MaxDrawdownAmount.IsPositive()
}

// Status is a point-in-time view for the status API and health checks
type Status struct {
	Open              bool            `json:"open"`
	Reason            string          `json:"reason,omitempty"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	TotalPnL          decimal.Decimal `json:"total_pnl"`
	OpenedAt          time.Time       `json:"opened_at,omitempty"`
}

type CircuitBreaker struct {
	mu                sync.Mutex
	state             CircuitState
	config            CircuitConfig
	consecutiveLosses int
	totalPnL          decimal.Decimal
	lastTripped       time.Time
	reason            string

	alerter core.IAlerter
	logger  core.ILogger
	now     func() time.Time
}

// NewCircuitBreaker creates a closed breaker. alerter may be nil.
func NewCircuitBreaker(config CircuitConfig, alerter core.IAlerter, logger core.ILogger) *CircuitBreaker {
	return &CircuitBreaker{
		state:   CircuitClosed,
		config:  config,
		alerter: alerter,
		logger:  logger.WithField("component", "circuit_breaker"),
		now:     time.Now,
	}
}

// RecordTrade feeds the realized P&L of a closed hedge
func (cb *CircuitBreaker) RecordTrade(pnl decimal.Decimal) {
	cb.mu.Lock()
	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}
	cb.totalPnL = cb.totalPnL.Add(pnl)
	tripped := cb.checkThresholds()
	cb.mu.Unlock()

	if tripped != "" {
		cb.notify(tripped)
	}
}

// checkThresholds returns the trip reason, or "" when nothing changed
func (cb *CircuitBreaker) checkThresholds() string {
	if cb.state == CircuitOpen {
		return ""
	}

	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		cb.trip("max consecutive losses reached")
		return cb.reason
	}

	if cb.config.MaxDrawdownAmount.IsPositive() && cb.totalPnL.LessThan(cb.config.MaxDrawdownAmount.Neg()) {
		cb.trip("max drawdown reached")
		return cb.reason
	}
	return ""
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.state = CircuitOpen
	cb.lastTripped = cb.now()
	cb.reason = reason
}

func (cb *CircuitBreaker) notify(reason string) {
	cb.mu.Lock()
	losses, pnl := cb.consecutiveLosses, cb.totalPnL
	cb.mu.Unlock()

	cb.logger.Error("Circuit breaker tripped, new entries halted",
		"reason", reason,
		"consecutive_losses", losses,
		"total_pnl", pnl.StringFixed(2))
	if cb.alerter != nil {
		cb.alerter.Critical(context.Background(), "Entries halted", reason, map[string]string{
			"consecutive_losses": strconv.Itoa(losses),
			"total_pnl":          pnl.StringFixed(2),
		})
	}
}

// IsTripped reports whether new entries are blocked. An open breaker closes
// itself once the cooldown has elapsed.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return false
	}
	if cb.config.CooldownPeriod > 0 && cb.now().Sub(cb.lastTripped) > cb.config.CooldownPeriod {
		cb.resetLocked()
		cb.logger.Info("Circuit breaker cooldown elapsed, entries resumed")
		return false
	}
	return true
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetLocked()
}

func (cb *CircuitBreaker) resetLocked() {
	cb.state = CircuitClosed
	cb.consecutiveLosses = 0
	cb.totalPnL = decimal.Zero
	cb.reason = ""
}

// Open manually trips the circuit breaker
func (cb *CircuitBreaker) Open(reason string) {
	cb.mu.Lock()
	cb.trip(reason)
	cb.mu.Unlock()
	cb.notify(reason)
}

func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := Status{
		Open:              cb.state == CircuitOpen,
		Reason:            cb.reason,
		ConsecutiveLosses: cb.consecutiveLosses,
		TotalPnL:          cb.totalPnL,
	}
	if st.Open {
		st.OpenedAt = cb.lastTripped
	}
	return st
}

// Watch records every closed trade published on bus until ctx is done
func (cb *CircuitBreaker) Watch(ctx context.Context, bus core.IEventBus) {
	sub := bus.Subscribe(64, core.TopicTradeClosed)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if t, ok := ev.Payload.(core.ClosedTrade); ok {
				cb.RecordTrade(t.RealizedPnL)
			}
		}
	}
}
