// Package alert delivers operator alerts to chat channels
package alert

import (
	"context"
	"strconv"
	"sync"
	"time"

	"arbibot/internal/config"
	"arbibot/internal/core"

	"golang.org/x/time/rate"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager fans alerts out to every channel. It implements
// core.IAlerter. Non-critical alerts are rate limited, critical ones never.
type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	limiter  *rate.Limiter
	timeout  time.Duration
	mu       sync.RWMutex
	inflight sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
		limiter:  rate.NewLimiter(rate.Every(10*time.Second), 5),
		timeout:  10 * time.Second,
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Channels returns the number of configured channels
func (am *AlertManager) Channels() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

func (am *AlertManager) Critical(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Critical, fields)
}

func (am *AlertManager) Warn(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Warning, fields)
}

// Alert logs the alert and sends it to every channel without blocking the
// caller. Use Wait to flush pending sends.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	if level == Critical {
		am.logger.Error("Triggering alert", "title", title, "level", level, "message", message)
	} else {
		if !am.limiter.Allow() {
			am.logger.Warn("Alert suppressed by rate limit", "title", title, "level", level)
			return
		}
		am.logger.Info("Triggering alert", "title", title, "level", level)
	}

	am.mu.RLock()
	defer am.mu.RUnlock()

	// the trading path may already be cancelled when it escalates
	base := context.WithoutCancel(ctx)
	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			sendCtx, cancel := context.WithTimeout(base, am.timeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Watch raises a critical alert whenever an exchange session gives up
// reconnecting. It returns when ctx is done.
func (am *AlertManager) Watch(ctx context.Context, bus core.IEventBus) {
	sub := bus.Subscribe(16, core.TopicConnectionStatus)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			st, ok := ev.Payload.(core.ConnectionStatus)
			if !ok || !st.PermanentlyDown {
				continue
			}
			am.Critical(ctx, "Exchange permanently down",
				"Reconnect attempts exhausted, no quotes from this venue until restart",
				map[string]string{
					"exchange": st.Exchange,
					"attempts": strconv.Itoa(st.Attempt),
				})
		}
	}
}

// Wait blocks until in-flight sends finish
func (am *AlertManager) Wait() {
	am.inflight.Wait()
}

// FromConfig builds a manager with every channel that has credentials
func FromConfig(cfg config.AlertConfig, logger core.ILogger) *AlertManager {
	am := NewAlertManager(logger)
	if token := cfg.TelegramToken.Reveal(); token != "" && cfg.TelegramChatID != "" {
		am.AddChannel(NewTelegramChannel(token, cfg.TelegramChatID))
	}
	if hook := cfg.SlackWebhook.Reveal(); hook != "" {
		am.AddChannel(NewSlackChannel(hook))
	}
	if am.Channels() == 0 {
		am.logger.Warn("No alert channels configured, alerts are logged only")
	}
	return am
}
