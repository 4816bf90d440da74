package mock

import (
	"context"
	"sync"
)

// Alert is one recorded alert
type Alert struct {
	Level   string
	Title   string
	Message string
	Fields  map[string]string
}

// MockAlerter records alerts instead of sending them
type MockAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (a *MockAlerter) Critical(ctx context.Context, title, message string, fields map[string]string) {
	a.record("CRITICAL", title, message, fields)
}

func (a *MockAlerter) Warn(ctx context.Context, title, message string, fields map[string]string) {
	a.record("WARNING", title, message, fields)
}

func (a *MockAlerter) record(level, title, message string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, Alert{Level: level, Title: title, Message: message, Fields: fields})
}

// Alerts returns the alerts raised so far
func (a *MockAlerter) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Alert(nil), a.alerts...)
}

// CountLevel returns how many alerts of level were raised
func (a *MockAlerter) CountLevel(level string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, al := range a.alerts {
		if al.Level == level {
			n++
		}
	}
	return n
}
