// Package events provides the in-process publish/subscribe bus shared by the
// feed, the signal engine and the coordinator.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"arbibot/internal/core"
)

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Int64
	logger  core.ILogger
	now     func() time.Time
}

// NewBus creates an empty bus
func NewBus(logger core.ILogger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.WithField("component", "event_bus"),
		now:    time.Now,
	}
}

// Publish delivers payload to every subscriber of topic
func (b *Bus) Publish(topic string, payload interface{}) {
	ev := core.Event{Topic: topic, Payload: payload, Timestamp: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		if !sub.deliver(ev) {
			n := b.dropped.Add(1)
			b.logger.Warn("Subscriber buffer full, dropping event",
				"topic", topic, "subscriber", sub.name, "dropped_total", n)
		}
	}
}

// Subscribe registers for the given topics; no topics means every topic
func (b *Bus) Subscribe(buffer int, topics ...string) core.ISubscription {
	return b.SubscribeNamed("", buffer, topics...)
}

// SubscribeNamed is Subscribe with a label used in drop warnings
func (b *Bus) SubscribeNamed(name string, buffer int, topics ...string) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		bus:  b,
		name: name,
		ch:   make(chan core.Event, buffer),
	}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Dropped returns how many deliveries were skipped because of full buffers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Subscription is a live registration on a Bus
type Subscription struct {
	bus    *Bus
	name   string
	topics map[string]struct{}
	ch     chan core.Event
	mu     sync.Mutex
	closed bool
}

// C returns the delivery channel; it is closed when the subscription ends
func (s *Subscription) C() <-chan core.Event {
	return s.ch
}

// Close unregisters the subscription
func (s *Subscription) Close() {
	s.bus.remove(s)
}

func (s *Subscription) wants(topic string) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

func (s *Subscription) deliver(ev core.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
