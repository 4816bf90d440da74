package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbibot/internal/core"
	apperrors "arbibot/pkg/errors"
	"arbibot/pkg/telemetry"
	"arbibot/pkg/websocket"

	"go.opentelemetry.io/otel/attribute"
)

// Config controls every exchange session the manager owns
type Config struct {
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	ReadTimeout          time.Duration
	QueueSize            int
	// URLs overrides the default stream endpoint per exchange
	URLs map[string]string
}

// DefaultConfig matches the production session settings
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         20 * time.Second,
		ReadTimeout:          60 * time.Second,
		QueueSize:            1000,
	}
}

type session struct {
	proto  Protocol
	client *websocket.Client
	// decoder is replaced in onConnected; both it and the frame handler run
	// on the client's read goroutine
	decoder Decoder
}

// Manager keeps one subscription alive per exchange and fans quotes into a
// single bounded channel.
type Manager struct {
	cfg       Config
	protocols []Protocol
	logger    core.ILogger
	bus       core.IEventBus
	metrics   *telemetry.MetricsHolder
	now       func() time.Time

	quotes   chan core.Quote
	queueMu  sync.RWMutex
	queueEnd bool

	mu       sync.RWMutex
	symbols  map[string]struct{}
	latest   map[string]map[string]core.Quote
	status   map[string]core.ConnectionStatus
	sessions map[string]*session
	started  bool
	stopped  bool
}

// NewManager builds a manager for the named exchanges. bus may be nil.
func NewManager(exchanges []string, cfg Config, bus core.IEventBus, logger core.ILogger) (*Manager, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}

	protocols := make([]Protocol, 0, len(exchanges))
	for _, name := range exchanges {
		p, ok := LookupProtocol(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownExchange, name)
		}
		if u := cfg.URLs[name]; u != "" {
			p.URL = u
		}
		protocols = append(protocols, p)
	}

	m := &Manager{
		cfg:       cfg,
		protocols: protocols,
		logger:    logger.WithField("component", "connection_manager"),
		bus:       bus,
		metrics:   telemetry.GetGlobalMetrics(),
		now:       time.Now,
		quotes:    make(chan core.Quote, cfg.QueueSize),
		symbols:   make(map[string]struct{}),
		latest:    make(map[string]map[string]core.Quote),
		status:    make(map[string]core.ConnectionStatus),
		sessions:  make(map[string]*session),
	}
	for _, p := range protocols {
		m.latest[p.Name] = make(map[string]core.Quote)
		m.status[p.Name] = core.ConnectionStatus{Exchange: p.Name}
	}
	return m, nil
}

// Start adds symbols to the active set and, on first call, opens a session
// per exchange. Later calls behave like Subscribe.
func (m *Manager) Start(symbols []string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.started {
		m.mu.Unlock()
		m.Subscribe(symbols)
		return
	}
	m.started = true
	for _, s := range symbols {
		m.symbols[s] = struct{}{}
	}

	var clients []*websocket.Client
	for _, p := range m.protocols {
		sess := m.newSession(p)
		m.sessions[p.Name] = sess
		clients = append(clients, sess.client)
	}
	m.mu.Unlock()

	m.logger.Info("Starting exchange sessions", "exchanges", len(clients), "symbols", len(symbols))
	for _, c := range clients {
		c.Start()
	}
}

func (m *Manager) newSession(p Protocol) *session {
	sess := &session{proto: p, decoder: p.NewDecoder()}
	log := m.logger.WithField("exchange", p.Name)

	client := websocket.NewClient(p.Name, p.URL, func(kind int, data []byte) {
		m.handleFrame(sess, log, kind, data)
	}, log)
	client.SetBackoff(m.cfg.ReconnectDelay, m.cfg.MaxReconnectAttempts)
	client.SetPingConfig(m.cfg.PingInterval, 10*time.Second, m.cfg.ReadTimeout)
	if p.Keepalive != nil {
		client.SetKeepalive(p.Keepalive)
	}

	client.SetOnConnected(func() {
		sess.decoder = p.NewDecoder()
		symbols := m.Symbols()
		if len(symbols) > 0 {
			m.sendFrames(sess, log, p.SubscribeFrames(symbols))
			log.Info("Replayed subscriptions", "symbols", len(symbols))
		}
		m.setStatus(core.ConnectionStatus{Exchange: p.Name, Connected: true})
	})
	client.SetOnDisconnected(func(attempt int, err error) {
		m.setStatus(core.ConnectionStatus{Exchange: p.Name, Attempt: attempt})
		telemetry.Inc(context.Background(), m.metrics.ReconnectsTotal, attribute.String("exchange", p.Name))
	})
	client.SetOnGiveUp(func(attempts int) {
		log.Error("Exchange permanently down", "attempts", attempts)
		m.setStatus(core.ConnectionStatus{Exchange: p.Name, PermanentlyDown: true, Attempt: attempts})
	})

	sess.client = client
	return sess
}

func (m *Manager) handleFrame(sess *session, log core.ILogger, kind int, data []byte) {
	frame, err := sess.decoder.Decode(kind, data)
	if err != nil {
		log.Warn("Skipping undecodable frame", "error", err, "bytes", len(data))
		return
	}
	if frame.Reply != "" {
		if err := sess.client.SendText(frame.Reply); err != nil {
			log.Warn("Failed to answer server keepalive", "error", err)
		}
	}
	for _, q := range frame.Quotes {
		m.publish(sess.proto.Name, q)
	}
}

func (m *Manager) publish(exchange string, q core.Quote) {
	ctx := context.Background()
	q.Exchange = exchange
	q.ReceiveTimestamp = m.now()

	if !q.Valid() {
		telemetry.Inc(ctx, m.metrics.QuotesDroppedTotal, attribute.String("exchange", exchange), attribute.String("reason", "invalid"))
		return
	}

	m.mu.Lock()
	m.latest[exchange][q.Symbol] = q
	m.mu.Unlock()

	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.queueEnd {
		return
	}

	select {
	case m.quotes <- q:
		telemetry.Inc(ctx, m.metrics.QuotesReceivedTotal, attribute.String("exchange", exchange))
	default:
		telemetry.Inc(ctx, m.metrics.QuotesDroppedTotal, attribute.String("exchange", exchange), attribute.String("reason", "queue_full"))
		m.logger.Warn("Quote queue full, dropping newest quote", "exchange", exchange, "symbol", q.Symbol)
	}

	if m.bus != nil {
		m.bus.Publish(core.TopicQuote, q)
	}
}

// Subscribe adds symbols to the active set and subscribes them on every
// live session. Symbols already active are ignored.
func (m *Manager) Subscribe(symbols []string) {
	delta, sessions := m.mutateSymbols(symbols, true)
	if len(delta) == 0 {
		return
	}
	m.logger.Info("Subscribing symbols", "symbols", delta)
	for _, sess := range sessions {
		if sess.client.IsConnected() {
			m.sendFrames(sess, m.logger.WithField("exchange", sess.proto.Name), sess.proto.SubscribeFrames(delta))
		}
	}
}

// Unsubscribe removes symbols from the active set and unsubscribes them on
// every live session. Symbols not active are ignored.
func (m *Manager) Unsubscribe(symbols []string) {
	delta, sessions := m.mutateSymbols(symbols, false)
	if len(delta) == 0 {
		return
	}
	m.logger.Info("Unsubscribing symbols", "symbols", delta)
	for _, sess := range sessions {
		if sess.client.IsConnected() {
			m.sendFrames(sess, m.logger.WithField("exchange", sess.proto.Name), sess.proto.UnsubscribeFrames(delta))
		}
	}
}

func (m *Manager) mutateSymbols(symbols []string, add bool) ([]string, []*session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var delta []string
	for _, s := range symbols {
		_, active := m.symbols[s]
		switch {
		case add && !active:
			m.symbols[s] = struct{}{}
			delta = append(delta, s)
		case !add && active:
			delete(m.symbols, s)
			for _, quotes := range m.latest {
				delete(quotes, s)
			}
			delta = append(delta, s)
		}
	}

	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return delta, sessions
}

func (m *Manager) sendFrames(sess *session, log core.ILogger, frames []interface{}) {
	for _, f := range frames {
		var err error
		if text, ok := f.(string); ok {
			err = sess.client.SendText(text)
		} else {
			err = sess.client.Send(f)
		}
		if err != nil {
			// The next connect replays the full set, so nothing is lost
			log.Warn("Failed to send control frame", "error", err)
			return
		}
	}
}

func (m *Manager) setStatus(st core.ConnectionStatus) {
	st.Timestamp = m.now()
	m.mu.Lock()
	m.status[st.Exchange] = st
	m.mu.Unlock()

	m.metrics.SetConnectionUp(st.Exchange, st.Connected)
	if m.bus != nil {
		m.bus.Publish(core.TopicConnectionStatus, st)
	}
}

// Symbols returns the active symbol set in sorted order
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LatestQuote returns the last valid quote for an exchange and symbol
func (m *Manager) LatestQuote(exchange, symbol string) (core.Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.latest[exchange][symbol]
	return q, ok
}

// Quotes is the fan-in channel. It is closed by Stop.
func (m *Manager) Quotes() <-chan core.Quote {
	return m.quotes
}

// ConnectionStatus returns a snapshot of every session state
func (m *Manager) ConnectionStatus() map[string]core.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]core.ConnectionStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// Stop closes every session, waits for their goroutines, then drains and
// closes the quote channel.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(c *websocket.Client) {
			defer wg.Done()
			c.Stop()
		}(sess.client)
	}
	wg.Wait()

	m.queueMu.Lock()
	m.queueEnd = true
	drained := 0
	for done := false; !done; {
		select {
		case <-m.quotes:
			drained++
		default:
			done = true
		}
	}
	close(m.quotes)
	m.queueMu.Unlock()

	m.logger.Info("Connection manager stopped", "drained_quotes", drained)
}
