package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arbibot/internal/core"
	"arbibot/internal/events"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (l *MockLogger) Debug(msg string, fields ...interface{})               {}
func (l *MockLogger) Info(msg string, fields ...interface{})                {}
func (l *MockLogger) Warn(msg string, fields ...interface{})                {}
func (l *MockLogger) Error(msg string, fields ...interface{})               {}
func (l *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (l *MockLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

// fakeVenue is a websocket endpoint that records inbound text frames per
// connection and lets the test push frames or drop sessions.
type fakeVenue struct {
	server *httptest.Server

	mu       sync.Mutex
	conns    []*gws.Conn
	received [][]string
	writeMu  sync.Mutex
}

func newFakeVenue(t *testing.T) *fakeVenue {
	v := &fakeVenue{}
	upgrader := gws.Upgrader{}
	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.mu.Lock()
		idx := len(v.conns)
		v.conns = append(v.conns, conn)
		v.received = append(v.received, nil)
		v.mu.Unlock()

		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			v.mu.Lock()
			v.received[idx] = append(v.received[idx], string(msg))
			v.mu.Unlock()
		}
	}))
	t.Cleanup(v.server.Close)
	return v
}

func (v *fakeVenue) url() string {
	return "ws" + strings.TrimPrefix(v.server.URL, "http")
}

func (v *fakeVenue) connCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.conns)
}

func (v *fakeVenue) frames(conn int) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if conn >= len(v.received) {
		return nil
	}
	return append([]string(nil), v.received[conn]...)
}

func (v *fakeVenue) countContaining(conn int, substr string) int {
	n := 0
	for _, f := range v.frames(conn) {
		if strings.Contains(f, substr) {
			n++
		}
	}
	return n
}

func (v *fakeVenue) send(t *testing.T, conn int, kind int, data []byte) {
	t.Helper()
	v.mu.Lock()
	c := v.conns[conn]
	v.mu.Unlock()
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	require.NoError(t, c.WriteMessage(kind, data))
}

func (v *fakeVenue) drop(conn int) {
	v.mu.Lock()
	c := v.conns[conn]
	v.mu.Unlock()
	c.Close()
}

func testConfig(url string) Config {
	return Config{
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 5,
		PingInterval:         0,
		ReadTimeout:          5 * time.Second,
		QueueSize:            16,
		URLs:                 map[string]string{"bingx": url},
	}
}

func newBingXManager(t *testing.T, venue *fakeVenue, bus core.IEventBus) *Manager {
	m, err := NewManager([]string{"bingx"}, testConfig(venue.url()), bus, &MockLogger{})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func TestManager_UnknownExchange(t *testing.T) {
	_, err := NewManager([]string{"kraken"}, DefaultConfig(), nil, &MockLogger{})
	assert.Error(t, err)
}

func TestManager_SubscribeIsIdempotent(t *testing.T) {
	venue := newFakeVenue(t)
	m := newBingXManager(t, venue, nil)

	m.Start([]string{"BTC/USDT"})
	require.Eventually(t, func() bool {
		return venue.countContaining(0, "sub_BTC-USDT") == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Subscribe([]string{"ETH/USDT"})
	m.Subscribe([]string{"ETH/USDT"})
	m.Subscribe([]string{"BTC/USDT"})

	require.Eventually(t, func() bool {
		return venue.countContaining(0, `"sub_ETH-USDT"`) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, venue.countContaining(0, `"sub_ETH-USDT"`))
	assert.Equal(t, 1, venue.countContaining(0, `"sub_BTC-USDT"`))
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, m.Symbols())

	m.Unsubscribe([]string{"ETH/USDT"})
	m.Unsubscribe([]string{"ETH/USDT"})
	require.Eventually(t, func() bool {
		return venue.countContaining(0, `"unsub_ETH-USDT"`) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, venue.countContaining(0, `"unsub_ETH-USDT"`))
	assert.Equal(t, []string{"BTC/USDT"}, m.Symbols())
}

func TestManager_ResubscribesAfterReconnect(t *testing.T) {
	venue := newFakeVenue(t)
	m := newBingXManager(t, venue, nil)

	m.Start([]string{"BTC/USDT"})
	require.Eventually(t, func() bool {
		return venue.countContaining(0, "sub_BTC-USDT") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Added mid-session, must survive the drop
	m.Subscribe([]string{"SOL/USDT"})
	require.Eventually(t, func() bool {
		return venue.countContaining(0, "sub_SOL-USDT") == 1
	}, 2*time.Second, 10*time.Millisecond)

	venue.drop(0)

	require.Eventually(t, func() bool {
		return venue.countContaining(1, "sub_BTC-USDT") == 1 &&
			venue.countContaining(1, "sub_SOL-USDT") == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return m.ConnectionStatus()["bingx"].Connected
	}, time.Second, 10*time.Millisecond)
}

func TestManager_GzipQuotesAndPing(t *testing.T) {
	venue := newFakeVenue(t)
	bus := events.NewBus(&MockLogger{})
	defer bus.Close()
	quoteEvents := bus.Subscribe(8, core.TopicQuote)

	m := newBingXManager(t, venue, bus)
	m.Start([]string{"BTC/USDT"})
	require.Eventually(t, func() bool { return venue.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	venue.send(t, 0, gws.BinaryMessage, gz(t, "Ping"))
	venue.send(t, 0, gws.TextMessage, []byte("not json at all"))
	venue.send(t, 0, gws.BinaryMessage, gz(t,
		`{"dataType":"BTC-USDT@ticker","data":{"b":"50000","a":"50002","c":"50001","E":1700000000000}}`))

	select {
	case q := <-m.Quotes():
		assert.Equal(t, "bingx", q.Exchange)
		assert.Equal(t, "BTC/USDT", q.Symbol)
		assert.Equal(t, 50000.0, q.Bid)
		assert.False(t, q.ReceiveTimestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no quote delivered")
	}

	cached, ok := m.LatestQuote("bingx", "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 50002.0, cached.Ask)
	_, ok = m.LatestQuote("bybit", "BTC/USDT")
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		return venue.countContaining(0, "Pong") == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev := <-quoteEvents.C()
	assert.Equal(t, "BTC/USDT", ev.Payload.(core.Quote).Symbol)
}

func TestManager_DropsInvalidAndNewestWhenFull(t *testing.T) {
	venue := newFakeVenue(t)
	cfg := testConfig(venue.url())
	cfg.QueueSize = 1
	m, err := NewManager([]string{"bingx"}, cfg, nil, &MockLogger{})
	require.NoError(t, err)
	defer m.Stop()

	m.Start([]string{"BTC/USDT"})
	require.Eventually(t, func() bool { return venue.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	venue.send(t, 0, gws.TextMessage, []byte(`{"dataType":"BTC-USDT@ticker","data":{"b":"0","a":"0","c":"0"}}`))
	for _, bid := range []string{"100", "101", "102"} {
		venue.send(t, 0, gws.TextMessage, []byte(`{"dataType":"BTC-USDT@ticker","data":{"b":"`+bid+`","a":"103","c":"102"}}`))
	}

	// The cache follows every valid tick even when the queue sheds it
	require.Eventually(t, func() bool {
		q, ok := m.LatestQuote("bingx", "BTC/USDT")
		return ok && q.Bid == 102
	}, 2*time.Second, 10*time.Millisecond)

	q := <-m.Quotes()
	assert.Equal(t, 100.0, q.Bid, "oldest queued quote is kept, newer ones are dropped")
	select {
	case extra := <-m.Quotes():
		t.Fatalf("unexpected extra quote %+v", extra)
	default:
	}
}

func TestManager_PermanentlyDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	bus := events.NewBus(&MockLogger{})
	defer bus.Close()
	statuses := bus.Subscribe(32, core.TopicConnectionStatus)

	cfg := testConfig("ws" + strings.TrimPrefix(server.URL, "http"))
	cfg.MaxReconnectAttempts = 2
	m, err := NewManager([]string{"bingx"}, cfg, bus, &MockLogger{})
	require.NoError(t, err)
	defer m.Stop()

	m.Start([]string{"BTC/USDT"})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-statuses.C():
			st := ev.Payload.(core.ConnectionStatus)
			if st.PermanentlyDown {
				assert.Equal(t, 2, st.Attempt)
				assert.True(t, m.ConnectionStatus()["bingx"].PermanentlyDown)
				return
			}
		case <-deadline:
			t.Fatal("exchange never marked permanently down")
		}
	}
}

func TestManager_StopClosesQuotes(t *testing.T) {
	venue := newFakeVenue(t)
	m, err := NewManager([]string{"bingx"}, testConfig(venue.url()), nil, &MockLogger{})
	require.NoError(t, err)

	m.Start([]string{"BTC/USDT"})
	require.Eventually(t, func() bool { return venue.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	venue.send(t, 0, gws.TextMessage, []byte(`{"dataType":"BTC-USDT@ticker","data":{"b":"1","a":"2","c":"1.5"}}`))
	require.Eventually(t, func() bool {
		_, ok := m.LatestQuote("bingx", "BTC/USDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()

	_, open := <-m.Quotes()
	assert.False(t, open, "quotes channel must be drained and closed")

	// Calls after stop are harmless
	m.Subscribe([]string{"ETH/USDT"})
	m.Start([]string{"ETH/USDT"})
}
