package liveserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), headers)
}

func TestHandler_StreamsBroadcasts(t *testing.T) {
	hub := runHub(t)
	srv := httptest.NewServer(NewHandler(hub, nil, Options{AllowedOrigins: []string{"http://localhost:3000"}}))
	defer srv.Close()

	ws, _, err := dial(t, srv.URL, "http://localhost:3000")
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewMessage(TypeTradeOpen, map[string]interface{}{"symbol": "ETH/USDT"}))

	var msg Message
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, TypeTradeOpen, msg.Type)
	assert.Equal(t, "ETH/USDT", msg.Data.(map[string]interface{})["symbol"])

	ws.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandler_OriginCheck(t *testing.T) {
	hub := runHub(t)
	srv := httptest.NewServer(NewHandler(hub, nil, Options{AllowedOrigins: []string{"http://localhost:3000"}}))
	defer srv.Close()

	_, resp, err := dial(t, srv.URL, "http://evil.example")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv.URL, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_ConnectionLimit(t *testing.T) {
	hub := runHub(t)
	srv := httptest.NewServer(NewHandler(hub, nil, Options{AllowedOrigins: []string{"*"}, MaxConnections: 1, RatePerSecond: 100, RateBurst: 100}))
	defer srv.Close()

	first, _, err := dial(t, srv.URL, "http://a")
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := dial(t, srv.URL, "http://a")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandler_RateLimit(t *testing.T) {
	hub := runHub(t)
	srv := httptest.NewServer(NewHandler(hub, nil, Options{AllowedOrigins: []string{"http://a"}, RatePerSecond: 0.001, RateBurst: 1}))
	defer srv.Close()

	_, _, err := dial(t, srv.URL, "http://evil")
	require.Error(t, err, "first attempt consumes the burst")

	_, resp, err := dial(t, srv.URL, "http://a")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
