package websocket

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"arbibot/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestGoroutineLeak(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	time.Sleep(100 * time.Millisecond)
	initialGoroutines := runtime.NumGoroutine()

	client := NewClient("leak", wsURL(server), func(int, []byte) {}, logging.NewNopLogger())
	client.SetPingConfig(10*time.Millisecond, 10*time.Millisecond, time.Second)
	client.SetKeepalive(func(c *Client) error { return c.SendText("Ping") })

	client.Start()
	time.Sleep(200 * time.Millisecond)
	client.Stop()

	time.Sleep(50 * time.Millisecond)
	finalGoroutines := runtime.NumGoroutine()

	// +1 tolerates the server-side handler still unwinding
	assert.LessOrEqual(t, finalGoroutines, initialGoroutines+1, "Possible goroutine leak detected")
}
