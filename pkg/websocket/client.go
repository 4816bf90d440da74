// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arbibot/internal/core"
	"arbibot/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Re-exported frame types so callers don't import gorilla directly
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// MessageHandler handles incoming WebSocket frames
type MessageHandler func(messageType int, message []byte)

// KeepaliveFunc sends one application-level heartbeat on the session
type KeepaliveFunc func(c *Client) error

// Client is a resilient WebSocket client.
//
// After a session ends the client waits baseDelay*2^(attempt-1) and redials.
// Once maxAttempts consecutive attempts fail the loop stops and onGiveUp fires.
// The attempt counter resets whenever a dial succeeds.
type Client struct {
	name    string
	url     string
	handler MessageHandler

	baseDelay   time.Duration
	maxAttempts int

	conn      *websocket.Conn
	mu        sync.Mutex
	writeMu   sync.Mutex
	connected atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	started atomic.Bool

	onConnected    func()
	onDisconnected func(attempt int, err error)
	onGiveUp       func(attempts int)
	keepalive      KeepaliveFunc

	pingInterval  time.Duration
	writeWait     time.Duration
	readTimeout   time.Duration
	stopWarnAfter time.Duration

	logger core.ILogger

	// OTel
	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new WebSocket client. name labels logs and metrics.
func NewClient(name, url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	if logger != nil {
		logger = logger.WithField("ws", name)
	}

	return &Client{
		name:          name,
		url:           url,
		handler:       handler,
		baseDelay:     5 * time.Second,
		maxAttempts:   10,
		pingInterval:  20 * time.Second,
		writeWait:     10 * time.Second,
		readTimeout:   60 * time.Second,
		ctx:           ctx,
		stopWarnAfter: 5 * time.Second,
		cancel:        cancel,
		done:          make(chan struct{}),
		tracer:        tracer,
		msgCounter:    msgCounter,
		connCounter:   connCounter,
		latencyHist:   latencyHist,
		logger:        logger,
	}
}

// SetBackoff configures the reconnect base delay and attempt ceiling.
// maxAttempts <= 0 retries forever.
func (c *Client) SetBackoff(baseDelay time.Duration, maxAttempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseDelay = baseDelay
	c.maxAttempts = maxAttempts
}

// SetPingConfig sets the heartbeat interval, the write deadline for control
// frames and the read timeout after which a silent session is dropped.
func (c *Client) SetPingConfig(interval, writeWait, readTimeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.writeWait = writeWait
	c.readTimeout = readTimeout
}

// SetKeepalive replaces the protocol-level ping with an application heartbeat
func (c *Client) SetKeepalive(fn KeepaliveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepalive = fn
}

// SetOnConnected sets the callback for when the connection is established
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnDisconnected sets the callback fired when a session or dial ends.
// attempt is the consecutive failure count including this one.
func (c *Client) SetOnDisconnected(cb func(attempt int, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// SetOnGiveUp sets the callback fired once the attempt ceiling is reached
func (c *Client) SetOnGiveUp(cb func(attempts int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGiveUp = cb
}

// Name returns the label given at construction
func (c *Client) Name() string { return c.name }

// IsConnected reports whether a session is currently open
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Done is closed when the reconnect loop has exited
func (c *Client) Done() <-chan struct{} { return c.done }

// Send marshals message as JSON and writes it as a text frame
func (c *Client) Send(message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal ws message: %w", err)
	}
	return c.write(websocket.TextMessage, payload)
}

// SendText writes a raw text frame
func (c *Client) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *Client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	wait := c.writeWait
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if wait > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(wait))
	}
	return conn.WriteMessage(messageType, payload)
}

// Start connects and begins listening for messages. Calling it twice is a no-op.
func (c *Client) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and returns once the loop and every goroutine
// it started have exited. A slow handler is logged but still waited for.
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(c.stopWarnAfter):
		if c.logger != nil {
			c.logger.Warn("WebSocket client still stopping, waiting for handler to return",
				"after", c.stopWarnAfter)
		}
	}
	<-done
}

// Disconnect drops the current session; the loop reconnects as usual
func (c *Client) Disconnect() {
	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()
	defer close(c.done)

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		err := c.connect()
		if err == nil {
			attempt = 0
			c.connected.Store(true)
			if c.logger != nil {
				c.logger.Info("WebSocket connected", "url", c.url)
			}

			c.mu.Lock()
			onConnected := c.onConnected
			pingInterval := c.pingInterval
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if pingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			err = c.readLoop()
			heartbeatCancel()
			c.connected.Store(false)
		}

		if c.ctx.Err() != nil {
			return
		}

		attempt++

		c.mu.Lock()
		base := c.baseDelay
		maxAttempts := c.maxAttempts
		onDisconnected := c.onDisconnected
		onGiveUp := c.onGiveUp
		c.mu.Unlock()

		if c.logger != nil {
			c.logger.Warn("WebSocket session ended", "url", c.url, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		}
		if onDisconnected != nil {
			onDisconnected(attempt, err)
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			if c.logger != nil {
				c.logger.Error("Max reconnection attempts reached", "url", c.url, "attempts", attempt)
			}
			if onGiveUp != nil {
				onGiveUp(attempt)
			}
			return
		}

		delay := Backoff(base, attempt)
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Backoff returns base*2^(attempt-1), the wait before reconnect attempt+1
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	return base * time.Duration(1<<uint(shift))
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.writeWait
	keepalive := c.keepalive
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			var err error
			if keepalive != nil {
				err = keepalive(c)
			} else {
				c.writeMu.Lock()
				err = conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait))
				c.writeMu.Unlock()
			}
			if err != nil {
				// Closing forces readLoop out so the session is redialed
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url), attribute.String("ws.name", c.name)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("ws.name", c.name)))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		conn.Close()
		return c.ctx.Err()
	}

	readTimeout := c.readTimeout
	if readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() error {
	defer c.closeConn()

	c.mu.Lock()
	conn := c.conn
	readTimeout := c.readTimeout
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	for {
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		start := time.Now()
		c.msgCounter.Add(c.ctx, 1, metric.WithAttributes(attribute.String("ws.name", c.name)))

		if c.handler != nil {
			c.handler(messageType, message)
		}

		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}
