package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	websocketActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbibot_dashboard_connections",
		Help: "Current number of dashboard WebSocket connections",
	})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbibot_dashboard_rejected_total",
		Help: "Total number of rejected dashboard WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler upgrades dashboard connections and pumps hub messages to them.
// Connections are limited globally and per remote IP.
type Handler struct {
	hub            *Hub
	logger         Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	connSemaphore  chan struct{}

	ipLimiters sync.Map // map[string]*rate.Limiter
	rateLimit  rate.Limit
	rateBurst  int
}

// Options configures the connection limits
type Options struct {
	AllowedOrigins []string
	MaxConnections int
	RatePerSecond  float64
	RateBurst      int
}

// NewHandler creates a WebSocket handler bound to hub
func NewHandler(hub *Hub, logger Logger, opts Options) *Handler {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	h := &Handler{
		hub:            hub,
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
		connSemaphore:  make(chan struct{}, opts.MaxConnections),
		rateLimit:      rate.Limit(opts.RatePerSecond),
		rateBurst:      opts.RateBurst,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts only whitelisted scheme://host origins, or any origin
// when "*" is configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		websocketRejectedTotal.WithLabelValues("missing_origin").Inc()
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || originStr == allowed {
			return true
		}
	}

	if h.logger != nil {
		h.logger.Warn("Rejected dashboard connection from unauthorized origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr)
	}
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !h.limiter(ip).Allow() {
		websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case h.connSemaphore <- struct{}{}:
		websocketActiveConnections.Inc()
		defer func() {
			<-h.connSemaphore
			websocketActiveConnections.Dec()
		}()
	default:
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("WebSocket upgrade failed", "error", err)
		}
		return
	}

	client := NewClient(uuid.NewString())
	h.hub.Register(client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		h.readPump(conn, client)
	}()
	wg.Wait()

	h.hub.Unregister(client)
	conn.Close()
}

// writePump ends when the hub closes the client or a write fails. A failed
// write closes the connection so readPump returns too.
func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh
func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer h.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && h.logger != nil {
				h.logger.Warn("Dashboard read error", "client_id", client.id, "error", err)
			}
			return
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) limiter(ip string) *rate.Limiter {
	if val, ok := h.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	actual, _ := h.ipLimiters.LoadOrStore(ip, rate.NewLimiter(h.rateLimit, h.rateBurst))
	return actual.(*rate.Limiter)
}
