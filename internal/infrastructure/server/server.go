// Package server exposes the HTTP status API and the dashboard stream
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"arbibot/internal/auth"
	"arbibot/internal/core"
	"arbibot/internal/engine/arbengine"
	"arbibot/internal/engine/signalengine"
	"arbibot/pkg/liveserver"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// SignalView is the read side of the signal engine
type SignalView interface {
	CurrentStats(symbol string) (signalengine.Stats, bool)
	Symbols() []string
}

// TradeView is the read side of the execution coordinator plus the
// operator close-all action
type TradeView interface {
	ActiveTrades() []core.HedgeTrade
	Exposures() []core.Exposure
	Totals() arbengine.Totals
	Busy() bool
	CloseAll(ctx context.Context) error
}

// FeedView reports exchange session state
type FeedView interface {
	ConnectionStatus() map[string]core.ConnectionStatus
}

// Options configures the server
type Options struct {
	Port           int
	Mode           string
	AllowedOrigins []string
	// Auth guards operator actions; nil leaves them open
	Auth *auth.APIKeyValidator
}

// Server serves /health /status /stats/{symbol} /trades /metrics and /ws
type Server struct {
	opts    Options
	logger  core.ILogger
	health  core.IHealthMonitor
	signals SignalView
	trades  TradeView
	feed    FeedView
	hub     *liveserver.Hub
	router  *mux.Router
	started time.Time

	mu  sync.Mutex
	srv *http.Server
}

// NewServer wires the routes. Any view may be nil, its endpoints then
// report 503.
func NewServer(opts Options, health core.IHealthMonitor, signals SignalView, trades TradeView, feed FeedView, logger core.ILogger) *Server {
	s := &Server{
		opts:    opts,
		logger:  logger.WithField("component", "status_server"),
		health:  health,
		signals: signals,
		trades:  trades,
		feed:    feed,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	s.hub = liveserver.NewHub(s.logger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleAllStats).Methods(http.MethodGet)
	s.router.HandleFunc("/stats/{base}/{quote}", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	var closeAll http.Handler = http.HandlerFunc(s.handleCloseAll)
	if s.opts.Auth != nil {
		closeAll = s.opts.Auth.Middleware(closeAll)
	}
	s.router.Handle("/trades/close-all", closeAll).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Handle("/ws", liveserver.NewHandler(s.hub, s.logger, liveserver.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
	}))
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", auth.HeaderAPIKey},
	})
	return c.Handler(s.router)
}

// Hub returns the dashboard hub
func (s *Server) Hub() *liveserver.Hub {
	return s.hub
}

// Run serves on the configured port until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs the hub, the bus stream and the HTTP server on lis until ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Stopping status server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

// streamTopics are forwarded to dashboard clients
var streamTopics = []string{
	core.TopicSpreadUpdate,
	core.TopicDecision,
	core.TopicTradeOpened,
	core.TopicTradeClosed,
	core.TopicEntryRejected,
	core.TopicConnectionStatus,
	core.TopicCriticalAlert,
	core.TopicError,
}

// Stream forwards bus events to the dashboard hub until ctx is done. The
// latest spread per symbol and status per exchange are sticky.
func (s *Server) Stream(ctx context.Context, bus core.IEventBus) {
	sub := bus.Subscribe(512, streamTopics...)
	defer sub.Close()

	out := make(chan liveserver.Event, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				select {
				case out <- toStreamEvent(ev):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	liveserver.Pump(ctx, s.hub, out)
}

func toStreamEvent(ev core.Event) liveserver.Event {
	out := liveserver.Event{Topic: ev.Topic, Payload: ev.Payload}
	switch p := ev.Payload.(type) {
	case core.SpreadUpdate:
		out.Key = p.Symbol
	case core.ConnectionStatus:
		out.Key = p.Exchange
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
	}
	code := http.StatusOK
	if s.health != nil {
		resp["components"] = s.health.GetStatus()
		if !s.health.IsHealthy() {
			resp["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"mode":              s.opts.Mode,
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"dashboard_clients": s.hub.ClientCount(),
	}
	if s.feed != nil {
		resp["connections"] = s.feed.ConnectionStatus()
	}
	if s.signals != nil {
		resp["symbols"] = s.signals.Symbols()
	}
	if s.trades != nil {
		resp["open_positions"] = len(s.trades.ActiveTrades())
		resp["execution_busy"] = s.trades.Busy()
		resp["totals"] = s.trades.Totals()
		resp["exposures"] = s.trades.Exposures()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAllStats(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		respondError(w, http.StatusServiceUnavailable, "signal engine not running")
		return
	}
	symbols := s.signals.Symbols()
	sort.Strings(symbols)
	out := make([]signalengine.Stats, 0, len(symbols))
	for _, sym := range symbols {
		if st, ok := s.signals.CurrentStats(sym); ok {
			out = append(out, st)
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// handleStats serves /stats/BTC/USDT, the unified symbol split on its slash
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		respondError(w, http.StatusServiceUnavailable, "signal engine not running")
		return
	}
	vars := mux.Vars(r)
	symbol := vars["base"] + "/" + vars["quote"]
	st, ok := s.signals.CurrentStats(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "symbol not tracked: "+symbol)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondError(w, http.StatusServiceUnavailable, "coordinator not running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":    s.trades.ActiveTrades(),
		"exposures": s.trades.Exposures(),
		"totals":    s.trades.Totals(),
	})
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondError(w, http.StatusServiceUnavailable, "coordinator not running")
		return
	}
	s.logger.Warn("Close-all requested over HTTP", "remote_addr", r.RemoteAddr)
	if err := s.trades.CloseAll(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"closed": true,
		"active": len(s.trades.ActiveTrades()),
	})
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
