// Package bootstrap wires the components together and runs them until a
// termination signal arrives
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbibot/internal/alert"
	"arbibot/internal/auth"
	"arbibot/internal/config"
	"arbibot/internal/core"
	"arbibot/internal/engine/arbengine"
	"arbibot/internal/engine/signalengine"
	"arbibot/internal/events"
	"arbibot/internal/exchange"
	"arbibot/internal/feed"
	grpchealth "arbibot/internal/infrastructure/grpc"
	"arbibot/internal/infrastructure/health"
	"arbibot/internal/infrastructure/server"
	"arbibot/internal/risk"
	"arbibot/internal/safety"
	"arbibot/internal/trading/arbitrage"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// App holds every long-lived component
type App struct {
	Cfg    *Config
	Logger core.ILogger

	Bus         *events.Bus
	Feed        *feed.Manager
	Venues      *exchange.Set
	Signals     *signalengine.Engine
	Coordinator *arbengine.Coordinator
	Breaker     *risk.CircuitBreaker
	Alerts      *alert.AlertManager
	Health      *health.HealthManager
	Server      *server.Server
	GRPC        *grpchealth.HealthService

	mirror *events.RedisMirror
	closer func() error
}

// NewApp builds the components for cfg. Nothing is started.
func NewApp(ctx context.Context, cfg *Config, logger core.ILogger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}
	pair := []string{cfg.App.ExchangeA, cfg.App.ExchangeB}

	a.Bus = events.NewBus(logger)

	feedCfg := feed.Config{
		ReconnectDelay:       cfg.WebSocket.ReconnectDelay,
		MaxReconnectAttempts: cfg.WebSocket.MaxReconnectAttempts,
		PingInterval:         cfg.WebSocket.PingInterval,
		ReadTimeout:          cfg.WebSocket.ReadTimeout,
		QueueSize:            cfg.WebSocket.QueueSize,
		URLs:                 make(map[string]string),
	}
	for _, name := range pair {
		if u := cfg.Exchanges[name].WSURL; u != "" {
			feedCfg.URLs[name] = u
		}
	}
	fm, err := feed.NewManager(pair, feedCfg, a.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}
	a.Feed = fm

	venues, err := exchange.Build(ctx, cfg, fm, logger)
	if err != nil {
		return nil, fmt.Errorf("exchanges: %w", err)
	}
	a.Venues = venues
	a.closer = venues.Close

	a.Alerts = alert.FromConfig(cfg.Alert, logger)

	sigCfg := signalengine.Config{
		Thresholds: arbitrage.Thresholds{
			ZEntry:        cfg.Signal.ZEntry,
			ZExit:         cfg.Signal.ZExit,
			MinEntryTicks: cfg.Signal.MinEntryTicks,
			MinExitTicks:  cfg.Signal.MinExitTicks,
		},
		BaselineWindow:   cfg.Signal.BaselineWindow,
		BaselineInterval: cfg.Signal.BaselineInterval,
		MinSamples:       cfg.Signal.MinSamples,
		PreloadTimeframe: cfg.Signal.PreloadTimeframe,
		MaxQuoteAge:      cfg.Signal.MaxQuoteAge,
		Fees:             map[string]float64{},
	}
	for _, name := range pair {
		sigCfg.Fees[name] = cfg.Fee(name)
	}
	a.Signals = signalengine.New(sigCfg, fm, venues.History, a.Bus, logger)

	ex := cfg.Execution
	a.Coordinator = arbengine.NewCoordinator(arbengine.Config{
		PositionSizeUSDT:    decimal.NewFromFloat(ex.PositionSizeUSDT),
		MaxPositions:        ex.MaxPositions,
		MaxSlippagePct:      decimal.NewFromFloat(ex.MaxSlippagePct),
		MinDepthUSDT:        decimal.NewFromFloat(ex.MinDepthUSDT),
		DepthSafetyFraction: decimal.NewFromFloat(ex.DepthSafetyFraction),
		OrderBookDepth:      ex.OrderBookDepth,
		QueueSize:           ex.QueueSize,
		BusyPollInterval:    ex.BusyPollInterval,
		OrderTimeout:        ex.OrderTimeout,
		QuoteAsset:          "USDT",
	}, venues.Exchanges, a.Bus, a.Alerts, logger)

	breakerCfg := risk.CircuitConfig{
		MaxConsecutiveLosses: ex.MaxConsecutiveLosses,
		MaxDrawdownAmount:    decimal.NewFromFloat(ex.MaxDrawdownUSDT),
		CooldownPeriod:       ex.LossCooldown,
	}
	if breakerCfg.Enabled() {
		a.Breaker = risk.NewCircuitBreaker(breakerCfg, a.Alerts, logger)
		a.Coordinator.SetEntryGate(a.Breaker)
	}

	a.Health = health.NewHealthManager(logger)
	if a.Breaker != nil {
		a.Health.RegisterOptional("circuit_breaker", func() error {
			if st := a.Breaker.Status(); st.Open {
				return errors.New(st.Reason)
			}
			return nil
		})
	}
	a.Health.Register("connection_manager", func() error {
		for _, st := range fm.ConnectionStatus() {
			if st.Connected {
				return nil
			}
		}
		return errors.New("no exchange connected")
	})
	a.Health.Register("execution_coordinator", func() error {
		if exp := a.Coordinator.Exposures(); len(exp) > 0 {
			return fmt.Errorf("%d unhedged exposure(s), first on %s", len(exp), exp[0].Symbol)
		}
		return nil
	})
	for _, name := range pair {
		name := name
		a.Health.RegisterOptional("feed_"+name, func() error {
			st := fm.ConnectionStatus()[name]
			switch {
			case st.PermanentlyDown:
				return errors.New("permanently down")
			case !st.Connected:
				return errors.New("disconnected")
			}
			return nil
		})
	}

	srvOpts := server.Options{
		Port:           cfg.Server.HTTPPort,
		Mode:           cfg.App.Mode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	var keys []string
	for _, k := range cfg.Server.APIKeys {
		if k.Reveal() != "" {
			keys = append(keys, k.Reveal())
		}
	}
	if len(keys) > 0 {
		srvOpts.Auth = auth.NewAPIKeyValidator(keys, 0, logger)
	} else if cfg.App.Mode == config.ModeLive {
		logger.Warn("No server.api_keys configured, operator endpoints are unauthenticated")
	}
	a.Server = server.NewServer(srvOpts, a.Health, a.Signals, a.Coordinator, fm, logger)
	a.GRPC = grpchealth.NewHealthService(pair, logger)

	if cfg.Events.RedisAddr != "" {
		rdb, err := events.NewRedisClient(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword.Reveal())
		if err != nil {
			// the mirror is an optional sink
			logger.Warn("Redis mirror disabled", "addr", cfg.Events.RedisAddr, "error", err)
		} else {
			a.mirror = events.NewRedisMirror(a.Bus, rdb, cfg.Events.ChannelPrefix, cfg.Events.BufferSize, logger)
			venuesClose := a.closer
			a.closer = func() error {
				_ = rdb.Close()
				return venuesClose()
			}
			a.Health.RegisterOptional("redis_mirror", func() error {
				return rdb.Ping(context.Background()).Err()
			})
		}
	}

	return a, nil
}

// Runner is a component that runs until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts everything, blocks until SIGINT/SIGTERM or a runner fails, then
// shuts down in dependency order.
func (a *App) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	symbols := a.Cfg.App.Symbols
	pair := core.ExchangePair{A: a.Cfg.App.ExchangeA, B: a.Cfg.App.ExchangeB}
	a.Logger.Info("Starting arbibot",
		"mode", a.Cfg.App.Mode,
		"pair", pair.A+"/"+pair.B,
		"symbols", symbols)

	ex := a.Cfg.Execution
	checker := safety.NewSafetyChecker(a.Logger)
	if err := checker.CheckAccountSafety(ctx, a.Venues.Exchanges, safety.Params{
		Symbols:          symbols,
		Asset:            "USDT",
		PositionSizeUSDT: decimal.NewFromFloat(ex.PositionSizeUSDT),
		MaxPositions:     ex.MaxPositions,
		OrderBookDepth:   ex.OrderBookDepth,
	}); err != nil {
		a.shutdown(false)
		return fmt.Errorf("safety check: %w", err)
	}

	if err := a.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if err := startPipeline(ctx, a.Feed, a.Signals, symbols, pair); err != nil {
		a.shutdown(false)
		return fmt.Errorf("signal engine: %w", err)
	}

	runners := []Runner{
		RunnerFunc(a.Server.Run),
		RunnerFunc(func(ctx context.Context) error { return a.GRPC.Serve(ctx, a.Cfg.Server.GRPCPort) }),
		RunnerFunc(func(ctx context.Context) error { a.GRPC.Watch(ctx, a.Bus); return nil }),
		RunnerFunc(func(ctx context.Context) error { a.Server.Stream(ctx, a.Bus); return nil }),
		RunnerFunc(func(ctx context.Context) error { a.Alerts.Watch(ctx, a.Bus); return nil }),
	}
	if a.Breaker != nil {
		runners = append(runners, RunnerFunc(func(ctx context.Context) error { a.Breaker.Watch(ctx, a.Bus); return nil }))
	}
	if a.mirror != nil {
		runners = append(runners, a.mirror)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Component failed, shutting down", "error", err)
	}
	a.shutdown(a.Cfg.System.CloseOnExit)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("Arbibot shut down gracefully")
	return nil
}

type sessionStarter interface {
	Start(symbols []string)
}

type signalStarter interface {
	Start(ctx context.Context, symbols []string, pair core.ExchangePair) error
}

// startPipeline opens the exchange sessions with an empty symbol set. The
// signal engine subscribes each symbol only after its baseline is preloaded,
// so no quotes queue up before the consumer exists.
func startPipeline(ctx context.Context, feed sessionStarter, signals signalStarter, symbols []string, pair core.ExchangePair) error {
	feed.Start(nil)
	return signals.Start(ctx, symbols, pair)
}

// shutdown stops decisions first, optionally flattens open hedges while
// quotes are still flowing, then stops execution, the feed and the venues.
func (a *App) shutdown(closeAll bool) {
	a.Signals.Stop()

	if closeAll {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.Coordinator.CloseAll(ctx); err != nil {
			a.Logger.Error("Close-all on exit failed", "error", err)
		}
		cancel()
	} else if n := len(a.Coordinator.ActiveTrades()); n > 0 {
		a.Logger.Warn("Exiting with open hedges", "count", n)
	}

	a.Coordinator.Stop()
	a.Feed.Stop()
	if err := a.closer(); err != nil {
		a.Logger.Warn("Failed to close venues", "error", err)
	}
	a.Alerts.Wait()
	a.Bus.Close()
}
