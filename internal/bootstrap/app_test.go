package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"arbibot/internal/config"
	"arbibot/internal/core"
	"arbibot/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbibot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_SymbolOverride(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "paper")
	path := writeConfig(t, `
app:
  mode: PAPER
  symbols: ["BTC/USDT"]
paper:
  state_dir: `+stateDir+`
`)

	cfg, err := LoadConfig(path, []string{"ETH/USDT", "SOL/USDT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH/USDT", "SOL/USDT"}, cfg.App.Symbols)

	info, err := os.Stat(stateDir)
	require.NoError(t, err, "pre-flight creates the paper state dir")
	assert.True(t, info.IsDir())
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	path := writeConfig(t, "app:\n  mode: PAPER\n")

	_, err := LoadConfig(path, []string{"BTCUSDT"})
	assert.ErrorContains(t, err, "BASE/QUOTE")
}

func TestNewApp_PaperWiring(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paper.StateDir = t.TempDir()

	app, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.closer()) }()

	assert.Len(t, app.Venues.Exchanges, 2)
	assert.Contains(t, app.Venues.Exchanges, "bingx")
	assert.Contains(t, app.Venues.Exchanges, "bybit")
	assert.Nil(t, app.mirror, "no redis address configured")
	assert.Nil(t, app.Breaker, "loss limits are off by default")

	// nothing is connected before Run
	assert.False(t, app.Health.IsHealthy())
	status := app.Health.GetStatus()
	assert.Equal(t, "Healthy", status["execution_coordinator"])
	assert.Contains(t, status["connection_manager"], "no exchange connected")
	assert.Contains(t, status, "feed_bingx")

	_, err = os.Stat(filepath.Join(cfg.Paper.StateDir, "paper_bingx.db"))
	assert.NoError(t, err)
}

func TestNewApp_CircuitBreaker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Execution.MaxConsecutiveLosses = 3

	app, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.closer()) }()

	require.NotNil(t, app.Breaker)
	assert.Equal(t, "Healthy", app.Health.GetStatus()["circuit_breaker"])

	app.Breaker.Open("operator halt")
	assert.Equal(t, "Unhealthy: operator halt", app.Health.GetStatus()["circuit_breaker"])
}

func TestNewApp_UnknownExchange(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.ExchangeA = "kraken"
	cfg.Exchanges["kraken"] = config.ExchangeConfig{Enabled: true}

	_, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestRunnerFunc(t *testing.T) {
	called := false
	var r Runner = RunnerFunc(func(ctx context.Context) error {
		called = true
		return ctx.Err()
	})
	assert.NoError(t, r.Run(context.Background()))
	assert.True(t, called)
}

type recordingStarter struct {
	calls []string
	feed  [][]string
}

func (r *recordingStarter) Start(symbols []string) {
	r.calls = append(r.calls, "feed")
	r.feed = append(r.feed, symbols)
}

type recordingSignals struct {
	starter *recordingStarter
	symbols []string
}

func (s *recordingSignals) Start(ctx context.Context, symbols []string, pair core.ExchangePair) error {
	s.starter.calls = append(s.starter.calls, "signals")
	s.symbols = symbols
	return nil
}

func TestStartPipeline_FeedStartsWithoutSymbols(t *testing.T) {
	feed := &recordingStarter{}
	signals := &recordingSignals{starter: feed}
	symbols := []string{"BTC/USDT", "ETH/USDT"}

	require.NoError(t, startPipeline(context.Background(), feed, signals, symbols, core.ExchangePair{A: "bingx", B: "bybit"}))

	assert.Equal(t, []string{"feed", "signals"}, feed.calls)
	assert.Equal(t, [][]string{nil}, feed.feed, "symbols are subscribed by the signal engine after preload")
	assert.Equal(t, symbols, signals.symbols)
}
