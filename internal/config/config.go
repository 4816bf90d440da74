// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Trading modes
const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"
)

// MinBaselineSamples is the fewest baseline samples a z-score may be
// computed from
const MinBaselineSamples = 10

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig                 `yaml:"app"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	WebSocket WebSocketConfig           `yaml:"websocket"`
	Signal    SignalConfig              `yaml:"signal"`
	Execution ExecutionConfig           `yaml:"execution"`
	Paper     PaperConfig               `yaml:"paper"`
	Alert     AlertConfig               `yaml:"alert"`
	Events    EventsConfig              `yaml:"events"`
	Server    ServerConfig              `yaml:"server"`
	System    SystemConfig              `yaml:"system"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Mode      string   `yaml:"mode"`       // PAPER or LIVE
	Symbols   []string `yaml:"symbols"`    // Unified symbols, e.g. BTC/USDT
	ExchangeA string   `yaml:"exchange_a"` // First leg of the pair
	ExchangeB string   `yaml:"exchange_b"` // Second leg of the pair
}

// ExchangeConfig contains exchange-specific configuration
type ExchangeConfig struct {
	Enabled   bool    `yaml:"enabled"`
	APIKey    Secret  `yaml:"api_key"`
	SecretKey Secret  `yaml:"secret_key"`
	BaseURL   string  `yaml:"base_url"` // REST root override
	WSURL     string  `yaml:"ws_url"`   // Public stream override
	TakerFee  float64 `yaml:"taker_fee"`
}

// WebSocketConfig controls the exchange streaming sessions
type WebSocketConfig struct {
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	QueueSize            int           `yaml:"queue_size"`
}

// SignalConfig controls spread scoring and debouncing
type SignalConfig struct {
	ZEntry           float64       `yaml:"z_entry"`
	ZExit            float64       `yaml:"z_exit"`
	MinEntryTicks    int           `yaml:"min_entry_ticks"`
	MinExitTicks     int           `yaml:"min_exit_ticks"`
	BaselineWindow   int           `yaml:"baseline_window"`
	BaselineInterval time.Duration `yaml:"baseline_interval"`
	MinSamples       int           `yaml:"min_samples"`
	PreloadTimeframe string        `yaml:"preload_timeframe"`
	MaxQuoteAge      time.Duration `yaml:"max_quote_age"`
}

// ExecutionConfig controls sizing and the coordinator work queue
type ExecutionConfig struct {
	PositionSizeUSDT    float64       `yaml:"position_size_usdt"`
	MaxPositions        int           `yaml:"max_positions"`
	MaxSlippagePct      float64       `yaml:"max_slippage_pct"`
	MinDepthUSDT        float64       `yaml:"min_depth_usdt"`
	DepthSafetyFraction float64       `yaml:"depth_safety_fraction"`
	OrderBookDepth      int           `yaml:"order_book_depth"`
	QueueSize           int           `yaml:"queue_size"`
	BusyPollInterval    time.Duration `yaml:"busy_poll_interval"`
	OrderTimeout        time.Duration `yaml:"order_timeout"`

	// Loss circuit breaker; zero limits disable it
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	MaxDrawdownUSDT      float64       `yaml:"max_drawdown_usdt"`
	LossCooldown         time.Duration `yaml:"loss_cooldown"`
}

// PaperConfig controls the simulated venue
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	StateDir       string  `yaml:"state_dir"` // sqlite files, one per exchange; empty keeps state in memory
}

// AlertConfig contains operator alert channels
type AlertConfig struct {
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	SlackWebhook   Secret `yaml:"slack_webhook"`
}

// EventsConfig controls the event bus and its optional Redis mirror
type EventsConfig struct {
	BufferSize    int    `yaml:"buffer_size"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword Secret `yaml:"redis_password"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ServerConfig contains the status API and gRPC health ports
type ServerConfig struct {
	HTTPPort       int      `yaml:"http_port"`
	GRPCPort       int      `yaml:"grpc_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	APIKeys        []Secret `yaml:"api_keys"` // Required on operator actions when set
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel    string `yaml:"log_level"`
	CloseOnExit bool   `yaml:"close_on_exit"`
	TraceStdout bool   `yaml:"trace_stdout"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file. A .env file next to the
// working directory is loaded first, ${VAR} placeholders are expanded, the
// file is layered over DefaultConfig and ARBIBOT_* variables win last.
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnvOverrides applies ARBIBOT_* environment variables on top of the file
func (c *Config) ApplyEnvOverrides() error {
	var errs []error

	if v := os.Getenv("ARBIBOT_MODE"); v != "" {
		c.App.Mode = strings.ToUpper(v)
	}
	if v := os.Getenv("ARBIBOT_LOG_LEVEL"); v != "" {
		c.System.LogLevel = strings.ToUpper(v)
	}
	if v := os.Getenv("ARBIBOT_SYMBOLS"); v != "" {
		c.App.Symbols = SplitSymbols(v)
	}

	floatVar := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, ValidationError{Field: key, Value: v, Message: "must be a number"})
				return
			}
			*dst = f
		}
	}
	floatVar("ARBIBOT_POSITION_SIZE_USDT", &c.Execution.PositionSizeUSDT)
	floatVar("ARBIBOT_Z_ENTRY", &c.Signal.ZEntry)
	floatVar("ARBIBOT_Z_EXIT", &c.Signal.ZExit)

	if v := os.Getenv("ARBIBOT_MAX_POSITIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: "ARBIBOT_MAX_POSITIONS", Value: v, Message: "must be an integer"})
		} else {
			c.Execution.MaxPositions = n
		}
	}

	return errors.Join(errs...)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateAppConfig()...)
	errs = append(errs, c.validateExchanges()...)
	errs = append(errs, c.validateWebSocketConfig()...)
	errs = append(errs, c.validateSignalConfig()...)
	errs = append(errs, c.validateExecutionConfig()...)
	errs = append(errs, c.validateSystemConfig()...)
	return errors.Join(errs...)
}

func (c *Config) validateAppConfig() []error {
	var errs []error

	if c.App.Mode != ModePaper && c.App.Mode != ModeLive {
		errs = append(errs, ValidationError{
			Field:   "app.mode",
			Value:   c.App.Mode,
			Message: "must be PAPER or LIVE",
		})
	}

	if len(c.App.Symbols) == 0 {
		errs = append(errs, ValidationError{
			Field:   "app.symbols",
			Message: "at least one symbol is required",
		})
	}
	for _, s := range c.App.Symbols {
		if !strings.Contains(s, "/") {
			errs = append(errs, ValidationError{
				Field:   "app.symbols",
				Value:   s,
				Message: "symbols use the BASE/QUOTE form",
			})
		}
	}

	if c.App.ExchangeA == "" || c.App.ExchangeB == "" {
		errs = append(errs, ValidationError{
			Field:   "app.exchange_a",
			Message: "both exchange_a and exchange_b are required",
		})
	} else if c.App.ExchangeA == c.App.ExchangeB {
		errs = append(errs, ValidationError{
			Field:   "app.exchange_b",
			Value:   c.App.ExchangeB,
			Message: "must differ from exchange_a",
		})
	}

	for _, name := range []string{c.App.ExchangeA, c.App.ExchangeB} {
		if name == "" {
			continue
		}
		ex, ok := c.Exchanges[name]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   "app.exchange_a",
				Value:   name,
				Message: "exchange configuration not found in exchanges section",
			})
			continue
		}
		if !ex.Enabled {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.enabled", name),
				Value:   false,
				Message: "pair exchanges must be enabled",
			})
		}
	}

	return errs
}

func (c *Config) validateExchanges() []error {
	var errs []error
	if len(c.Exchanges) == 0 {
		return []error{ValidationError{
			Field:   "exchanges",
			Message: "at least one exchange must be configured",
		}}
	}

	for name, exchange := range c.Exchanges {
		if exchange.TakerFee < 0 || exchange.TakerFee >= 0.01 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.taker_fee", name),
				Value:   exchange.TakerFee,
				Message: "must be in [0, 0.01)",
			})
		}
		if c.App.Mode != ModeLive || !exchange.Enabled {
			continue
		}
		if exchange.APIKey == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.api_key", name),
				Message: "API key is required in LIVE mode",
			})
		}
		if exchange.SecretKey == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.secret_key", name),
				Message: "secret key is required in LIVE mode",
			})
		}
	}

	return errs
}

func (c *Config) validateWebSocketConfig() []error {
	var errs []error
	if c.WebSocket.ReconnectDelay <= 0 {
		errs = append(errs, ValidationError{Field: "websocket.reconnect_delay", Value: c.WebSocket.ReconnectDelay, Message: "must be positive"})
	}
	if c.WebSocket.MaxReconnectAttempts < 1 {
		errs = append(errs, ValidationError{Field: "websocket.max_reconnect_attempts", Value: c.WebSocket.MaxReconnectAttempts, Message: "must be at least 1"})
	}
	if c.WebSocket.QueueSize < 1 {
		errs = append(errs, ValidationError{Field: "websocket.queue_size", Value: c.WebSocket.QueueSize, Message: "must be at least 1"})
	}
	return errs
}

func (c *Config) validateSignalConfig() []error {
	var errs []error
	s := c.Signal
	if s.ZEntry <= 0 {
		errs = append(errs, ValidationError{Field: "signal.z_entry", Value: s.ZEntry, Message: "must be positive"})
	}
	if s.ZExit < 0 || s.ZExit >= s.ZEntry {
		errs = append(errs, ValidationError{Field: "signal.z_exit", Value: s.ZExit, Message: "must be in [0, z_entry)"})
	}
	if s.MinEntryTicks < 1 || s.MinExitTicks < 1 {
		errs = append(errs, ValidationError{Field: "signal.min_entry_ticks", Value: s.MinEntryTicks, Message: "tick counts must be at least 1"})
	}
	if s.BaselineWindow < MinBaselineSamples {
		errs = append(errs, ValidationError{Field: "signal.baseline_window", Value: s.BaselineWindow, Message: fmt.Sprintf("must be at least %d", MinBaselineSamples)})
	}
	if s.MinSamples < MinBaselineSamples || s.MinSamples > s.BaselineWindow {
		errs = append(errs, ValidationError{Field: "signal.min_samples", Value: s.MinSamples, Message: fmt.Sprintf("must be in [%d, baseline_window]", MinBaselineSamples)})
	}
	if s.BaselineInterval <= 0 {
		errs = append(errs, ValidationError{Field: "signal.baseline_interval", Value: s.BaselineInterval, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateExecutionConfig() []error {
	var errs []error
	e := c.Execution
	if e.PositionSizeUSDT <= 0 {
		errs = append(errs, ValidationError{Field: "execution.position_size_usdt", Value: e.PositionSizeUSDT, Message: "must be positive"})
	}
	if e.MaxPositions < 1 {
		errs = append(errs, ValidationError{Field: "execution.max_positions", Value: e.MaxPositions, Message: "must be at least 1"})
	}
	if e.MaxSlippagePct <= 0 {
		errs = append(errs, ValidationError{Field: "execution.max_slippage_pct", Value: e.MaxSlippagePct, Message: "must be positive"})
	}
	if e.DepthSafetyFraction <= 0 || e.DepthSafetyFraction > 1 {
		errs = append(errs, ValidationError{Field: "execution.depth_safety_fraction", Value: e.DepthSafetyFraction, Message: "must be in (0, 1]"})
	}
	if e.OrderBookDepth < 1 {
		errs = append(errs, ValidationError{Field: "execution.order_book_depth", Value: e.OrderBookDepth, Message: "must be at least 1"})
	}
	if e.QueueSize < 1 {
		errs = append(errs, ValidationError{Field: "execution.queue_size", Value: e.QueueSize, Message: "must be at least 1"})
	}
	if e.MaxConsecutiveLosses < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_consecutive_losses", Value: e.MaxConsecutiveLosses, Message: "must not be negative"})
	}
	if e.MaxDrawdownUSDT < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_drawdown_usdt", Value: e.MaxDrawdownUSDT, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateSystemConfig() []error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return []error{ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}}
	}
	return nil
}

// Fee returns the taker fee configured for an exchange
func (c *Config) Fee(exchange string) float64 {
	return c.Exchanges[exchange].TakerFee
}

// String returns a YAML rendering with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// SplitSymbols parses a comma separated symbol list
func SplitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a runnable PAPER configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Mode:      ModePaper,
			Symbols:   []string{"BTC/USDT"},
			ExchangeA: "bingx",
			ExchangeB: "bybit",
		},
		Exchanges: map[string]ExchangeConfig{
			"bingx": {Enabled: true, TakerFee: 0.0005},
			"bybit": {Enabled: true, TakerFee: 0.00055},
		},
		WebSocket: WebSocketConfig{
			ReconnectDelay:       5 * time.Second,
			MaxReconnectAttempts: 10,
			PingInterval:         20 * time.Second,
			ReadTimeout:          60 * time.Second,
			QueueSize:            1000,
		},
		Signal: SignalConfig{
			ZEntry:           2.0,
			ZExit:            0.5,
			MinEntryTicks:    3,
			MinExitTicks:     5,
			BaselineWindow:   60,
			BaselineInterval: time.Minute,
			MinSamples:       10,
			PreloadTimeframe: "1m",
			MaxQuoteAge:      10 * time.Second,
		},
		Execution: ExecutionConfig{
			PositionSizeUSDT:    100,
			MaxPositions:        5,
			MaxSlippagePct:      0.1,
			MinDepthUSDT:        1000,
			DepthSafetyFraction: 0.5,
			OrderBookDepth:      20,
			QueueSize:           64,
			BusyPollInterval:    100 * time.Millisecond,
			OrderTimeout:        15 * time.Second,
		},
		Paper: PaperConfig{
			InitialBalance: 10000,
		},
		Events: EventsConfig{
			BufferSize:    256,
			ChannelPrefix: "arbibot",
		},
		Server: ServerConfig{
			HTTPPort:       8080,
			GRPCPort:       50051,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		System: SystemConfig{
			LogLevel:    "INFO",
			CloseOnExit: false,
		},
	}
}
