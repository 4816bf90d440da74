package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrSystemOverload       = errors.New("system overload")
	ErrNoPosition           = errors.New("no open position")
	ErrNoQuote              = errors.New("no quote available")
)

// Execution Errors
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrExecutionBusy         = errors.New("execution busy")
	ErrPositionExists        = errors.New("position already open")
	ErrPositionLimit         = errors.New("position limit reached")
	ErrRollbackFailed        = errors.New("rollback failed: unhedged exposure")
	ErrQueueFull             = errors.New("work queue full")
	ErrCircuitOpen           = errors.New("loss circuit breaker open")
)

// Feed Errors
var (
	ErrExchangeDown    = errors.New("exchange permanently down")
	ErrUnknownExchange = errors.New("unknown exchange")
)
