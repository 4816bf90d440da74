// Package bybit provides the Bybit v5 linear perpetual adapter
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"arbibot/internal/config"
	"arbibot/internal/core"
	"arbibot/internal/exchange/base"
	apperrors "arbibot/pkg/errors"
	apphttp "arbibot/pkg/http"
	"arbibot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

const (
	defaultBybitURL = "https://api.bybit.com"
	recvWindow      = "5000"
	category        = "linear"
)

// BybitExchange implements core.IExchange and core.IHistoryProvider
type BybitExchange struct {
	*base.BaseAdapter
	fillPollInterval time.Duration
}

// NewBybitExchange creates a new Bybit exchange instance
func NewBybitExchange(cfg config.ExchangeConfig, logger core.ILogger) *BybitExchange {
	signer := &Signer{APIKey: cfg.APIKey.Reveal(), SecretKey: cfg.SecretKey.Reveal(), Now: time.Now}
	opts := apphttp.DefaultOptions()
	opts.RequestsPerSecond = 10
	opts.Burst = 5

	b := base.NewBaseAdapter("bybit", cfg, defaultBybitURL, signer, opts, logger)
	e := &BybitExchange{BaseAdapter: b, fillPollInterval: 200 * time.Millisecond}
	b.ParseError = parseError
	return e
}

// Signer adds the X-BAPI authentication headers
type Signer struct {
	APIKey    string
	SecretKey string
	Now       func() time.Time
}

// SignRequest signs timestamp + key + recv_window + (query | body)
func (s *Signer) SignRequest(req *http.Request) error {
	payload := req.URL.RawQuery
	if req.Method == http.MethodPost && req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		payload = string(raw)
	}

	timestamp := strconv.FormatInt(s.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(timestamp + s.APIKey + recvWindow + payload))

	req.Header.Set("X-BAPI-API-KEY", s.APIKey)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	return nil
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

func parseError(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bybit error (unmarshal failed): %s", string(body))
	}

	// https://bybit-exchange.github.io/docs/v5/error
	switch env.RetCode {
	case 0:
		return nil
	case 10003, 10004, 10005:
		return apperrors.ErrAuthenticationFailed
	case 10006, 10018:
		return apperrors.ErrRateLimitExceeded
	case 10016:
		return apperrors.ErrSystemOverload
	case 10001:
		if env.RetMsg == "params error: symbol invalid" {
			return apperrors.ErrInvalidSymbol
		}
		return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, env.RetMsg)
	case 110004, 110007, 110012:
		return apperrors.ErrInsufficientFunds
	case 110017:
		return apperrors.ErrNoPosition
	}
	return fmt.Errorf("%w: %s (%d)", apperrors.ErrOrderRejected, env.RetMsg, env.RetCode)
}

func decode(body []byte, result interface{}) (int64, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("bybit: decode envelope: %w", err)
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return 0, fmt.Errorf("bybit: decode result: %w", err)
	}
	return env.Time, nil
}

func side(s core.Side) string {
	if s == core.SideBuy {
		return "Buy"
	}
	return "Sell"
}

// klineInterval maps 1m/5m/1h/1d style timeframes to Bybit's values
func klineInterval(tf string) (string, error) {
	switch tf {
	case "1m":
		return "1", nil
	case "3m":
		return "3", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	}
	return "", fmt.Errorf("bybit: unsupported timeframe %q", tf)
}

// HistoricalCandles returns closed and current candles, oldest first
func (e *BybitExchange) HistoricalCandles(ctx context.Context, symbol string, interval string, limit int) ([]core.Candle, error) {
	iv, err := klineInterval(interval)
	if err != nil {
		return nil, err
	}
	body, err := e.Get(ctx, "/v5/market/kline", map[string]string{
		"category": category,
		"symbol":   base.ConcatSymbol(symbol),
		"interval": iv,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if _, err := decode(body, &result); err != nil {
		return nil, err
	}

	// list is newest first: [start, open, high, low, close, volume, turnover]
	candles := make([]core.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		candles = append(candles, core.Candle{
			OpenTime: e.ParseTimestamp(start),
			Open:     e.ParseFloat(row[1]),
			High:     e.ParseFloat(row[2]),
			Low:      e.ParseFloat(row[3]),
			Close:    e.ParseFloat(row[4]),
			Volume:   e.ParseFloat(row[5]),
		})
	}
	return candles, nil
}

// OrderBook returns a depth snapshot with best prices first
func (e *BybitExchange) OrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	if depth <= 0 {
		depth = 25
	}
	body, err := e.Get(ctx, "/v5/market/orderbook", map[string]string{
		"category": category,
		"symbol":   base.ConcatSymbol(symbol),
		"limit":    strconv.Itoa(depth),
	})
	if err != nil {
		return core.OrderBook{}, err
	}

	var result struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
		Ts   int64      `json:"ts"`
	}
	if _, err := decode(body, &result); err != nil {
		return core.OrderBook{}, err
	}
	return base.NormalizeBook(core.OrderBook{
		Symbol:    symbol,
		Bids:      e.ParseLevels(result.Bids),
		Asks:      e.ParseLevels(result.Asks),
		Timestamp: e.ParseTimestamp(result.Ts),
	}), nil
}

func (e *BybitExchange) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	body, err := e.Get(ctx, "/v5/market/tickers", map[string]string{
		"category": category,
		"symbol":   base.ConcatSymbol(symbol),
	})
	if err != nil {
		return core.Ticker{}, err
	}

	var result struct {
		List []struct {
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	ts, err := decode(body, &result)
	if err != nil {
		return core.Ticker{}, err
	}
	if len(result.List) == 0 {
		return core.Ticker{}, fmt.Errorf("bybit %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	t := result.List[0]
	return core.Ticker{
		Bid:       e.ParseDecimal(t.Bid1Price),
		Ask:       e.ParseDecimal(t.Ask1Price),
		Last:      e.ParseDecimal(t.LastPrice),
		Timestamp: e.ParseTimestamp(ts),
	}, nil
}

// Balance reads the unified wallet. Used is initial margin held by
// positions and orders.
func (e *BybitExchange) Balance(ctx context.Context, asset string) (core.Balance, error) {
	body, err := e.SignedGet(ctx, "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
		"coin":        asset,
	})
	if err != nil {
		return core.Balance{}, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				TotalPositionIM string `json:"totalPositionIM"`
				TotalOrderIM    string `json:"totalOrderIM"`
			} `json:"coin"`
		} `json:"list"`
	}
	if _, err := decode(body, &result); err != nil {
		return core.Balance{}, err
	}
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			if c.Coin != asset {
				continue
			}
			total := e.ParseDecimal(c.WalletBalance)
			used := e.ParseDecimal(c.TotalPositionIM).Add(e.ParseDecimal(c.TotalOrderIM))
			return core.Balance{Free: total.Sub(used), Used: used, Total: total}, nil
		}
	}
	return core.Balance{}, nil
}

// CreateOrder places a market order and waits briefly for its fill
func (e *BybitExchange) CreateOrder(ctx context.Context, symbol string, s core.Side, amount decimal.Decimal) (core.OrderResult, error) {
	id, err := e.placeMarket(ctx, symbol, s, amount, false)
	if err != nil {
		return core.OrderResult{}, err
	}
	fill, err := e.waitFill(ctx, symbol, id)
	if err != nil {
		return core.OrderResult{}, err
	}
	return core.OrderResult{
		ID:           id,
		Symbol:       symbol,
		Side:         s,
		AveragePrice: fill.avgPrice,
		FilledAmount: fill.qty,
		FeeCost:      fill.fee,
		Timestamp:    time.Now(),
	}, nil
}

// ClosePosition flattens the open position with a reduce-only market order
func (e *BybitExchange) ClosePosition(ctx context.Context, symbol string) (core.CloseResult, error) {
	body, err := e.SignedGet(ctx, "/v5/position/list", map[string]string{
		"category": category,
		"symbol":   base.ConcatSymbol(symbol),
	})
	if err != nil {
		return core.CloseResult{}, err
	}

	var result struct {
		List []struct {
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	if _, err := decode(body, &result); err != nil {
		return core.CloseResult{}, err
	}

	for _, p := range result.List {
		size := e.ParseDecimal(p.Size)
		if size.IsZero() {
			continue
		}
		posSide := core.SideBuy
		if p.Side == "Sell" {
			posSide = core.SideSell
		}
		entry := e.ParseDecimal(p.AvgPrice)

		id, err := e.placeMarket(ctx, symbol, posSide.Opposite(), size, true)
		if err != nil {
			return core.CloseResult{}, err
		}
		fill, err := e.waitFill(ctx, symbol, id)
		if err != nil {
			return core.CloseResult{}, err
		}
		return core.CloseResult{
			ID:           id,
			Symbol:       symbol,
			Side:         posSide.Opposite(),
			AveragePrice: fill.avgPrice,
			Amount:       fill.qty,
			RealizedPnL:  tradingutils.LegPnL(posSide, entry, fill.avgPrice, fill.qty).Sub(fill.fee),
			FeeCost:      fill.fee,
			Timestamp:    time.Now(),
		}, nil
	}
	return core.CloseResult{}, fmt.Errorf("bybit %s: %w", symbol, apperrors.ErrNoPosition)
}

func (e *BybitExchange) placeMarket(ctx context.Context, symbol string, s core.Side, qty decimal.Decimal, reduceOnly bool) (string, error) {
	req := map[string]interface{}{
		"category":  category,
		"symbol":    base.ConcatSymbol(symbol),
		"side":      side(s),
		"orderType": "Market",
		"qty":       qty.String(),
	}
	if reduceOnly {
		req["reduceOnly"] = true
	}
	if id, ok := core.ClientOrderID(ctx); ok {
		req["orderLinkId"] = id
	}

	body, err := e.SignedPost(ctx, "/v5/order/create", req)
	if err != nil {
		return "", err
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if _, err := decode(body, &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

type fill struct {
	avgPrice decimal.Decimal
	qty      decimal.Decimal
	fee      decimal.Decimal
}

// waitFill polls the order until it is filled or rejected
func (e *BybitExchange) waitFill(ctx context.Context, symbol, orderID string) (fill, error) {
	for attempt := 0; ; attempt++ {
		body, err := e.SignedGet(ctx, "/v5/order/realtime", map[string]string{
			"category": category,
			"symbol":   base.ConcatSymbol(symbol),
			"orderId":  orderID,
		})
		if err != nil {
			return fill{}, err
		}
		var result struct {
			List []struct {
				OrderStatus  string `json:"orderStatus"`
				AvgPrice     string `json:"avgPrice"`
				CumExecQty   string `json:"cumExecQty"`
				CumExecFee   string `json:"cumExecFee"`
				RejectReason string `json:"rejectReason"`
			} `json:"list"`
		}
		if _, err := decode(body, &result); err != nil {
			return fill{}, err
		}
		if len(result.List) > 0 {
			o := result.List[0]
			switch o.OrderStatus {
			case "Filled":
				return fill{
					avgPrice: e.ParseDecimal(o.AvgPrice),
					qty:      e.ParseDecimal(o.CumExecQty),
					fee:      e.ParseDecimal(o.CumExecFee),
				}, nil
			case "Rejected", "Cancelled", "Deactivated":
				return fill{}, fmt.Errorf("bybit order %s %s %s: %w", orderID, o.OrderStatus, o.RejectReason, apperrors.ErrOrderRejected)
			}
		}

		select {
		case <-ctx.Done():
			return fill{}, fmt.Errorf("bybit order %s not filled: %w", orderID, ctx.Err())
		case <-time.After(e.fillPollInterval):
		}
	}
}
