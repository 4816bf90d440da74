// Package bingx provides the BingX USDT-M perpetual swap adapter
package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
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

const defaultBingXURL = "https://open-api.bingx.com"

// BingXExchange implements core.IExchange and core.IHistoryProvider
type BingXExchange struct {
	*base.BaseAdapter
	fillPollInterval time.Duration
}

// NewBingXExchange creates a new BingX exchange instance
func NewBingXExchange(cfg config.ExchangeConfig, logger core.ILogger) *BingXExchange {
	signer := &Signer{APIKey: cfg.APIKey.Reveal(), SecretKey: cfg.SecretKey.Reveal(), Now: time.Now}
	opts := apphttp.DefaultOptions()
	opts.RequestsPerSecond = 10
	opts.Burst = 5

	b := base.NewBaseAdapter("bingx", cfg, defaultBingXURL, signer, opts, logger)
	b.ParseError = parseError
	return &BingXExchange{BaseAdapter: b, fillPollInterval: 200 * time.Millisecond}
}

// Signer appends timestamp and an HMAC of the sorted query string
type Signer struct {
	APIKey    string
	SecretKey string
	Now       func() time.Time
}

func (s *Signer) SignRequest(req *http.Request) error {
	q := req.URL.Query()
	q.Del("signature")
	q.Set("timestamp", strconv.FormatInt(s.Now().UnixMilli(), 10))
	encoded := q.Encode()

	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(encoded))
	req.URL.RawQuery = encoded + "&signature=" + hex.EncodeToString(mac.Sum(nil))
	req.Header.Set("X-BX-APIKEY", s.APIKey)
	return nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func parseError(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bingx error (unmarshal failed): %s", string(body))
	}
	switch env.Code {
	case 0:
		return nil
	case 100001, 100413, 100419:
		return apperrors.ErrAuthenticationFailed
	case 100410:
		return apperrors.ErrRateLimitExceeded
	case 80012, 100500, 100503:
		return apperrors.ErrSystemOverload
	case 80014:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, env.Msg)
	case 101204, 80020:
		return apperrors.ErrInsufficientFunds
	case 109400, 100204:
		return apperrors.ErrInvalidSymbol
	}
	return fmt.Errorf("%w: %s (%d)", apperrors.ErrOrderRejected, env.Msg, env.Code)
}

func decode(body []byte, data interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bingx: decode envelope: %w", err)
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("bingx: decode data: %w", err)
	}
	return nil
}

// HistoricalCandles returns candles oldest first
func (e *BingXExchange) HistoricalCandles(ctx context.Context, symbol string, interval string, limit int) ([]core.Candle, error) {
	body, err := e.Get(ctx, "/openApi/swap/v3/quote/klines", map[string]string{
		"symbol":   base.HyphenSymbol(symbol),
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Open   string `json:"open"`
		Close  string `json:"close"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Volume string `json:"volume"`
		Time   int64  `json:"time"`
	}
	if err := decode(body, &rows); err != nil {
		return nil, err
	}

	candles := make([]core.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, core.Candle{
			OpenTime: e.ParseTimestamp(r.Time),
			Open:     e.ParseFloat(r.Open),
			High:     e.ParseFloat(r.High),
			Low:      e.ParseFloat(r.Low),
			Close:    e.ParseFloat(r.Close),
			Volume:   e.ParseFloat(r.Volume),
		})
	}
	// the venue has returned both orders over time
	if len(candles) > 1 && candles[0].OpenTime.After(candles[len(candles)-1].OpenTime) {
		for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
			candles[i], candles[j] = candles[j], candles[i]
		}
	}
	return candles, nil
}

// depthLimit rounds up to a depth the endpoint accepts
func depthLimit(depth int) int {
	for _, l := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= l {
			return l
		}
	}
	return 1000
}

func (e *BingXExchange) OrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	body, err := e.Get(ctx, "/openApi/swap/v2/quote/depth", map[string]string{
		"symbol": base.HyphenSymbol(symbol),
		"limit":  strconv.Itoa(depthLimit(depth)),
	})
	if err != nil {
		return core.OrderBook{}, err
	}

	var data struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		T    int64      `json:"T"`
	}
	if err := decode(body, &data); err != nil {
		return core.OrderBook{}, err
	}
	book := base.NormalizeBook(core.OrderBook{
		Symbol:    symbol,
		Bids:      e.ParseLevels(data.Bids),
		Asks:      e.ParseLevels(data.Asks),
		Timestamp: e.ParseTimestamp(data.T),
	})
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return book, nil
}

func (e *BingXExchange) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	body, err := e.Get(ctx, "/openApi/swap/v2/quote/bookTicker", map[string]string{
		"symbol": base.HyphenSymbol(symbol),
	})
	if err != nil {
		return core.Ticker{}, err
	}

	var data struct {
		BookTicker struct {
			BidPrice json.Number `json:"bid_price"`
			AskPrice json.Number `json:"ask_price"`
			Time     int64       `json:"time"`
		} `json:"book_ticker"`
	}
	if err := decode(body, &data); err != nil {
		return core.Ticker{}, err
	}
	bid := e.ParseDecimal(data.BookTicker.BidPrice.String())
	ask := e.ParseDecimal(data.BookTicker.AskPrice.String())
	ts := e.ParseTimestamp(data.BookTicker.Time)
	if ts.IsZero() {
		ts = time.Now()
	}
	return core.Ticker{
		Bid:       bid,
		Ask:       ask,
		Last:      bid.Add(ask).Div(decimal.NewFromInt(2)),
		Timestamp: ts,
	}, nil
}

func (e *BingXExchange) Balance(ctx context.Context, asset string) (core.Balance, error) {
	body, err := e.SignedGet(ctx, "/openApi/swap/v2/user/balance", nil)
	if err != nil {
		return core.Balance{}, err
	}

	var data struct {
		Balance struct {
			Asset           string `json:"asset"`
			Balance         string `json:"balance"`
			AvailableMargin string `json:"availableMargin"`
			UsedMargin      string `json:"usedMargin"`
			FreezedMargin   string `json:"freezedMargin"`
		} `json:"balance"`
	}
	if err := decode(body, &data); err != nil {
		return core.Balance{}, err
	}
	if data.Balance.Asset != "" && data.Balance.Asset != asset {
		return core.Balance{}, nil
	}
	used := e.ParseDecimal(data.Balance.UsedMargin).Add(e.ParseDecimal(data.Balance.FreezedMargin))
	return core.Balance{
		Free:  e.ParseDecimal(data.Balance.AvailableMargin),
		Used:  used,
		Total: e.ParseDecimal(data.Balance.Balance),
	}, nil
}

func (e *BingXExchange) CreateOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (core.OrderResult, error) {
	id, err := e.placeMarket(ctx, symbol, side, amount, false)
	if err != nil {
		return core.OrderResult{}, err
	}
	f, err := e.waitFill(ctx, symbol, id)
	if err != nil {
		return core.OrderResult{}, err
	}
	return core.OrderResult{
		ID:           id,
		Symbol:       symbol,
		Side:         side,
		AveragePrice: f.avgPrice,
		FilledAmount: f.qty,
		FeeCost:      f.fee,
		Timestamp:    time.Now(),
	}, nil
}

// ClosePosition flattens the one-way position with a reduce-only order
func (e *BingXExchange) ClosePosition(ctx context.Context, symbol string) (core.CloseResult, error) {
	body, err := e.SignedGet(ctx, "/openApi/swap/v2/user/positions", map[string]string{
		"symbol": base.HyphenSymbol(symbol),
	})
	if err != nil {
		return core.CloseResult{}, err
	}

	var positions []struct {
		PositionSide string `json:"positionSide"`
		PositionAmt  string `json:"positionAmt"`
		AvgPrice     string `json:"avgPrice"`
	}
	if err := decode(body, &positions); err != nil {
		return core.CloseResult{}, err
	}

	for _, p := range positions {
		amt := e.ParseDecimal(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		posSide := core.SideBuy
		if p.PositionSide == "SHORT" || amt.IsNegative() {
			posSide = core.SideSell
		}
		size := amt.Abs()
		entry := e.ParseDecimal(p.AvgPrice)

		id, err := e.placeMarket(ctx, symbol, posSide.Opposite(), size, true)
		if err != nil {
			return core.CloseResult{}, err
		}
		f, err := e.waitFill(ctx, symbol, id)
		if err != nil {
			return core.CloseResult{}, err
		}
		return core.CloseResult{
			ID:           id,
			Symbol:       symbol,
			Side:         posSide.Opposite(),
			AveragePrice: f.avgPrice,
			Amount:       f.qty,
			RealizedPnL:  tradingutils.LegPnL(posSide, entry, f.avgPrice, f.qty).Sub(f.fee),
			FeeCost:      f.fee,
			Timestamp:    time.Now(),
		}, nil
	}
	return core.CloseResult{}, fmt.Errorf("bingx %s: %w", symbol, apperrors.ErrNoPosition)
}

func (e *BingXExchange) placeMarket(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal, reduceOnly bool) (string, error) {
	params := map[string]string{
		"symbol":       base.HyphenSymbol(symbol),
		"side":         "BUY",
		"positionSide": "BOTH",
		"type":         "MARKET",
		"quantity":     qty.String(),
	}
	if side == core.SideSell {
		params["side"] = "SELL"
	}
	if reduceOnly {
		params["reduceOnly"] = "true"
	}
	if id, ok := core.ClientOrderID(ctx); ok {
		params["clientOrderID"] = id
	}

	body, err := e.SignedPostQuery(ctx, "/openApi/swap/v2/trade/order", params)
	if err != nil {
		return "", err
	}
	var data struct {
		Order struct {
			OrderID json.Number `json:"orderId"`
		} `json:"order"`
	}
	if err := decode(body, &data); err != nil {
		return "", err
	}
	return data.Order.OrderID.String(), nil
}

type fill struct {
	avgPrice decimal.Decimal
	qty      decimal.Decimal
	fee      decimal.Decimal
}

func (e *BingXExchange) waitFill(ctx context.Context, symbol, orderID string) (fill, error) {
	for {
		body, err := e.SignedGet(ctx, "/openApi/swap/v2/trade/order", map[string]string{
			"symbol":  base.HyphenSymbol(symbol),
			"orderId": orderID,
		})
		if err != nil {
			return fill{}, err
		}
		var data struct {
			Order struct {
				Status      string `json:"status"`
				AvgPrice    string `json:"avgPrice"`
				ExecutedQty string `json:"executedQty"`
				Commission  string `json:"commission"`
			} `json:"order"`
		}
		if err := decode(body, &data); err != nil {
			return fill{}, err
		}
		switch data.Order.Status {
		case "FILLED":
			return fill{
				avgPrice: e.ParseDecimal(data.Order.AvgPrice),
				qty:      e.ParseDecimal(data.Order.ExecutedQty),
				// commission is reported as a negative cash flow
				fee: e.ParseDecimal(data.Order.Commission).Abs(),
			}, nil
		case "CANCELLED", "CANCELED", "FAILED", "EXPIRED":
			return fill{}, fmt.Errorf("bingx order %s %s: %w", orderID, data.Order.Status, apperrors.ErrOrderRejected)
		}

		select {
		case <-ctx.Done():
			return fill{}, fmt.Errorf("bingx order %s not filled: %w", orderID, ctx.Err())
		case <-time.After(e.fillPollInterval):
		}
	}
}
