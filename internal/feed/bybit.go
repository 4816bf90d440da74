package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arbibot/internal/core"
	"arbibot/pkg/websocket"
)

const bybitURL = "wss://stream.bybit.com/v5/public/linear"

// BybitProtocol streams v5 linear tickers. Tickers arrive as a snapshot
// followed by deltas that only carry changed fields.
func BybitProtocol() Protocol {
	wire := func(unified string) string {
		return strings.ReplaceAll(unified, "/", "")
	}
	topics := func(symbols []string) []string {
		out := make([]string, 0, len(symbols))
		for _, s := range symbols {
			out = append(out, "tickers."+wire(s))
		}
		return out
	}
	return Protocol{
		Name:       "bybit",
		URL:        bybitURL,
		WireSymbol: wire,
		SubscribeFrames: func(symbols []string) []interface{} {
			return []interface{}{bybitRequest{Op: "subscribe", Args: topics(symbols)}}
		},
		UnsubscribeFrames: func(symbols []string) []interface{} {
			return []interface{}{bybitRequest{Op: "unsubscribe", Args: topics(symbols)}}
		},
		Keepalive: func(c *websocket.Client) error {
			return c.Send(bybitRequest{Op: "ping"})
		},
		NewDecoder: func() Decoder {
			return &bybitDecoder{books: make(map[string]core.Quote)}
		},
	}
}

type bybitRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type bybitMessage struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	TS      int64  `json:"ts"`
	Data    struct {
		Symbol    string    `json:"symbol"`
		Bid1Price optNumber `json:"bid1Price"`
		Ask1Price optNumber `json:"ask1Price"`
		LastPrice optNumber `json:"lastPrice"`
	} `json:"data"`
}

// bybitDecoder merges deltas into the last snapshot per symbol
type bybitDecoder struct {
	books map[string]core.Quote
}

func (d *bybitDecoder) Decode(messageType int, data []byte) (Frame, error) {
	var msg bybitMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, fmt.Errorf("bybit: decode: %w", err)
	}

	switch msg.Op {
	case "ping":
		// Our own ping is acknowledged with op "ping" and ret_msg "pong"
		if msg.Success != nil {
			return Frame{}, nil
		}
		return Frame{Reply: `{"op":"pong"}`}, nil
	case "pong", "subscribe", "unsubscribe":
		if msg.Success != nil && !*msg.Success {
			return Frame{}, fmt.Errorf("bybit: %s rejected: %s", msg.Op, msg.RetMsg)
		}
		return Frame{}, nil
	}

	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return Frame{}, nil
	}

	wireSymbol := msg.Data.Symbol
	if wireSymbol == "" {
		wireSymbol = strings.TrimPrefix(msg.Topic, "tickers.")
	}

	q := d.books[wireSymbol]
	if msg.Type == "snapshot" {
		q = core.Quote{}
	}
	q.Symbol = UnifiedFromConcat(wireSymbol)
	if msg.Data.Bid1Price.Set {
		q.Bid = float64(msg.Data.Bid1Price.Value)
	}
	if msg.Data.Ask1Price.Set {
		q.Ask = float64(msg.Data.Ask1Price.Value)
	}
	if msg.Data.LastPrice.Set {
		q.Last = float64(msg.Data.LastPrice.Value)
	}
	if msg.TS > 0 {
		q.ExchangeTimestamp = time.UnixMilli(msg.TS)
	}
	d.books[wireSymbol] = q

	return Frame{Quotes: []core.Quote{q}}, nil
}
