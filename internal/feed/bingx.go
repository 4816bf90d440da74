package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arbibot/internal/core"
	"arbibot/pkg/websocket"
)

const bingxURL = "wss://open-api-swap.bingx.com/swap-market"

// BingXProtocol streams swap tickers. Frames arrive gzip compressed and the
// keepalive is the bare token "Ping"/"Pong" in both directions.
func BingXProtocol() Protocol {
	wire := func(unified string) string {
		return strings.ReplaceAll(unified, "/", "-")
	}
	return Protocol{
		Name:       "bingx",
		URL:        bingxURL,
		WireSymbol: wire,
		SubscribeFrames: func(symbols []string) []interface{} {
			frames := make([]interface{}, 0, len(symbols))
			for _, s := range symbols {
				w := wire(s)
				frames = append(frames, bingxRequest{ID: "sub_" + w, ReqType: "sub", DataType: w + "@ticker"})
			}
			return frames
		},
		UnsubscribeFrames: func(symbols []string) []interface{} {
			frames := make([]interface{}, 0, len(symbols))
			for _, s := range symbols {
				w := wire(s)
				frames = append(frames, bingxRequest{ID: "unsub_" + w, ReqType: "unsub", DataType: w + "@ticker"})
			}
			return frames
		},
		Keepalive: func(c *websocket.Client) error {
			return c.SendText("Ping")
		},
		NewDecoder: func() Decoder { return bingxDecoder{} },
	}
}

type bingxRequest struct {
	ID       string `json:"id"`
	ReqType  string `json:"reqType"`
	DataType string `json:"dataType"`
}

type bingxTicker struct {
	Code     int    `json:"code"`
	DataType string `json:"dataType"`
	Data     struct {
		Bid       number `json:"b"`
		Ask       number `json:"a"`
		Bid1      number `json:"bid1"`
		Ask1      number `json:"ask1"`
		Close     number `json:"c"`
		EventTime int64  `json:"E"`
	} `json:"data"`
}

type bingxDecoder struct{}

func (bingxDecoder) Decode(messageType int, data []byte) (Frame, error) {
	if messageType == websocket.BinaryMessage {
		var err error
		data, err = gunzip(data)
		if err != nil {
			return Frame{}, err
		}
	}

	switch strings.TrimSpace(string(data)) {
	case "Ping":
		return Frame{Reply: "Pong"}, nil
	case "Pong":
		return Frame{}, nil
	}

	var msg bingxTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, fmt.Errorf("bingx: decode: %w", err)
	}
	// Subscription acks carry an id and no dataType
	if !strings.HasSuffix(msg.DataType, "@ticker") {
		return Frame{}, nil
	}

	wireSymbol := strings.SplitN(msg.DataType, "@", 2)[0]
	last := float64(msg.Data.Close)
	bid := firstPositive(float64(msg.Data.Bid), float64(msg.Data.Bid1), last)
	ask := firstPositive(float64(msg.Data.Ask), float64(msg.Data.Ask1), last)

	q := core.Quote{
		Symbol: strings.ReplaceAll(wireSymbol, "-", "/"),
		Bid:    bid,
		Ask:    ask,
		Last:   last,
	}
	if msg.Data.EventTime > 0 {
		q.ExchangeTimestamp = time.UnixMilli(msg.Data.EventTime)
	}
	return Frame{Quotes: []core.Quote{q}}, nil
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
