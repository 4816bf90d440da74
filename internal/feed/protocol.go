// Package feed implements the connection manager: one resilient streaming
// session per exchange, normalized into core.Quote values.
package feed

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"arbibot/internal/core"
	"arbibot/pkg/websocket"
)

// Frame is the decoded meaning of one inbound message
type Frame struct {
	// Quotes carries normalized ticks; Exchange and ReceiveTimestamp are filled by the manager
	Quotes []core.Quote
	// Reply is sent back on the same session, e.g. a pong token
	Reply string
}

// Decoder turns raw frames into Frames. One decoder lives for one session so
// venues that stream deltas can merge them into the last snapshot.
type Decoder interface {
	Decode(messageType int, data []byte) (Frame, error)
}

// Protocol is the wire strategy for one exchange
type Protocol struct {
	Name string
	URL  string

	// WireSymbol converts BTC/USDT into the venue's own form
	WireSymbol func(unified string) string
	// SubscribeFrames and UnsubscribeFrames build control messages. A string
	// element is sent verbatim as text, anything else as JSON.
	SubscribeFrames   func(symbols []string) []interface{}
	UnsubscribeFrames func(symbols []string) []interface{}
	// Keepalive sends one heartbeat in the venue's format
	Keepalive websocket.KeepaliveFunc
	// NewDecoder returns a fresh decoder for a new session
	NewDecoder func() Decoder
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Protocol{}
)

// RegisterProtocol adds or replaces the wire strategy for p.Name
func RegisterProtocol(p Protocol) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name] = p
}

// LookupProtocol returns the registered strategy for an exchange
func LookupProtocol(name string) (Protocol, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Protocols lists registered exchange names in sorted order
func Protocols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterProtocol(BingXProtocol())
	RegisterProtocol(BybitProtocol())
}

// UnifiedFromConcat maps BTCUSDT back to BTC/USDT using known quote currencies
func UnifiedFromConcat(wire string) string {
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC"} {
		if strings.HasSuffix(wire, quote) && len(wire) > len(quote) {
			return wire[:len(wire)-len(quote)] + "/" + quote
		}
	}
	return wire
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// number accepts both JSON numbers and numeric strings
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = number(f)
	return nil
}

// optNumber records whether the field was present at all
type optNumber struct {
	Value number
	Set   bool
}

func (o *optNumber) UnmarshalJSON(b []byte) error {
	o.Set = true
	return json.Unmarshal(b, &o.Value)
}
