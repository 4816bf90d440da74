package liveserver

import "time"

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageType constants
const (
	TypeSpread     = "spread_update"
	TypeDecision   = "decision"
	TypeTradeOpen  = "trade_opened"
	TypeTradeClose = "trade_closed"
	TypeRejected   = "entry_rejected"
	TypeConnection = "connection_status"
	TypeAlert      = "critical_alert"
	TypeError      = "error"
)

// NewMessage creates a Message stamped with the current time
func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}
}
