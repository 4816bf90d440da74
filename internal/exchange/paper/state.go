package paper

import (
	"time"

	"arbibot/internal/core"

	"github.com/shopspring/decimal"
)

// Position is one simulated open position. Margin is the notional reserved
// from the free balance when it was opened.
type Position struct {
	Side       core.Side       `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Margin     decimal.Decimal `json:"margin"`
}

// State is everything needed to resume a paper venue after a restart
type State struct {
	Exchange  string               `json:"exchange"`
	Asset     string               `json:"asset"`
	Free      decimal.Decimal      `json:"free"`
	Used      decimal.Decimal      `json:"used"`
	Positions map[string]*Position `json:"positions"`
	Fees      decimal.Decimal      `json:"fees"`
	Orders    int64                `json:"orders"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func newState(exchange, asset string, initial decimal.Decimal) *State {
	return &State{
		Exchange:  exchange,
		Asset:     asset,
		Free:      initial,
		Used:      decimal.Zero,
		Positions: make(map[string]*Position),
		Fees:      decimal.Zero,
	}
}

func (s *State) clone() *State {
	out := *s
	out.Positions = make(map[string]*Position, len(s.Positions))
	for k, p := range s.Positions {
		cp := *p
		out.Positions[k] = &cp
	}
	return &out
}
