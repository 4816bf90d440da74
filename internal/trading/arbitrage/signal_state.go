package arbitrage

import (
	"math"

	"arbibot/internal/core"
)

// Thresholds configure the hysteresis between entry and exit
type Thresholds struct {
	ZEntry        float64
	ZExit         float64
	MinEntryTicks int
	MinExitTicks  int
}

// SignalState is the per-symbol debounce state
type SignalState struct {
	InPosition bool
	EntryTicks int
	ExitTicks  int
}

// Evaluate feeds one tick into the state. It returns the decision type and
// true when a counter reaches its minimum; the counter is reset on firing.
// InPosition flips on every fire.
func (s *SignalState) Evaluate(z, netPct float64, th Thresholds) (core.DecisionType, bool) {
	entryOK := !s.InPosition && math.Abs(z) > th.ZEntry && netPct > 0
	exitOK := s.InPosition && math.Abs(z) < th.ZExit

	if entryOK {
		s.EntryTicks++
	} else {
		s.EntryTicks = 0
	}
	if exitOK {
		s.ExitTicks++
	} else {
		s.ExitTicks = 0
	}

	if entryOK && s.EntryTicks >= max(th.MinEntryTicks, 1) {
		s.EntryTicks = 0
		s.InPosition = true
		return core.DecisionEntry, true
	}
	if exitOK && s.ExitTicks >= max(th.MinExitTicks, 1) {
		s.ExitTicks = 0
		s.InPosition = false
		return core.DecisionExit, true
	}
	return "", false
}

// Reset clears counters and position flag
func (s *SignalState) Reset() {
	*s = SignalState{}
}

// EntrySides maps the sign of z to the two leg sides: z<0 means A is cheap,
// so buy A and sell B; otherwise the reverse.
func EntrySides(z float64) (sideA, sideB core.Side) {
	if z < 0 {
		return core.SideBuy, core.SideSell
	}
	return core.SideSell, core.SideBuy
}
