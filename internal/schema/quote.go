package schema

import "time"

// Quote is one side of the intended two-sided quote.
type Quote struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Pong  bool    `json:"pong"`
}

// QuoteReason explains why the engine produced the current QuoteState.
type QuoteReason uint8

const (
	QuoteReasonLive QuoteReason = iota
	QuoteReasonNoFairValue
	QuoteReasonKillSwitch
	QuoteReasonInactive
	QuoteReasonNoPosition
	QuoteReasonSafetyZero
	QuoteReasonVolatility
)

func (r QuoteReason) String() string {
	switch r {
	case QuoteReasonLive:
		return "live"
	case QuoteReasonNoFairValue:
		return "no_fair_value"
	case QuoteReasonKillSwitch:
		return "kill_switch"
	case QuoteReasonInactive:
		return "inactive"
	case QuoteReasonNoPosition:
		return "no_position"
	case QuoteReasonSafetyZero:
		return "safety_zero"
	case QuoteReasonVolatility:
		return "volatility"
	default:
		return "unknown"
	}
}

// QuoteState is the engine's current intended quote. A nil side means no quote.
type QuoteState struct {
	Bid     *Quote      `json:"bid"`
	Ask     *Quote      `json:"ask"`
	Reason  QuoteReason `json:"reason"`
	Mode    string      `json:"mode"`
	Version uint64      `json:"version"`
	Time    time.Time   `json:"time"`
}

// Side returns the desired quote for a side.
func (s QuoteState) Side(side Side) *Quote {
	switch side {
	case SideBid:
		return s.Bid
	case SideAsk:
		return s.Ask
	default:
		return nil
	}
}

// Empty reports whether neither side is quoted.
func (s QuoteState) Empty() bool {
	return s.Bid == nil && s.Ask == nil
}
