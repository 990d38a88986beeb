package schema

import "time"

// Balance is a position snapshot reported by the gateway's position feed.
type Balance struct {
	BaseAmount  float64   `json:"baseAmount"`
	BaseHeld    float64   `json:"baseHeld"`
	QuoteAmount float64   `json:"quoteAmount"`
	QuoteHeld   float64   `json:"quoteHeld"`
	Time        time.Time `json:"time"`
}

// Position is the authoritative inventory valued at the latest fair value.
type Position struct {
	Pair        Pair      `json:"pair"`
	BaseAmount  float64   `json:"baseAmount"`
	BaseHeld    float64   `json:"baseHeld"`
	QuoteAmount float64   `json:"quoteAmount"`
	QuoteHeld   float64   `json:"quoteHeld"`
	Value       float64   `json:"value"`
	ValueBase   float64   `json:"valueBase"`
	Reference   float64   `json:"reference"`
	Unrealized  float64   `json:"unrealized"`
	Time        time.Time `json:"time"`
}

// TotalBase returns free plus held base.
func (p Position) TotalBase() float64 {
	return p.BaseAmount + p.BaseHeld
}

// TotalQuote returns free plus held quote.
func (p Position) TotalQuote() float64 {
	return p.QuoteAmount + p.QuoteHeld
}

// TargetPosition is the desired base fraction and the signed divergence from it.
type TargetPosition struct {
	TargetBaseFraction float64   `json:"targetBaseFraction"`
	ActualBaseFraction float64   `json:"actualBaseFraction"`
	Divergence         float64   `json:"divergence"`
	Tolerance          float64   `json:"tolerance"`
	ValueBase          float64   `json:"valueBase"`
	Time               time.Time `json:"time"`
}

// Exceeded reports whether the divergence is outside the tolerance band.
func (t TargetPosition) Exceeded() bool {
	d := t.Divergence
	if d < 0 {
		d = -d
	}
	return d > t.Tolerance
}

// SafetyLimit caps quote sizes. BuySize and SellSize are the smoothed per side
// limits, the factors are the trade rate component folded into them.
type SafetyLimit struct {
	Unlimited  bool      `json:"unlimited"`
	BuySize    float64   `json:"buySize"`
	SellSize   float64   `json:"sellSize"`
	BuyFactor  float64   `json:"buyFactor"`
	SellFactor float64   `json:"sellFactor"`
	BuyRate    float64   `json:"buyRate"`
	SellRate   float64   `json:"sellRate"`
	BuyPing    float64   `json:"buyPing"`
	BuyPingSz  float64   `json:"buyPingSize"`
	SellPing   float64   `json:"sellPing"`
	SellPingSz float64   `json:"sellPingSize"`
	Time       time.Time `json:"time"`
}

// Zero reports whether the limit forbids quoting on both sides.
func (l SafetyLimit) Zero() bool {
	return !l.Unlimited && l.BuySize <= 0 && l.SellSize <= 0
}

// Side returns the limit of one side.
func (l SafetyLimit) Side(side Side) float64 {
	if side == SideAsk {
		return l.SellSize
	}
	return l.BuySize
}

// Allowed clamps a requested size on one side.
func (l SafetyLimit) Allowed(side Side, requested float64) float64 {
	if l.Unlimited {
		return requested
	}
	if limit := l.Side(side); requested > limit {
		return limit
	}
	return requested
}
