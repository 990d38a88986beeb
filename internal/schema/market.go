package schema

import "time"

// Side describes quote and order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	switch s {
	case SideBid:
		return SideAsk
	case SideAsk:
		return SideBid
	default:
		return SideUnknown
	}
}

// Level is a single price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MarketSample is a raw order-book sample from the gateway, best level first.
type MarketSample struct {
	Bids []Level   `json:"bids"`
	Asks []Level   `json:"asks"`
	Time time.Time `json:"time"`
}

// MarketQuote is the filtered top of book. It is replaced wholesale on every tick.
type MarketQuote struct {
	Bid  Level     `json:"bid"`
	Ask  Level     `json:"ask"`
	Time time.Time `json:"time"`
}

// Mid returns the arithmetic mid price.
func (q MarketQuote) Mid() float64 {
	return (q.Bid.Price + q.Ask.Price) / 2
}

// Crossed reports whether the bid is at or above the ask.
func (q MarketQuote) Crossed() bool {
	return q.Bid.Price >= q.Ask.Price
}

// FairValue is the reference price quotes are centred on.
type FairValue struct {
	Price float64     `json:"price"`
	Time  time.Time   `json:"time"`
	Quote MarketQuote `json:"quote"`
}

// StatisticValue is the persisted state of an incremental estimator.
type StatisticValue struct {
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	Periods   int       `json:"periods"`
	Count     int       `json:"count"`
}
