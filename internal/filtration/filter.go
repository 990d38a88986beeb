package filtration

import (
	"time"

	"marketmaker/internal/schema"
	"marketmaker/pkg/tick"
)

// DropReason tells why a sample was not forwarded.
type DropReason uint8

const (
	Accepted DropReason = iota
	DropInvalidLevel
	DropStale
	DropEmptySide
	DropCrossed
)

func (r DropReason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DropInvalidLevel:
		return "invalid_level"
	case DropStale:
		return "stale"
	case DropEmptySide:
		return "empty_side"
	case DropCrossed:
		return "crossed"
	default:
		return "unknown"
	}
}

// Filter turns raw book samples into a monotonically timestamped,
// non-crossed MarketQuote stream. It keeps no state besides the
// timestamp of the last accepted sample.
type Filter struct {
	minTick  float64
	last     time.Time
	accepted bool
}

func New(minTick float64) *Filter {
	return &Filter{minTick: minTick}
}

// Apply filters sample. Own open orders are removed from the book first so
// the engine never quotes against itself.
func (f *Filter) Apply(sample schema.MarketSample, own []schema.Order) (schema.MarketQuote, DropReason) {
	if !validLevels(sample.Bids) || !validLevels(sample.Asks) {
		return schema.MarketQuote{}, DropInvalidLevel
	}
	if f.accepted && !sample.Time.After(f.last) {
		return schema.MarketQuote{}, DropStale
	}

	bid, okBid := f.top(sample.Bids, own, schema.SideBid)
	ask, okAsk := f.top(sample.Asks, own, schema.SideAsk)
	if !okBid || !okAsk {
		return schema.MarketQuote{}, DropEmptySide
	}

	q := schema.MarketQuote{Bid: bid, Ask: ask, Time: sample.Time}
	if q.Crossed() {
		return schema.MarketQuote{}, DropCrossed
	}

	f.last, f.accepted = sample.Time, true
	return q, Accepted
}

func (f *Filter) top(levels []schema.Level, own []schema.Order, side schema.Side) (schema.Level, bool) {
	for _, lv := range levels {
		size := lv.Size
		for _, o := range own {
			if o.Side != side || !o.Status.Open() {
				continue
			}
			if tick.Equal(o.Price, lv.Price, f.minTick) {
				size -= o.Remaining()
			}
		}
		if size > 1e-12 {
			return schema.Level{Price: lv.Price, Size: size}, true
		}
	}
	return schema.Level{}, false
}

func validLevels(levels []schema.Level) bool {
	for _, lv := range levels {
		if lv.Price <= 0 || lv.Size <= 0 {
			return false
		}
	}
	return true
}
