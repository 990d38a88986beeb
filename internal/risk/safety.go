package risk

import (
	"math"
	"time"

	"marketmaker/internal/params"
	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
)

const maxOpenPings = 256

type ping struct {
	side  schema.Side
	price float64
	size  float64
	at    time.Time
}

// Safety derives the maximum quote size from our own trade rate and the
// volatility guard, and keeps the ledger of unmatched ping fills.
type Safety struct {
	buys   []time.Time
	sells  []time.Time
	pings  []ping
	bid    float64
	ask    float64
	seeded bool
}

func NewSafety() *Safety {
	return &Safety{}
}

// OnFill records a fill. Pong fills close opposite pings first in, first out;
// every other fill opens a ping.
func (s *Safety) OnFill(f schema.Fill) {
	switch f.Side {
	case schema.SideBid:
		s.buys = append(s.buys, f.Time)
	case schema.SideAsk:
		s.sells = append(s.sells, f.Time)
	default:
		return
	}

	if !f.Pong {
		s.pings = append(s.pings, ping{side: f.Side, price: f.Price, size: f.Size, at: f.Time})
		if len(s.pings) > maxOpenPings {
			s.pings = s.pings[len(s.pings)-maxOpenPings:]
		}
		return
	}

	left := f.Size
	opposite := f.Side.Opposite()
	kept := s.pings[:0]
	for _, p := range s.pings {
		if left > 0 && p.side == opposite {
			used := math.Min(left, p.size)
			p.size -= used
			left -= used
		}
		if p.size > 1e-12 {
			kept = append(kept, p)
		}
	}
	s.pings = kept
}

// Compute returns the current limit at time now.
func (s *Safety) Compute(now time.Time, fv float64, prot stats.Protection, p params.QuotingParameters) schema.SafetyLimit {
	window := p.TradeRateWindow()
	s.buys = trim(s.buys, now.Add(-window))
	s.sells = trim(s.sells, now.Add(-window))
	s.expire(now, p.PongExpiry())

	minutes := window.Minutes()
	out := schema.SafetyLimit{Time: now}
	if minutes > 0 {
		out.BuyRate = float64(len(s.buys)) / minutes
		out.SellRate = float64(len(s.sells)) / minutes
	}
	out.BuyFactor = rateFactor(out.BuyRate, p.TradesPerMinute)
	out.SellFactor = rateFactor(out.SellRate, p.TradesPerMinute)

	if buy, ok := s.pick(schema.SideBid, fv, p.PongAt.Short()); ok {
		out.BuyPing, out.BuyPingSz = buy.price, buy.size
	}
	if sell, ok := s.pick(schema.SideAsk, fv, p.PongAt.Short()); ok {
		out.SellPing, out.SellPingSz = sell.price, sell.size
	}

	if p.SafetyMaxSize <= 0 {
		out.Unlimited = true
		s.seeded = false
		return out
	}

	mult := prot.Multiplier
	if mult < 1 {
		mult = 1
	}
	bid := p.SafetyMaxSize * out.BuyFactor / mult
	ask := p.SafetyMaxSize * out.SellFactor / mult
	if !s.seeded {
		s.bid, s.ask, s.seeded = bid, ask, true
	} else {
		s.bid += p.SafetySmoothing * (bid - s.bid)
		s.ask += p.SafetySmoothing * (ask - s.ask)
	}

	out.BuySize = floorMin(s.bid, p.MinSize)
	out.SellSize = floorMin(s.ask, p.MinSize)
	return out
}

// floorMin resolves limits below the minimum order size to zero.
func floorMin(v, minSize float64) float64 {
	if v < minSize || v < 1e-8 {
		return 0
	}
	return v
}

func (s *Safety) expire(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cutoff := now.Add(-ttl)
	kept := s.pings[:0]
	for _, p := range s.pings {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	s.pings = kept
}

// pick chooses the open ping of side nearest to (short) or farthest from fv.
func (s *Safety) pick(side schema.Side, fv float64, short bool) (ping, bool) {
	var best ping
	found := false
	for _, p := range s.pings {
		if p.side != side {
			continue
		}
		if !found {
			best, found = p, true
			continue
		}
		d, bd := math.Abs(p.price-fv), math.Abs(best.price-fv)
		if (short && d < bd) || (!short && d > bd) {
			best = p
		}
	}
	return best, found
}

// rateFactor scales a side down once its fill rate passes the target rate,
// reaching zero at twice the target.
func rateFactor(rate, target float64) float64 {
	if target <= 0 {
		return 1
	}
	f := 2 - rate/target
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
